package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, "co:sale-key-1", "hash-1", ttl)
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected status %s, got %s", domain.IdempotencyStatusProcessing, created.Status)
	}

	got, err := repo.Get(ctx, "co:sale-key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RequestHash != "hash-1" || !got.TTLAt.Equal(ttl) {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := repo.CreateProcessing(ctx, " ", "hash", ttl); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "k", "", ttl); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing(ctx, "key-2", "hash-a", ttl); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "key-2", "hash-a", ttl); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "key-2", "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepository_ExpiredKeyCanBeReused(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()

	if _, err := repo.CreateProcessing(ctx, "key-3", "hash-a", time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "key-3", "hash-b", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("expired key must be reusable, got %v", err)
	}
}

func TestIdempotencyRepository_MarkDoneAndDeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ctx := context.Background()

	if _, err := repo.CreateProcessing(ctx, "idem-expired", "hash-expired", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateProcessing expired failed: %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "idem-active", "hash-active", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("CreateProcessing active failed: %v", err)
	}

	if err := repo.MarkDone(ctx, "idem-active", []byte(`{"sale_id":"s1"}`), 0); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing", nil, 9); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}

	active, err := repo.Get(ctx, "idem-active")
	if err != nil {
		t.Fatalf("Get active failed: %v", err)
	}
	if active.Status != domain.IdempotencyStatusDone || string(active.ResponseBody) != `{"sale_id":"s1"}` {
		t.Fatalf("unexpected record %+v", active)
	}

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1, got %d", removed)
	}
	if _, err := repo.Get(ctx, "idem-expired"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected expired key to be deleted, got %v", err)
	}
}
