package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

var errTemporary = errors.New("temporary failure")

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("test", "saga")
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected MaxAttempts: %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay <= 0 || cfg.MaxDelay <= 0 {
		t.Fatalf("delays must be positive: %+v", cfg)
	}
	if cfg.BackoffFactor <= 1 {
		t.Fatalf("backoff factor should be > 1: %f", cfg.BackoffFactor)
	}
}

func TestExecuteWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retry then success", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(ctx, fastRetry(), testLogger(), "op", func() error {
			attempts++
			if attempts < 3 {
				return errTemporary
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("business rejection is not retried", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(ctx, fastRetry(), testLogger(), "op", func() error {
			attempts++
			return &domain.ProductNotFoundError{ProductID: "p-1"}
		})
		if !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("expected product not found, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("expected single attempt, got %d", attempts)
		}
	})

	t.Run("open circuit is not retried", func(t *testing.T) {
		attempts := 0
		_ = executeWithRetry(ctx, fastRetry(), testLogger(), "op", func() error {
			attempts++
			return domain.ErrCircuitOpen
		})
		if attempts != 1 {
			t.Fatalf("expected single attempt, got %d", attempts)
		}
	})

	t.Run("exhausted attempts return last error", func(t *testing.T) {
		attempts := 0
		err := executeWithRetry(ctx, fastRetry(), testLogger(), "op", func() error {
			attempts++
			return errTemporary
		})
		if !errors.Is(err, errTemporary) {
			t.Fatalf("expected temporary error, got %v", err)
		}
		if attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}
		attempts := 0
		err := executeWithRetry(cctx, cfg, testLogger(), "op", func() error {
			attempts++
			cancel()
			return errTemporary
		})
		if !errors.Is(err, context.Canceled) || !errors.Is(err, errTemporary) {
			t.Fatalf("expected joined cancel and cause, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("expected single attempt, got %d", attempts)
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute, testLogger())
	cb.now = func() time.Time { return now }

	if err := cb.Execute("op", func() error { return errTemporary }); !errors.Is(err, errTemporary) {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after first failure, got %s", cb.State())
	}
	_ = cb.Execute("op", func() error { return errTemporary })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute("op", func() error { called = true; return nil })
	if !errors.Is(err, domain.ErrCircuitOpen) || called {
		t.Fatalf("open breaker must short-circuit: err=%v called=%v", err, called)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute("op", func() error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerIgnoresBusinessRejections(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, nil)

	for i := 0; i < 3; i++ {
		err := cb.Execute("op", func() error {
			return &domain.InsufficientStockError{ProductID: "p", Requested: 5, Available: 1}
		})
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("business rejections must not open the circuit, got %s", cb.State())
	}
}

func TestGuardedServices(t *testing.T) {
	products := newStubProducts()
	products.findErr = errTemporary
	invoices := &stubInvoices{createErr: errTemporary}

	cb := NewCircuitBreaker(2, time.Minute, testLogger())
	guardedProducts := GuardProducts(products, cb)
	guardedInvoices := GuardInvoices(invoices, cb)

	ctx := context.Background()
	_, _ = guardedProducts.FindByIDs(ctx, "c-1", []string{"p-1"})
	_, _ = guardedInvoices.CreateWithItems(ctx, domain.InvoiceDraft{})

	if _, err := guardedProducts.UpdateStock(ctx, domain.StockUpdate{}); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if err := guardedInvoices.Delete(ctx, "c-1", "inv-1"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if products.updateCalls != 0 || invoices.deleteCalls != 0 {
		t.Fatalf("open circuit must not reach collaborators: update=%d delete=%d", products.updateCalls, invoices.deleteCalls)
	}
}
