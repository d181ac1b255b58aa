package memory

import (
	"context"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Transactor для in-memory хранилища: отката нет, fn выполняется как есть.
type Transactor struct{}

// NewTransactor создаёт транзактор без отката.
func NewTransactor() Transactor {
	return Transactor{}
}

func (Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ domain.Transactor = Transactor{}
