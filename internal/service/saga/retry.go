package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// executeWithRetry повторяет fn с экспоненциальной задержкой.
// Применяется только к операциям, которые безопасно повторять.
func executeWithRetry(ctx context.Context, cfg RetryConfig, logger *log.Entry, operation string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.WithError(lastErr).WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": cfg.MaxAttempts,
	}).Error("operation failed after all retry attempts")
	return lastErr
}

// shouldRetry: бизнес-отказы, отмена контекста и открытый breaker не повторяются.
func shouldRetry(err error) bool {
	if domain.IsBusinessRejection(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrCircuitOpen) {
		return false
	}
	return true
}

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker размыкает цепь после maxFailures подряд инфраструктурных ошибок.
// Бизнес-отказы коллаборатора (нет товара, нет остатка) не считаются сбоем.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
	now         func() time.Time
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
		now:          time.Now,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return domain.ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && !domain.IsBusinessRejection(err) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
	return err
}

// guardedProductService пропускает вызовы каталога через circuit breaker.
type guardedProductService struct {
	inner   domain.ProductService
	breaker *CircuitBreaker
}

// GuardProducts оборачивает ProductService circuit breaker'ом.
func GuardProducts(inner domain.ProductService, breaker *CircuitBreaker) domain.ProductService {
	return &guardedProductService{inner: inner, breaker: breaker}
}

func (g *guardedProductService) FindByIDs(ctx context.Context, companyID string, ids []string) ([]domain.ProductSnapshot, error) {
	var out []domain.ProductSnapshot
	err := g.breaker.Execute("find_products", func() error {
		var err error
		out, err = g.inner.FindByIDs(ctx, companyID, ids)
		return err
	})
	return out, err
}

func (g *guardedProductService) UpdateStock(ctx context.Context, update domain.StockUpdate) (domain.StockMovement, error) {
	var movement domain.StockMovement
	err := g.breaker.Execute("update_stock", func() error {
		var err error
		movement, err = g.inner.UpdateStock(ctx, update)
		return err
	})
	return movement, err
}

// guardedInvoiceService пропускает вызовы сервиса счетов через circuit breaker.
type guardedInvoiceService struct {
	inner   domain.InvoiceService
	breaker *CircuitBreaker
}

// GuardInvoices оборачивает InvoiceService circuit breaker'ом.
func GuardInvoices(inner domain.InvoiceService, breaker *CircuitBreaker) domain.InvoiceService {
	return &guardedInvoiceService{inner: inner, breaker: breaker}
}

func (g *guardedInvoiceService) CreateWithItems(ctx context.Context, draft domain.InvoiceDraft) (domain.Invoice, error) {
	var inv domain.Invoice
	err := g.breaker.Execute("create_invoice", func() error {
		var err error
		inv, err = g.inner.CreateWithItems(ctx, draft)
		return err
	})
	return inv, err
}

func (g *guardedInvoiceService) Delete(ctx context.Context, companyID, invoiceID string) error {
	return g.breaker.Execute("delete_invoice", func() error {
		return g.inner.Delete(ctx, companyID, invoiceID)
	})
}

var _ domain.ProductService = (*guardedProductService)(nil)
var _ domain.InvoiceService = (*guardedInvoiceService)(nil)
