package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultCheckTimeout = 2 * time.Second

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check — результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет компонент. ctx ограничен таймаутом обработчика.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler обрабатывает /healthz и /readyz.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startTime time.Time
}

// NewHandler создаёт health handler.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   defaultCheckTimeout,
		startTime: time.Now(),
	}
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Evaluate выполняет все проверки и сводит их в общий статус.
func (h *Handler) Evaluate(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := make(map[string]Check, len(checkers))
	overall := StatusHealthy
	for name, checker := range checkers {
		check := checker.Check(ctx)
		checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall, checks
}

// ServeHTTP отдаёт подробный отчёт. degraded считается рабочим состоянием.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Evaluate(r.Context())

	response := Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler возвращает 503, пока хотя бы одна проверка unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if overall, _ := h.Evaluate(r.Context()); overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker считает компонент здоровым, пока ping не возвращает ошибку.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker создаёт проверку доступности (PostgreSQL, Kafka).
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.ping(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// OutboxChecker следит за backlog transactional outbox. Застрявшие события
// переводят сервис в degraded, ошибка чтения статистики в unhealthy.
type OutboxChecker struct {
	stats      func(ctx context.Context) (domain.OutboxStats, error)
	maxPending int
	maxAge     time.Duration
	now        func() time.Time
}

// NewOutboxChecker создаёт проверку backlog. Нулевые пороги не проверяются.
func NewOutboxChecker(stats func(ctx context.Context) (domain.OutboxStats, error), maxPending int, maxAge time.Duration) *OutboxChecker {
	return &OutboxChecker{
		stats:      stats,
		maxPending: maxPending,
		maxAge:     maxAge,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *OutboxChecker) Check(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "outbox", Status: StatusHealthy}

	stats, err := c.stats(ctx)
	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	case c.maxPending > 0 && stats.PendingCount > c.maxPending:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d pending events", stats.PendingCount)
	case c.maxAge > 0 && !stats.OldestPendingAt.IsZero() && c.now().Sub(stats.OldestPendingAt) > c.maxAge:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("oldest pending event is %s old", c.now().Sub(stats.OldestPendingAt).Truncate(time.Second))
	}
	check.DurationMs = time.Since(start).Milliseconds()
	return check
}

// BreakerChecker переводит сервис в degraded, пока circuit breaker коллаборатора открыт.
type BreakerChecker struct {
	name  string
	state func() string
}

// NewBreakerChecker создаёт проверку; state возвращает "closed", "open" или "half-open".
func NewBreakerChecker(name string, state func() string) *BreakerChecker {
	return &BreakerChecker{name: name, state: state}
}

func (c *BreakerChecker) Check(context.Context) Check {
	state := c.state()
	check := Check{Name: c.name, Status: StatusHealthy, Message: state}
	if state == "open" {
		check.Status = StatusDegraded
	}
	return check
}
