package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig задаёт параметры пула соединений.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig возвращает параметры пула по умолчанию.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open открывает подключение к PostgreSQL с пулом по умолчанию.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, DefaultPoolConfig())
}

// OpenWithPool открывает подключение и проверяет доступность базы.
func OpenWithPool(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	defaults := DefaultPoolConfig()
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = defaults.MaxOpenConns
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = defaults.MaxIdleConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type txKey struct{}

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn возвращает транзакцию из ctx, если репозиторий вызван внутри WithinTransaction.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTransaction выполняет fn в транзакции. Вложенный вызов переиспользует
// внешнюю транзакцию.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ domain.Transactor = (*Store)(nil)
