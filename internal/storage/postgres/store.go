package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
)

const (
	opTimeout          = 5 * time.Second
	defaultConnTimeout = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig задаёт размер пула database/sql поверх pgx.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig рассчитан на один инстанс сервиса: merge держит
// соединение на всю транзакцию, advisory-блокировки занимают ещё по одному.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store оборачивает SQL-подключение к PostgreSQL: строки версий,
// журнал изменений, outbox и timeline живут в одной базе.
type Store struct {
	db     *sql.DB
	logger *log.Entry
}

// Option настраивает Store.
type Option func(*storeOptions)

type storeOptions struct {
	pool   PoolConfig
	logger *log.Entry
}

// WithPool переопределяет настройки пула.
func WithPool(pool PoolConfig) Option {
	return func(o *storeOptions) {
		o.pool = pool
	}
}

// WithLogger задаёт логгер миграций.
func WithLogger(logger *log.Entry) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open разбирает DSN драйвером pgx, открывает пул и проверяет доступность базы.
// Некорректный DSN возвращает domain.ErrInvalidArgument без попытки подключения.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := storeOptions{pool: DefaultPoolConfig(), logger: log.WithField("component", "postgres")}
	for _, opt := range opts {
		opt(&o)
	}

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse postgres dsn: %v", domain.ErrInvalidArgument, err)
	}
	if connConfig.ConnectTimeout == 0 {
		connConfig.ConnectTimeout = defaultConnTimeout
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(o.pool.MaxOpenConns)
	db.SetMaxIdleConns(o.pool.MaxIdleConns)
	db.SetConnMaxLifetime(o.pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(o.pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", connConfig.Host, connConfig.Port, err)
	}

	logger := o.logger.WithFields(log.Fields{"host": connConfig.Host, "database": connConfig.Database})
	logger.Debug("postgres store opened")
	return &Store{db: db, logger: logger}, nil
}

// DB возвращает пул для репозиториев пакета.
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

// EnsureSchema применяет все up-миграции и проверяет, что таблицы,
// создаваемые применёнными миграциями, существуют.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.MigrateUp(ctx, 0); err != nil {
		return err
	}
	state, err := s.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	if len(state.MissingTables) > 0 {
		return fmt.Errorf("schema is incomplete after migrations, missing tables: %v", state.MissingTables)
	}
	return nil
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
