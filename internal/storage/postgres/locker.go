package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

// AdvisoryLocker выдаёт именованные блокировки через pg_try_advisory_lock.
// Блокировка сессионная, поэтому держит выделенное соединение до release.
type AdvisoryLocker struct {
	db     *sql.DB
	logger *log.Entry
}

// NewAdvisoryLocker создаёт провайдер блокировок поверх Store.
func NewAdvisoryLocker(store *Store) *AdvisoryLocker {
	return &AdvisoryLocker{db: store.DB(), logger: log.WithField("component", "postgres-locker")}
}

// TryAcquire захватывает key без ожидания.
func (l *AdvisoryLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	lockKey := advisoryKey(key)
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("try advisory lock %q: %w", key, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, lockKey); err != nil {
				l.logger.WithError(err).WithField("key", key).Warn("failed to release advisory lock")
				// Сессия с неснятой блокировкой не должна вернуться в пул.
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
			_ = conn.Close()
		})
	}
	return release, true, nil
}

// advisoryKey сводит имя блокировки к ключу bigint.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

var _ versioning.LockProvider = (*AdvisoryLocker)(nil)
