package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

// Locker выдаёт именованные блокировки в пределах процесса.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker создаёт пустой набор блокировок.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryAcquire захватывает key без ожидания.
func (l *Locker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}

var _ versioning.LockProvider = (*Locker)(nil)
