package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

type rowKey struct {
	entity  string
	id      string
	version string
}

// rowState — снимок всех данных хранилища.
type rowState struct {
	rows     map[rowKey]versioning.Row
	versions map[string]versioning.Version
	commits  map[string][]versioning.CommitEntry
	seq      map[string]int64
}

func (s *rowState) clone() *rowState {
	out := &rowState{
		rows:     make(map[rowKey]versioning.Row, len(s.rows)),
		versions: make(map[string]versioning.Version, len(s.versions)),
		commits:  make(map[string][]versioning.CommitEntry, len(s.commits)),
		seq:      make(map[string]int64, len(s.seq)),
	}
	for k, row := range s.rows {
		out.rows[k] = row
	}
	for k, v := range s.versions {
		out.versions[k] = v
	}
	for k, entries := range s.commits {
		out.commits[k] = append([]versioning.CommitEntry(nil), entries...)
	}
	for k, n := range s.seq {
		out.seq[k] = n
	}
	return out
}

// RowStore — in-memory реализация versioning.Store.
// Транзакция работает с копией состояния и подменяет его при успехе,
// транзакции выполняются последовательно.
type RowStore struct {
	mu    sync.Mutex
	state *rowState
}

// NewRowStore создаёт пустое хранилище строк.
func NewRowStore() *RowStore {
	return &RowStore{state: (&rowState{}).clone()}
}

// Tx выполняет fn над копией состояния.
func (s *RowStore) Tx(ctx context.Context, fn func(ctx context.Context, tx versioning.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &rowTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

type rowTx struct {
	state *rowState
}

func (t *rowTx) GetRow(_ context.Context, entity, id, versionID string) (versioning.Row, error) {
	row, ok := t.state.rows[rowKey{entity, id, versionID}]
	if !ok {
		return versioning.Row{}, fmt.Errorf("%w: %s %s", domain.ErrRowNotFound, entity, id)
	}
	return row.Clone(), nil
}

func (t *rowTx) FindRows(_ context.Context, entity, versionID, field, value string) ([]versioning.Row, error) {
	var out []versioning.Row
	for k, row := range t.state.rows {
		if k.entity != entity || k.version != versionID {
			continue
		}
		if v, ok := row.Data.String(field); ok && v == value {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *rowTx) PutRow(_ context.Context, row versioning.Row) error {
	t.state.rows[rowKey{row.Entity, row.ID, row.VersionID}] = row.Clone()
	return nil
}

func (t *rowTx) DeleteRow(_ context.Context, entity, id, versionID string) error {
	k := rowKey{entity, id, versionID}
	if _, ok := t.state.rows[k]; !ok {
		return fmt.Errorf("%w: %s %s", domain.ErrRowNotFound, entity, id)
	}
	delete(t.state.rows, k)
	return nil
}

func (t *rowTx) DeleteVersionRows(_ context.Context, versionID string) (int, error) {
	n := 0
	for k := range t.state.rows {
		if k.version == versionID {
			delete(t.state.rows, k)
			n++
		}
	}
	return n, nil
}

func (t *rowTx) CreateVersion(_ context.Context, v versioning.Version) error {
	if _, ok := t.state.versions[v.ID]; ok {
		return fmt.Errorf("%w: version %s", domain.ErrRowExists, v.ID)
	}
	t.state.versions[v.ID] = v
	return nil
}

func (t *rowTx) GetVersion(_ context.Context, id string) (versioning.Version, error) {
	v, ok := t.state.versions[id]
	if !ok {
		return versioning.Version{}, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
	}
	return v, nil
}

func (t *rowTx) DeleteVersion(_ context.Context, id string) error {
	if _, ok := t.state.versions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
	}
	delete(t.state.versions, id)
	return nil
}

func (t *rowTx) AppendCommit(_ context.Context, entry versioning.CommitEntry) (versioning.CommitEntry, error) {
	t.state.seq[entry.VersionID]++
	entry.Sequence = t.state.seq[entry.VersionID]
	entry.Payload = entry.Payload.Clone()
	t.state.commits[entry.VersionID] = append(t.state.commits[entry.VersionID], entry)
	return entry, nil
}

func (t *rowTx) Commits(_ context.Context, versionID string) ([]versioning.CommitEntry, error) {
	entries := t.state.commits[versionID]
	out := make([]versioning.CommitEntry, len(entries))
	for i, e := range entries {
		e.Payload = e.Payload.Clone()
		out[i] = e
	}
	return out, nil
}

func (t *rowTx) DeleteCommits(_ context.Context, versionID string) error {
	delete(t.state.commits, versionID)
	delete(t.state.seq, versionID)
	return nil
}

var _ versioning.Store = (*RowStore)(nil)
