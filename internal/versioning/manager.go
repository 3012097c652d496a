package versioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/metrics"
)

// OperationKind задаёт тип изменения строки.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpUpdate OperationKind = "update"
	OpUpsert OperationKind = "upsert"
	OpDelete OperationKind = "delete"
)

// Operation — изменение одной строки. Для update передаются только изменяемые поля.
type Operation struct {
	Kind   OperationKind
	Entity string
	ID     string
	Data   Data
}

// CreateOptions содержит параметры создания версии.
type CreateOptions struct {
	// VersionID позволяет поместить несколько корней в одну версию.
	VersionID string
	Name      string
}

// Query описывает поиск строк по значению поля.
type Query struct {
	Entity    string
	VersionID string
	Field     string
	Value     string
	// LiveFallback добавляет live-строки, которых нет в версии и которые не удалены в ней.
	LiveFallback bool
}

// Manager реализует copy-on-write версии поверх Store.
type Manager struct {
	store   Store
	locks   LockProvider
	schema  *Schema
	metrics *metrics.VersionMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// Option настраивает Manager.
type Option func(*Manager)

// WithMetrics включает метрики версионирования.
func WithMetrics(m *metrics.VersionMetrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(mgr *Manager) {
		if logger != nil {
			mgr.logger = logger
		}
	}
}

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		if now != nil {
			mgr.now = now
		}
	}
}

// NewManager создаёт менеджер версий.
func NewManager(store Store, locks LockProvider, schema *Schema, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		locks:  locks,
		schema: schema,
		logger: log.WithField("component", "versioning"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Schema возвращает схему менеджера.
func (m *Manager) Schema() *Schema {
	return m.schema
}

// CreateVersion клонирует live-строку корня и все владеемые строки в версию.
// Каждая клонированная строка получает запись clone в журнале. Повторный вызов
// для корня, уже находящегося в версии, возвращает существующую версию.
func (m *Manager) CreateVersion(ctx context.Context, entity, id string, opts CreateOptions) (Version, error) {
	def, err := m.schema.Definition(entity)
	if err != nil {
		return Version{}, err
	}
	if !def.Versioned {
		return Version{}, fmt.Errorf("%w: entity %s is not versioned", domain.ErrInvalidArgument, entity)
	}

	versionID := opts.VersionID
	if versionID == "" {
		versionID = m.newID()
	}
	if versionID == domain.LiveVersionID {
		return Version{}, fmt.Errorf("%w: live version can not be created", domain.ErrInvalidArgument)
	}

	var version Version
	cloned := 0
	err = m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		root, err := tx.GetRow(ctx, entity, id, domain.LiveVersionID)
		if err != nil {
			return err
		}

		version, err = tx.GetVersion(ctx, versionID)
		switch {
		case errors.Is(err, domain.ErrVersionNotFound):
			version = Version{ID: versionID, Entity: entity, EntityID: id, Name: opts.Name, CreatedAt: m.now()}
			if err := tx.CreateVersion(ctx, version); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := tx.GetRow(ctx, entity, id, versionID); err == nil {
				return nil
			} else if !errors.Is(err, domain.ErrRowNotFound) {
				return err
			}
		}

		cloned, err = m.clone(ctx, tx, root, versionID)
		return err
	})
	if err != nil {
		return Version{}, err
	}

	m.metrics.RecordCreated()
	m.logger.WithFields(log.Fields{
		"version_id": version.ID,
		"entity":     entity,
		"entity_id":  id,
		"rows":       cloned,
	}).Info("version created")
	return version, nil
}

// clone обходит владеемые строки в ширину начиная с root.
func (m *Manager) clone(ctx context.Context, tx Tx, root Row, versionID string) (int, error) {
	type key struct{ entity, id string }
	visited := map[key]struct{}{{root.Entity, root.ID}: {}}
	queue := []Row{root}
	count := 0

	for len(queue) > 0 {
		row := queue[0]
		queue = queue[1:]

		copied := row.Clone()
		copied.VersionID = versionID
		if err := tx.PutRow(ctx, copied); err != nil {
			return count, err
		}
		if _, err := tx.AppendCommit(ctx, CommitEntry{
			VersionID: versionID,
			Entity:    row.Entity,
			EntityID:  row.ID,
			Action:    ActionClone,
			Payload:   row.Data.Clone(),
			CreatedAt: m.now(),
		}); err != nil {
			return count, err
		}
		count++

		for _, child := range m.schema.children[row.Entity] {
			if def := m.schema.defs[child.entity]; !def.Versioned {
				continue
			}
			rows, err := tx.FindRows(ctx, child.entity, domain.LiveVersionID, child.fk.Field, row.ID)
			if err != nil {
				return count, err
			}
			for _, r := range rows {
				k := key{r.Entity, r.ID}
				if _, seen := visited[k]; seen {
					continue
				}
				visited[k] = struct{}{}
				queue = append(queue, r)
			}
		}
	}
	return count, nil
}

// Write применяет изменения в версии атомарно. Вставки и обновления идут
// в порядке зависимостей внешних ключей, удаления в обратном порядке с
// каскадом на владеемые строки. В live-версии журнал не ведётся.
func (m *Manager) Write(ctx context.Context, versionID string, ops ...Operation) error {
	if len(ops) == 0 {
		return nil
	}
	var upserts, deletes []Operation
	for _, op := range ops {
		def, err := m.schema.Definition(op.Entity)
		if err != nil {
			return err
		}
		if op.ID == "" {
			return fmt.Errorf("%w: %s row id is required", domain.ErrInvalidArgument, op.Entity)
		}
		if !def.Versioned && versionID != domain.LiveVersionID {
			return fmt.Errorf("%w: entity %s is written only in live version", domain.ErrInvalidArgument, op.Entity)
		}
		switch op.Kind {
		case OpInsert, OpUpdate, OpUpsert:
			upserts = append(upserts, op)
		case OpDelete:
			deletes = append(deletes, op)
		default:
			return fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidArgument, op.Kind)
		}
	}

	ordered, err := m.dependencyOrder(upserts)
	if err != nil {
		return err
	}
	sort.SliceStable(deletes, func(i, j int) bool {
		return m.schema.Rank(deletes[i].Entity) > m.schema.Rank(deletes[j].Entity)
	})

	return m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if versionID != domain.LiveVersionID {
			if _, err := tx.GetVersion(ctx, versionID); err != nil {
				return err
			}
		}
		for _, op := range ordered {
			if err := m.applyUpsert(ctx, tx, versionID, op); err != nil {
				return err
			}
		}
		for _, op := range deletes {
			if err := m.applyDelete(ctx, tx, versionID, op.Entity, op.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// dependencyOrder упорядочивает вставки так, что строка, на которую ссылаются
// другие строки пакета, применяется раньше них (алгоритм Кана).
func (m *Manager) dependencyOrder(ops []Operation) ([]Operation, error) {
	type key struct{ entity, id string }
	index := make(map[key]int, len(ops))
	for i, op := range ops {
		index[key{op.Entity, op.ID}] = i
	}

	indegree := make([]int, len(ops))
	edges := make([][]int, len(ops))
	for i, op := range ops {
		def := m.schema.defs[op.Entity]
		for _, fk := range def.ForeignKeys {
			target, ok := op.Data.String(fk.Field)
			if !ok {
				continue
			}
			j, ok := index[key{fk.Reference, target}]
			if !ok || j == i {
				continue
			}
			edges[j] = append(edges[j], i)
			indegree[i]++
		}
	}

	var ready []int
	for i := range ops {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]Operation, 0, len(ops))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(a, b int) bool {
			ra, rb := m.schema.Rank(ops[ready[a]].Entity), m.schema.Rank(ops[ready[b]].Entity)
			if ra != rb {
				return ra < rb
			}
			return ready[a] < ready[b]
		})
		i := ready[0]
		ready = ready[1:]
		out = append(out, ops[i])
		for _, next := range edges[i] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(out) != len(ops) {
		return nil, fmt.Errorf("%w: rows of the batch reference each other in a cycle", domain.ErrForeignKeyViolation)
	}
	return out, nil
}

func (m *Manager) applyUpsert(ctx context.Context, tx Tx, versionID string, op Operation) error {
	existing, err := tx.GetRow(ctx, op.Entity, op.ID, versionID)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrRowNotFound) {
		return err
	}

	switch {
	case op.Kind == OpInsert && exists:
		return fmt.Errorf("%w: %s %s", domain.ErrRowExists, op.Entity, op.ID)
	case op.Kind == OpUpdate && !exists:
		return fmt.Errorf("%w: %s %s", domain.ErrRowNotFound, op.Entity, op.ID)
	}

	action := ActionInsert
	data := op.Data.Clone()
	payload := op.Data.Clone()
	if exists {
		action = ActionUpdate
		data = existing.Data.Clone()
		payload = Data{}
		for field, value := range op.Data {
			if current, ok := existing.Data[field]; ok && sameValue(current, value) {
				continue
			}
			data[field] = append([]byte(nil), value...)
			payload[field] = append([]byte(nil), value...)
		}
		if len(payload) == 0 {
			return nil
		}
	}

	if err := m.checkForeignKeys(ctx, tx, versionID, op.Entity, op.ID, data); err != nil {
		return err
	}
	if err := tx.PutRow(ctx, Row{Entity: op.Entity, ID: op.ID, VersionID: versionID, Data: data}); err != nil {
		return err
	}
	return m.record(ctx, tx, versionID, op.Entity, op.ID, action, payload)
}

func (m *Manager) checkForeignKeys(ctx context.Context, tx Tx, versionID, entity, id string, data Data) error {
	for _, fk := range m.schema.defs[entity].ForeignKeys {
		target, ok := data.String(fk.Field)
		if !ok {
			if fk.Nullable {
				continue
			}
			return fmt.Errorf("%w: %s %s requires %s", domain.ErrForeignKeyViolation, entity, id, fk.Field)
		}
		targetVersion := versionID
		if !m.schema.defs[fk.Reference].Versioned {
			targetVersion = domain.LiveVersionID
		}
		if _, err := tx.GetRow(ctx, fk.Reference, target, targetVersion); err != nil {
			if errors.Is(err, domain.ErrRowNotFound) {
				return fmt.Errorf("%w: %s %s.%s references missing %s %s", domain.ErrForeignKeyViolation, entity, id, fk.Field, fk.Reference, target)
			}
			return err
		}
	}
	return nil
}

// applyDelete удаляет строку и владеемые ею строки; отсутствующая строка пропускается.
func (m *Manager) applyDelete(ctx context.Context, tx Tx, versionID, entity, id string) error {
	if _, err := tx.GetRow(ctx, entity, id, versionID); err != nil {
		if errors.Is(err, domain.ErrRowNotFound) {
			return nil
		}
		return err
	}

	for _, child := range m.schema.children[entity] {
		rows, err := tx.FindRows(ctx, child.entity, versionID, child.fk.Field, id)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.Entity == entity && r.ID == id {
				continue
			}
			if err := m.applyDelete(ctx, tx, versionID, r.Entity, r.ID); err != nil {
				return err
			}
		}
	}

	for _, ref := range m.schema.refs[entity] {
		if ref.fk.Cascade {
			continue
		}
		rows, err := tx.FindRows(ctx, ref.entity, versionID, ref.fk.Field, id)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			return fmt.Errorf("%w: %s %s is referenced by %s %s", domain.ErrForeignKeyViolation, entity, id, ref.entity, rows[0].ID)
		}
	}

	if err := tx.DeleteRow(ctx, entity, id, versionID); err != nil {
		return err
	}
	return m.record(ctx, tx, versionID, entity, id, ActionDelete, nil)
}

func (m *Manager) record(ctx context.Context, tx Tx, versionID, entity, id string, action Action, payload Data) error {
	if versionID == domain.LiveVersionID {
		return nil
	}
	_, err := tx.AppendCommit(ctx, CommitEntry{
		VersionID: versionID,
		Entity:    entity,
		EntityID:  id,
		Action:    action,
		Payload:   payload,
		CreatedAt: m.now(),
	})
	return err
}

// Get читает строку строго из указанной версии.
func (m *Manager) Get(ctx context.Context, entity, id, versionID string) (Row, error) {
	if _, err := m.schema.Definition(entity); err != nil {
		return Row{}, err
	}
	var row Row
	err := m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		row, err = tx.GetRow(ctx, entity, id, versionID)
		return err
	})
	return row, err
}

// Find ищет строки версии по значению поля.
func (m *Manager) Find(ctx context.Context, q Query) ([]Row, error) {
	if _, err := m.schema.Definition(q.Entity); err != nil {
		return nil, err
	}
	var rows []Row
	err := m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		rows, err = tx.FindRows(ctx, q.Entity, q.VersionID, q.Field, q.Value)
		if err != nil || !q.LiveFallback || q.VersionID == domain.LiveVersionID {
			return err
		}

		hidden := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			hidden[r.ID] = struct{}{}
		}
		commits, err := tx.Commits(ctx, q.VersionID)
		if err != nil {
			return err
		}
		for _, c := range commits {
			if c.Entity == q.Entity && c.Action == ActionDelete {
				hidden[c.EntityID] = struct{}{}
			}
		}

		live, err := tx.FindRows(ctx, q.Entity, domain.LiveVersionID, q.Field, q.Value)
		if err != nil {
			return err
		}
		for _, r := range live {
			if _, ok := hidden[r.ID]; !ok {
				rows = append(rows, r)
			}
		}
		return nil
	})
	return rows, err
}

// Version возвращает запись версии.
func (m *Manager) Version(ctx context.Context, versionID string) (Version, error) {
	var v Version
	err := m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		v, err = tx.GetVersion(ctx, versionID)
		return err
	})
	return v, err
}

// Commits возвращает журнал версии в порядке записи.
func (m *Manager) Commits(ctx context.Context, versionID string) ([]CommitEntry, error) {
	var commits []CommitEntry
	err := m.store.Tx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetVersion(ctx, versionID); err != nil {
			return err
		}
		var err error
		commits, err = tx.Commits(ctx, versionID)
		return err
	})
	return commits, err
}
