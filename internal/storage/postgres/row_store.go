package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

const uniqueViolation = "23505"

// RowStore — PostgreSQL-реализация versioning.Store.
// Строки хранятся в entity_rows как JSONB, журнал версии в version_commits.
type RowStore struct {
	db *sql.DB
}

// NewRowStore создаёт хранилище строк поверх Store.
func NewRowStore(store *Store) *RowStore {
	return &RowStore{db: store.DB()}
}

// Tx выполняет fn в SQL-транзакции; ошибка fn откатывает её.
func (s *RowStore) Tx(ctx context.Context, fn func(ctx context.Context, tx versioning.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin row tx: %w", err)
	}
	if err := fn(ctx, &rowTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit row tx: %w", err)
	}
	return nil
}

type rowTx struct {
	tx *sql.Tx
}

func (t *rowTx) GetRow(ctx context.Context, entity, id, versionID string) (versioning.Row, error) {
	var raw []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT data
		FROM entity_rows
		WHERE entity = $1 AND id = $2 AND version_id = $3
	`, entity, id, versionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return versioning.Row{}, fmt.Errorf("%w: %s %s", domain.ErrRowNotFound, entity, id)
	}
	if err != nil {
		return versioning.Row{}, fmt.Errorf("get row %s %s: %w", entity, id, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return versioning.Row{}, err
	}
	return versioning.Row{Entity: entity, ID: id, VersionID: versionID, Data: data}, nil
}

func (t *rowTx) FindRows(ctx context.Context, entity, versionID, field, value string) ([]versioning.Row, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, data
		FROM entity_rows
		WHERE entity = $1 AND version_id = $2 AND data->>$3 = $4
		ORDER BY id
	`, entity, versionID, field, value)
	if err != nil {
		return nil, fmt.Errorf("find %s rows: %w", entity, err)
	}
	defer rows.Close()

	var out []versioning.Row
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", entity, err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, versioning.Row{Entity: entity, ID: id, VersionID: versionID, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", entity, err)
	}
	return out, nil
}

func (t *rowTx) PutRow(ctx context.Context, row versioning.Row) error {
	raw, err := json.Marshal(row.Data)
	if err != nil {
		return fmt.Errorf("encode row %s %s: %w", row.Entity, row.ID, err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO entity_rows (entity, id, version_id, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (entity, id, version_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, row.Entity, row.ID, row.VersionID, raw); err != nil {
		return fmt.Errorf("put row %s %s: %w", row.Entity, row.ID, err)
	}
	return nil
}

func (t *rowTx) DeleteRow(ctx context.Context, entity, id, versionID string) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM entity_rows
		WHERE entity = $1 AND id = $2 AND version_id = $3
	`, entity, id, versionID)
	if err != nil {
		return fmt.Errorf("delete row %s %s: %w", entity, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for delete %s %s: %w", entity, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrRowNotFound, entity, id)
	}
	return nil
}

func (t *rowTx) DeleteVersionRows(ctx context.Context, versionID string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM entity_rows WHERE version_id = $1`, versionID)
	if err != nil {
		return 0, fmt.Errorf("delete rows of version %s: %w", versionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for version %s: %w", versionID, err)
	}
	return int(affected), nil
}

func (t *rowTx) CreateVersion(ctx context.Context, v versioning.Version) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entity_versions (id, entity, entity_id, name, last_sequence, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, v.ID, v.Entity, v.EntityID, v.Name, v.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: version %s", domain.ErrRowExists, v.ID)
	}
	if err != nil {
		return fmt.Errorf("create version %s: %w", v.ID, err)
	}
	return nil
}

func (t *rowTx) GetVersion(ctx context.Context, id string) (versioning.Version, error) {
	v := versioning.Version{ID: id}
	err := t.tx.QueryRowContext(ctx, `
		SELECT entity, entity_id, name, created_at
		FROM entity_versions
		WHERE id = $1
	`, id).Scan(&v.Entity, &v.EntityID, &v.Name, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return versioning.Version{}, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
	}
	if err != nil {
		return versioning.Version{}, fmt.Errorf("get version %s: %w", id, err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

func (t *rowTx) DeleteVersion(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM entity_versions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete version %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for version %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
	}
	return nil
}

// AppendCommit берёт номер из entity_versions.last_sequence: блокировка
// строки версии упорядочивает параллельные записи в одну версию.
func (t *rowTx) AppendCommit(ctx context.Context, entry versioning.CommitEntry) (versioning.CommitEntry, error) {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE entity_versions
		SET last_sequence = last_sequence + 1
		WHERE id = $1
		RETURNING last_sequence
	`, entry.VersionID).Scan(&entry.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		return versioning.CommitEntry{}, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, entry.VersionID)
	}
	if err != nil {
		return versioning.CommitEntry{}, fmt.Errorf("next commit sequence: %w", err)
	}

	var payload []byte
	if entry.Payload != nil {
		if payload, err = json.Marshal(entry.Payload); err != nil {
			return versioning.CommitEntry{}, fmt.Errorf("encode commit payload: %w", err)
		}
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO version_commits (version_id, sequence, entity, entity_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.VersionID, entry.Sequence, entry.Entity, entry.EntityID, string(entry.Action), payload, entry.CreatedAt.UTC()); err != nil {
		return versioning.CommitEntry{}, fmt.Errorf("append commit: %w", err)
	}
	entry.Payload = entry.Payload.Clone()
	return entry, nil
}

func (t *rowTx) Commits(ctx context.Context, versionID string) ([]versioning.CommitEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT sequence, entity, entity_id, action, payload, created_at
		FROM version_commits
		WHERE version_id = $1
		ORDER BY sequence
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list commits of %s: %w", versionID, err)
	}
	defer rows.Close()

	var out []versioning.CommitEntry
	for rows.Next() {
		entry := versioning.CommitEntry{VersionID: versionID}
		var (
			action string
			raw    []byte
		)
		if err := rows.Scan(&entry.Sequence, &entry.Entity, &entry.EntityID, &action, &raw, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		entry.Action = versioning.Action(action)
		entry.CreatedAt = entry.CreatedAt.UTC()
		if raw != nil {
			if entry.Payload, err = decodeData(raw); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return out, nil
}

func (t *rowTx) DeleteCommits(ctx context.Context, versionID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM version_commits WHERE version_id = $1`, versionID); err != nil {
		return fmt.Errorf("delete commits of %s: %w", versionID, err)
	}
	return nil
}

func decodeData(raw []byte) (versioning.Data, error) {
	var data versioning.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode row data: %w", err)
	}
	if data == nil {
		data = versioning.Data{}
	}
	return data, nil
}

var _ versioning.Store = (*RowStore)(nil)
