package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresVersioningSchemaLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100), "reset migration state")
	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, MigrationState{Pending: []string{"0001_versioning", "0002_events"}}, state)

	require.NoError(t, store.MigrateUp(ctx, 1))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, []string{"0002_events"}, state.Pending)
	assert.Empty(t, state.MissingTables)

	// Таблицы версий уже есть, outbox ещё нет.
	tables, err := existingTables(ctx, store.DB())
	require.NoError(t, err)
	assert.True(t, tables["entity_rows"] && tables["version_commits"] && tables["entity_versions"])
	assert.False(t, tables["outbox_messages"])

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "repeated ensure is a no-op")
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, MigrationState{Version: 2, Applied: 2}, state)

	// Таблица, удалённая в обход миграций, видна в статусе и ломает EnsureSchema.
	_, err = store.DB().ExecContext(ctx, `DROP TABLE timeline_events`)
	require.NoError(t, err)
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"timeline_events"}, state.MissingTables)
	require.Error(t, store.EnsureSchema(ctx))

	_, err = store.DB().ExecContext(ctx, `CREATE TABLE timeline_events (id BIGSERIAL PRIMARY KEY, order_id TEXT NOT NULL, type TEXT NOT NULL, reason TEXT NOT NULL DEFAULT '', occurred TIMESTAMPTZ NOT NULL)`)
	require.NoError(t, err)

	require.NoError(t, store.MigrateDown(ctx, 0))
	state, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	tables, err = existingTables(ctx, store.DB())
	require.NoError(t, err)
	assert.False(t, tables["outbox_messages"], "down part of 0002_events drops outbox")

	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_RollbackOfUnknownVersionFails(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (99, 'foreign')`)
	require.NoError(t, err)
	defer func() {
		_, _ = store.DB().ExecContext(context.Background(), `DELETE FROM schema_migrations WHERE version = 99`)
	}()

	err = store.MigrateDown(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration version 99")

	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(99), state.Version)
	assert.Equal(t, 3, state.Applied)
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.ErrorIs(t, nilStore.MigrateUp(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, nilStore.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := nilStore.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)

	raw := openRawPostgresStoreForIntegrationTest(t)
	err = raw.migrate(ctx, migrationDirection("sideways"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported migration direction")
}
