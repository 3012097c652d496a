package postgres

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddedMigrations копирует встроенный набор миграций в MapFS,
// чтобы тесты могли портить отдельные файлы.
func embeddedMigrations(t *testing.T) fstest.MapFS {
	t.Helper()

	files, err := fs.Glob(migrationsFS, migrationsGlob)
	require.NoError(t, err)
	out := fstest.MapFS{}
	for _, file := range files {
		body, err := fs.ReadFile(migrationsFS, file)
		require.NoError(t, err)
		out[file] = &fstest.MapFile{Data: body}
	}
	return out
}

func TestLoadMigrations_EmbeddedSet(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "0001_versioning", migrations[0].label())
	assert.ElementsMatch(t, []string{"entity_versions", "entity_rows", "version_commits"}, migrations[0].Tables)
	assert.Equal(t, "0002_events", migrations[1].label())
	assert.ElementsMatch(t, []string{"outbox_messages", "timeline_events"}, migrations[1].Tables)
	assert.Contains(t, migrations[1].UpSQL, "last_error")
}

func TestLoadMigrations_RejectsBrokenSets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(fstest.MapFS)
		wantErr string
	}{
		{
			name:    "missing down part",
			mutate:  func(m fstest.MapFS) { delete(m, "sql/migrations/0002_events.down.sql") },
			wantErr: "both up and down",
		},
		{
			name: "version gap",
			mutate: func(m fstest.MapFS) {
				m["sql/migrations/0004_archive.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE archived_versions (id TEXT);")}
				m["sql/migrations/0004_archive.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE IF EXISTS archived_versions;")}
			},
			wantErr: "contiguous",
		},
		{
			name: "down does not drop created table",
			mutate: func(m fstest.MapFS) {
				m["sql/migrations/0002_events.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE IF EXISTS outbox_messages;")}
			},
			wantErr: "does not drop it",
		},
		{
			name: "table created twice",
			mutate: func(m fstest.MapFS) {
				m["sql/migrations/0003_rows_again.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE IF NOT EXISTS entity_rows (id TEXT);")}
				m["sql/migrations/0003_rows_again.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE IF EXISTS entity_rows;")}
			},
			wantErr: "created by both",
		},
		{
			name: "required table missing",
			mutate: func(m fstest.MapFS) {
				delete(m, "sql/migrations/0002_events.up.sql")
				delete(m, "sql/migrations/0002_events.down.sql")
			},
			wantErr: "outbox_messages, timeline_events",
		},
		{
			name:    "invalid file name",
			mutate:  func(m fstest.MapFS) { m["sql/migrations/notes.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")} },
			wantErr: "invalid migration file name",
		},
		{
			name: "empty body",
			mutate: func(m fstest.MapFS) {
				m["sql/migrations/0001_versioning.down.sql"] = &fstest.MapFile{Data: []byte("  \n")}
			},
			wantErr: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fsys := embeddedMigrations(t)
			tt.mutate(fsys)
			_, err := loadMigrationsFromFS(fsys)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "unexpected error: %v", err)
		})
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)

	labels := func(plan []migration) []string {
		out := make([]string, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.label())
		}
		return out
	}

	assert.Equal(t, []string{"0001_versioning", "0002_events"}, labels(planMigrations(migrations, nil, migrationUp, 0)))
	assert.Equal(t, []string{"0001_versioning"}, labels(planMigrations(migrations, nil, migrationUp, 1)))
	assert.Equal(t, []string{"0002_events"}, labels(planMigrations(migrations, []int64{1}, migrationUp, 0)))
	assert.Empty(t, planMigrations(migrations, []int64{1, 2}, migrationUp, 0))

	assert.Equal(t, []string{"0002_events"}, labels(planMigrations(migrations, []int64{1, 2}, migrationDown, 1)))
	assert.Equal(t, []string{"0002_events", "0001_versioning"}, labels(planMigrations(migrations, []int64{1, 2}, migrationDown, 5)))
	assert.Empty(t, planMigrations(migrations, nil, migrationDown, 1))

	unknown := planMigrations(migrations, []int64{1, 2, 7}, migrationDown, 1)
	require.Len(t, unknown, 1)
	assert.Equal(t, int64(7), unknown[0].Version)
	assert.Empty(t, unknown[0].DownSQL, "unknown applied version has no SQL and must fail on rollback")
}

func TestBuildState(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)

	fresh := buildState(migrations, nil, map[string]bool{})
	assert.Equal(t, MigrationState{Pending: []string{"0001_versioning", "0002_events"}}, fresh)

	partial := buildState(migrations, []int64{1}, map[string]bool{
		"entity_versions": true,
		"entity_rows":     true,
	})
	assert.Equal(t, int64(1), partial.Version)
	assert.Equal(t, 1, partial.Applied)
	assert.Equal(t, []string{"0002_events"}, partial.Pending)
	assert.Equal(t, []string{"version_commits"}, partial.MissingTables)
}
