package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

func TestRowStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRowStore()
	row := versioning.Row{Entity: "order", ID: "o-1", VersionID: domain.LiveVersionID, Data: versioning.Data{"number": versioning.StringValue("1")}}

	boom := errors.New("boom")
	err := store.Tx(ctx, func(ctx context.Context, tx versioning.Tx) error {
		require.NoError(t, tx.PutRow(ctx, row))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.Tx(ctx, func(ctx context.Context, tx versioning.Tx) error {
		_, err := tx.GetRow(ctx, "order", "o-1", domain.LiveVersionID)
		return err
	})
	require.ErrorIs(t, err, domain.ErrRowNotFound)
}

func TestRowStore_CommitsAndVersionRows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRowStore()

	err := store.Tx(ctx, func(ctx context.Context, tx versioning.Tx) error {
		require.NoError(t, tx.CreateVersion(ctx, versioning.Version{ID: "v1", Entity: "order", EntityID: "o-1"}))
		require.ErrorIs(t, tx.CreateVersion(ctx, versioning.Version{ID: "v1"}), domain.ErrRowExists)
		for _, id := range []string{"b", "a"} {
			require.NoError(t, tx.PutRow(ctx, versioning.Row{
				Entity: "item", ID: id, VersionID: "v1",
				Data: versioning.Data{"orderId": versioning.StringValue("o-1")},
			}))
		}
		first, err := tx.AppendCommit(ctx, versioning.CommitEntry{VersionID: "v1", Entity: "item", EntityID: "a", Action: versioning.ActionInsert})
		require.NoError(t, err)
		second, err := tx.AppendCommit(ctx, versioning.CommitEntry{VersionID: "v1", Entity: "item", EntityID: "b", Action: versioning.ActionInsert})
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.Sequence)
		assert.Equal(t, int64(2), second.Sequence)
		return nil
	})
	require.NoError(t, err)

	err = store.Tx(ctx, func(ctx context.Context, tx versioning.Tx) error {
		rows, err := tx.FindRows(ctx, "item", "v1", "orderId", "o-1")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "a", rows[0].ID)

		n, err := tx.DeleteVersionRows(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.NoError(t, tx.DeleteCommits(ctx, "v1"))
		commits, err := tx.Commits(ctx, "v1")
		require.NoError(t, err)
		assert.Empty(t, commits)
		require.NoError(t, tx.DeleteVersion(ctx, "v1"))
		_, err = tx.GetVersion(ctx, "v1")
		assert.ErrorIs(t, err, domain.ErrVersionNotFound)
		return nil
	})
	require.NoError(t, err)
}
