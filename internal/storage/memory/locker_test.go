package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderedit/internal/storage/memory"
)

func TestLocker_TryAcquire(t *testing.T) {
	ctx := context.Background()
	locks := memory.NewLocker()

	release, ok, err := locks.TryAcquire(ctx, "version-merge:v1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locks.TryAcquire(ctx, "version-merge:v1")
	require.NoError(t, err)
	require.False(t, ok, "held key must not be acquired twice")

	other, ok, err := locks.TryAcquire(ctx, "version-merge:v2")
	require.NoError(t, err)
	require.True(t, ok)
	other()

	release()
	release()

	again, ok, err := locks.TryAcquire(ctx, "version-merge:v1")
	require.NoError(t, err)
	require.True(t, ok)
	again()
}
