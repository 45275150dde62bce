package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := New(context.Background(), Config{
		Addr:  mr.Addr(),
		Group: "ingest",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func Test_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	offset, found, err := store.Load(ctx, 0)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(0), offset)

	require.NoError(t, store.Save(ctx, 0, 42))

	offset, found, err = store.Load(ctx, 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), offset)
}

func Test_PartitionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, 1, 10))
	require.NoError(t, store.Save(ctx, 2, 20))

	offset, found, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(10), offset)

	offset, found, err = store.Load(ctx, 2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(20), offset)

	_, found, err = store.Load(ctx, 3)
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, 0, 5))
	require.NoError(t, store.Save(ctx, 0, 6))

	offset, found, err := store.Load(ctx, 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(6), offset)
}
