package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/model-hub/internal/logging"
)

func TestBoundedStoreEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	inner := newTestFileStore(t)
	store, err := NewBoundedStore(ctx, inner, 2, logging.NewDiscard())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "A.glb", []byte("a")))
	require.NoError(t, store.Put(ctx, "B.glb", []byte("b")))

	// 访问 A，使 B 成为最久未使用的条目。
	_, err = store.Get(ctx, "A.glb")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "C.glb", []byte("c")))

	assert.True(t, store.Has(ctx, "A.glb"))
	assert.False(t, store.Has(ctx, "B.glb"), "B should be evicted")
	assert.True(t, store.Has(ctx, "C.glb"))
	assert.Equal(t, 2, store.Len())
}

func TestBoundedStoreSeedsFromExistingKeys(t *testing.T) {
	ctx := context.Background()
	inner := newTestFileStore(t)
	for _, key := range []string{"a.glb", "b.glb", "c.glb"} {
		require.NoError(t, inner.Put(ctx, key, []byte(key)))
	}

	store, err := NewBoundedStore(ctx, inner, 2, logging.NewDiscard())
	require.NoError(t, err)

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.glb", "c.glb"}, keys)
}

func TestBoundedStoreClearAllResetsIndex(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoundedStore(ctx, newTestFileStore(t), 4, logging.NewDiscard())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "A.glb", []byte("a")))
	require.NoError(t, store.ClearAll(ctx))

	assert.Equal(t, 0, store.Len())
	assert.False(t, store.Has(ctx, "A.glb"))
}

func TestBoundedStoreRequiresPositiveSize(t *testing.T) {
	_, err := NewBoundedStore(context.Background(), newTestFileStore(t), 0, nil)
	assert.Error(t, err)
}

// removeFailingStore 模拟删除淘汰条目时的 I/O 错误。
type removeFailingStore struct {
	Store
}

func (s removeFailingStore) Remove(context.Context, string) error {
	return errors.New("permission denied")
}

func TestBoundedStoreLogsEvictionFailure(t *testing.T) {
	ctx := context.Background()
	logger, hook := logtest.NewNullLogger()
	inner := removeFailingStore{Store: newTestFileStore(t)}
	store, err := NewBoundedStore(ctx, inner, 1, logger)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "A.glb", []byte("a")))
	require.NoError(t, store.Put(ctx, "B.glb", []byte("b")))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "cache_evict_failed", entry.Message)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "A.glb", entry.Data["key"])
	assert.Equal(t, "cache", entry.Data["component"])
}
