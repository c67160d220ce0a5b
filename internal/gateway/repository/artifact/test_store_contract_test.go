package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := store.Exists(ctx, "skeleton__v4__rid-1.h5.gz")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "skeleton__v4__rid-1.h5.gz")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Put(ctx, "skeleton__v4__rid-1.h5.gz", []byte("one")))
	require.NoError(t, store.Put(ctx, "skeleton__v4__rid-12.h5.gz", []byte("twelve")))
	require.NoError(t, store.Put(ctx, "refusal_list/ds/5", []byte("{}")))

	ok, err = store.Exists(ctx, "skeleton__v4__rid-1.h5.gz")
	require.NoError(t, err)
	assert.True(t, ok)

	raw, err := store.Get(ctx, "skeleton__v4__rid-1.h5.gz")
	require.NoError(t, err)
	assert.Equal(t, "one", string(raw))

	require.NoError(t, store.Put(ctx, "skeleton__v4__rid-1.h5.gz", []byte("uno")))
	raw, err = store.Get(ctx, "skeleton__v4__rid-1.h5.gz")
	require.NoError(t, err)
	assert.Equal(t, "uno", string(raw))

	keys, err := store.List(ctx, "skeleton__v4__rid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"skeleton__v4__rid-1.h5.gz", "skeleton__v4__rid-12.h5.gz"}, keys)

	keys, err = store.List(ctx, "refusal_list/ds/")
	require.NoError(t, err)
	assert.Equal(t, []string{"refusal_list/ds/5"}, keys)

	require.NoError(t, store.Delete(ctx, "skeleton__v4__rid-1.h5.gz"))
	ok, err = store.Exists(ctx, "skeleton__v4__rid-1.h5.gz")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Delete(ctx, "skeleton__v4__rid-1.h5.gz"))

	assert.Error(t, store.Put(ctx, "  ", []byte("x")))
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestDiskStoreContract(t *testing.T) {
	exerciseStore(t, NewDiskStore(t.TempDir()))
}

func TestDiskStoreRejectsEscapingKeys(t *testing.T) {
	store := NewDiskStore(t.TempDir())
	assert.Error(t, store.Put(context.Background(), "../outside", []byte("x")))
}

func TestDiskStoreAcceptsDotsInsideSegments(t *testing.T) {
	ctx := context.Background()
	store := NewDiskStore(t.TempDir())
	key := "skeleton__v4__rid-7__ds-a..b__res-1x1x1__cs-True__cr-7500.h5.gz"
	require.NoError(t, store.Put(ctx, key, []byte("x")))
	require.NoError(t, store.Put(ctx, "refusals/a..b/7.json", []byte("{}")))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
	assert.Error(t, store.Put(ctx, "refusals/../../outside", []byte("x")))
}

func TestDiskStoreListOnMissingRoot(t *testing.T) {
	store := NewDiskStore(t.TempDir() + "/missing")
	keys, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPrefixedStoreContract(t *testing.T) {
	exerciseStore(t, WithPrefix(NewMemoryStore(), "/skeletons/"))
}

func TestPrefixedStoreScopesKeys(t *testing.T) {
	inner := NewMemoryStore()
	scoped := WithPrefix(inner, "tenant-a")
	require.NoError(t, scoped.Put(context.Background(), "k", []byte("v")))

	ok, err := inner.Exists(context.Background(), "tenant-a/k")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Same(t, inner, WithPrefix(inner, " "))
}
