package refusal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	artifactrepo "skeletoncache/internal/gateway/repository/artifact"
	"skeletoncache/internal/skeleton"
)

type countingStore struct {
	*artifactrepo.MemoryStore
	exists int
	puts   int
	fail   bool
}

func (s *countingStore) Exists(ctx context.Context, key string) (bool, error) {
	s.exists++
	if s.fail {
		return false, errors.New("dial tcp: connection refused")
	}
	return s.MemoryStore.Exists(ctx, key)
}

func (s *countingStore) Put(ctx context.Context, key string, content []byte) error {
	s.puts++
	return s.MemoryStore.Put(ctx, key, content)
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: artifactrepo.NewMemoryStore()}
}

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestAddIsIdempotent(t *testing.T) {
	store := newCountingStore()
	l := New(store, Options{Now: fixedNow})
	ctx := context.Background()

	added, err := l.Add(ctx, "ds", 42, "invalid_id")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.Add(ctx, "ds", 42, "invalid_id")
	require.NoError(t, err)
	assert.False(t, added)

	ok, err := l.Contains(ctx, "ds", 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.puts)

	entries, err := l.Entries(ctx, "ds")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Dataset: "ds", RootID: 42, Reason: "invalid_id", AddedAt: fixedNow()}}, entries)
}

func TestEntryLayout(t *testing.T) {
	store := newCountingStore()
	l := New(store, Options{Now: fixedNow})
	_, err := l.Add(context.Background(), "minnie65_phase3_v1", 864691135463611454, "")
	require.NoError(t, err)

	raw, err := store.Get(context.Background(), "refusal_list/minnie65_phase3_v1/864691135463611454")
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataset":"minnie65_phase3_v1","root_id":"864691135463611454","added_at":"2024-05-01T12:00:00Z"}`, string(raw))
}

func TestDatasetsAreIndependent(t *testing.T) {
	l := New(newCountingStore(), Options{})
	ctx := context.Background()
	_, err := l.Add(ctx, "a", 1, "")
	require.NoError(t, err)

	ok, err := l.Contains(ctx, "b", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := l.Entries(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreFailureIsNotANegative(t *testing.T) {
	store := newCountingStore()
	store.fail = true
	l := New(store, Options{})

	ok, err := l.Contains(context.Background(), "ds", 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, skeleton.ErrStoreUnavailable)

	_, err = l.Add(context.Background(), "ds", 1, "")
	assert.ErrorIs(t, err, skeleton.ErrStoreUnavailable)
}

func TestPositiveCacheSkipsStore(t *testing.T) {
	store := newCountingStore()
	l := New(store, Options{CacheTTL: time.Minute})
	ctx := context.Background()

	_, err := l.Add(ctx, "ds", 7, "")
	require.NoError(t, err)
	before := store.exists
	for i := 0; i < 3; i++ {
		ok, err := l.Contains(ctx, "ds", 7)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, before, store.exists)

	// Negative answers are never cached.
	for i := 0; i < 2; i++ {
		ok, err := l.Contains(ctx, "ds", 8)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, before+2, store.exists)
}

func TestRemoveClearsEntryAndCache(t *testing.T) {
	l := New(newCountingStore(), Options{CacheTTL: time.Minute})
	ctx := context.Background()
	_, err := l.Add(ctx, "ds", 7, "")
	require.NoError(t, err)

	require.NoError(t, l.Remove(ctx, "ds", 7))
	ok, err := l.Contains(ctx, "ds", 7)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, l.Remove(ctx, "ds", 7))
}
