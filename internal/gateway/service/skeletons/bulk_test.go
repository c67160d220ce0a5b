package skeletons

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skeletoncache/internal/skeleton"
)

// rootID returns a layer 2 id distinct per n.
func rootID(n uint64) uint64 {
	return 2<<56 | n
}

func seed(t *testing.T, f *fixture, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		_, err := f.svc.GetSkeleton(context.Background(), identity(id))
		require.NoError(t, err)
	}
	f.geometry.calls = nil
}

func TestGetBulkSkeletonsReturnsOnlyHits(t *testing.T) {
	f := newFixture(t, Config{})
	seed(t, f, rootID(1))

	res, err := f.svc.GetBulkSkeletons(context.Background(), BulkRequest{
		Template: identity(0),
		RootIDs:  []uint64{rootID(1), rootID(2)},
	})
	require.NoError(t, err)
	require.Len(t, res.Skeletons, 1)
	assert.Contains(t, res.Skeletons, rootID(1))
	assert.Equal(t, []uint64{rootID(2)}, f.jobs.rootIDs())
	assert.Equal(t, []uint64{rootID(2)}, res.Submitted)
	assert.Zero(t, f.geometry.count())
}

func TestGetBulkSkeletonsTruncatesSynchronousWindow(t *testing.T) {
	f := newFixture(t, Config{})
	var ids []uint64
	for n := uint64(1); n <= 12; n++ {
		ids = append(ids, rootID(n))
	}
	// Cached ids beyond the window are not looked up, so they get submitted.
	seed(t, f, rootID(3), rootID(11))
	_, err := f.refusals.Add(context.Background(), testDataset, rootID(5), "")
	require.NoError(t, err)
	_, err = f.refusals.Add(context.Background(), testDataset, rootID(12), "")
	require.NoError(t, err)

	res, err := f.svc.GetBulkSkeletons(context.Background(), BulkRequest{
		Template:       identity(0),
		RootIDs:        ids,
		MaxSynchronous: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{rootID(3)}, keys(res.Skeletons))
	assert.ElementsMatch(t, []uint64{rootID(5), rootID(12)}, res.Refused)
	assert.Equal(t, []uint64{
		rootID(1), rootID(2), rootID(4), rootID(6), rootID(7),
		rootID(8), rootID(9), rootID(10), rootID(11),
	}, f.jobs.rootIDs())
}

func TestGetBulkSkeletonsDeduplicates(t *testing.T) {
	f := newFixture(t, Config{})
	res, err := f.svc.GetBulkSkeletons(context.Background(), BulkRequest{
		Template: identity(0),
		RootIDs:  []uint64{rootID(1), rootID(1), 0, rootID(2), rootID(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{rootID(1), rootID(2)}, res.Submitted)
}

func TestGetBulkSkeletonsCapsAsyncJobs(t *testing.T) {
	f := newFixture(t, Config{MaxAsync: 2})
	res, err := f.svc.GetBulkSkeletons(context.Background(), BulkRequest{
		Template: identity(0),
		RootIDs:  []uint64{rootID(1), rootID(2), rootID(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{rootID(1), rootID(2)}, res.Submitted)
	assert.Equal(t, []uint64{rootID(3)}, res.Dropped)
}

func TestGetBulkSkeletonsTransportFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.jobs.err = errors.New("nats: no responders")
	_, err := f.svc.GetBulkSkeletons(context.Background(), BulkRequest{
		Template: identity(0),
		RootIDs:  []uint64{rootID(1)},
	})
	require.ErrorIs(t, err, skeleton.ErrTransportUnavailable)
	assert.True(t, skeleton.IsTransient(err))
}

func TestGetBulkSkeletonsRejectsUnsupportedVersion(t *testing.T) {
	f := newFixture(t, Config{})
	tmpl := identity(0)
	tmpl.Version = 7
	_, err := f.svc.GetBulkSkeletons(context.Background(), BulkRequest{Template: tmpl, RootIDs: []uint64{rootID(1)}})
	require.ErrorIs(t, err, skeleton.ErrUnsupportedVersion)
	assert.Empty(t, f.jobs.rootIDs())
}

func TestGenerateBulkAsyncEstimate(t *testing.T) {
	f := newFixture(t, Config{NumWorkers: 4, PerJobSeconds: 30})
	seed(t, f, rootID(9))
	var ids []uint64
	for n := uint64(1); n <= 9; n++ {
		ids = append(ids, rootID(n))
	}

	res, err := f.svc.GenerateBulkAsync(context.Background(), BulkRequest{
		Template:     identity(0),
		RootIDs:      ids,
		HighPriority: true,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Skeletons)
	assert.Len(t, res.Submitted, 8)
	assert.Equal(t, 60, res.EstimatedSeconds)
	for _, high := range f.jobs.high {
		assert.True(t, high)
	}
}

func TestGenerateBulkAsyncDoesNotReadCachedArtifacts(t *testing.T) {
	f := newFixture(t, Config{})
	var ids []uint64
	for n := uint64(1); n <= 50; n++ {
		ids = append(ids, rootID(n))
	}
	seed(t, f, ids...)
	store := &countingStore{Store: f.store}
	f.rebuild(t, func(d *Deps) { d.Store = store })

	res, err := f.svc.GenerateBulkAsync(context.Background(), BulkRequest{
		Template: identity(0),
		RootIDs:  append(ids, rootID(51)),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{rootID(51)}, res.Submitted)
	assert.Zero(t, store.gets.Load())
}

func TestExists(t *testing.T) {
	f := newFixture(t, Config{})
	seed(t, f, rootID(1))

	got, err := f.svc.Exists(context.Background(), identity(0), []uint64{rootID(1), rootID(2)})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]bool{rootID(1): true, rootID(2): false}, got)
	assert.Empty(t, f.jobs.rootIDs())
}

func TestCacheContents(t *testing.T) {
	f := newFixture(t, Config{})
	seed(t, f, rootID(1), rootID(2))

	infos, err := f.svc.CacheContents(context.Background(), testDataset, 4, "", 0)
	require.NoError(t, err)
	// h5 and swc per id.
	assert.Len(t, infos, 4)
	for _, info := range infos {
		assert.Equal(t, testDataset, info.Dataset)
		assert.Equal(t, 4, info.Version)
	}

	limited, err := f.svc.CacheContents(context.Background(), testDataset, 4, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	other, err := f.svc.CacheContents(context.Background(), "other_ds", 4, "", 0)
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = f.svc.CacheContents(context.Background(), testDataset, 4, "12a", 0)
	require.ErrorIs(t, err, skeleton.ErrInvalidRequest)
}

func TestSupportedVersions(t *testing.T) {
	f := newFixture(t, Config{})
	versions := f.svc.SupportedVersions()
	require.Len(t, versions, 4)
	assert.True(t, versions[0].Deprecated)
	assert.Equal(t, []string{"precomputed"}, versions[0].Formats)
	assert.True(t, versions[3].Latest)
	assert.Equal(t, []string{"dict", "swc", "compressed", "precomputed"}, versions[3].Formats)
}

func TestRefuseIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.svc.Refuse(ctx, "minnie65_public", rootID(4), "dead letter"))
	require.NoError(t, f.svc.Refuse(ctx, testDataset, rootID(4), "dead letter"))

	entries, err := f.refusals.Entries(ctx, testDataset)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func keys(m map[uint64]*Result) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
