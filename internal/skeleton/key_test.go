package skeleton

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKeyMatchesStoredLayout(t *testing.T) {
	id := NewIdentity("minnie65_phase3_v1", 864691135463611454)
	got := EncodeKey(id, 4, StorageH5)
	assert.Equal(t, "skeleton__v4__rid-864691135463611454__ds-minnie65_phase3_v1__res-1x1x1__cs-True__cr-7500.h5.gz", got)
}

func TestEncodeKeyRendersNonIntegralValues(t *testing.T) {
	id := NewIdentity("flywire", 42)
	id.Resolution = Resolution{4.5, 4.5, 40}
	id.CollapseSoma = false
	id.CollapseRadius = 12.25
	got := EncodeKey(id, 3, StorageSWC)
	assert.Equal(t, "skeleton__v3__rid-42__ds-flywire__res-4.5x4.5x40__cs-False__cr-12.25.swc.gz", got)
}

func TestEncodeKeyNegativeZeroMatchesZero(t *testing.T) {
	a := NewIdentity("ds", 7)
	a.CollapseRadius = 0
	b := a
	b.CollapseRadius = math.Copysign(0, -1)

	require.NoError(t, b.Validate())
	assert.Equal(t, EncodeKey(a, 4, StorageH5), EncodeKey(b, 4, StorageH5))
	assert.Contains(t, EncodeKey(b, 4, StorageH5), "__cr-0.h5.gz")
}

func TestEncodeKeyIgnoresRequestedVersionAndFormat(t *testing.T) {
	a := NewIdentity("ds", 7)
	b := a
	b.Version = 2
	b.Format = FormatSWC
	assert.Equal(t, EncodeKey(a, 4, StorageH5), EncodeKey(b, 4, StorageH5))
}

func TestEncodeKeyDistinguishesEveryField(t *testing.T) {
	base := NewIdentity("ds", 7)
	baseKey := EncodeKey(base, 4, StorageH5)

	variants := map[string]func(*Identity) (int, StorageFormat){
		"dataset":    func(id *Identity) (int, StorageFormat) { id.Dataset = "ds2"; return 4, StorageH5 },
		"root":       func(id *Identity) (int, StorageFormat) { id.RootID = 8; return 4, StorageH5 },
		"resolution": func(id *Identity) (int, StorageFormat) { id.Resolution = Resolution{1, 1, 2}; return 4, StorageH5 },
		"soma":       func(id *Identity) (int, StorageFormat) { id.CollapseSoma = false; return 4, StorageH5 },
		"radius":     func(id *Identity) (int, StorageFormat) { id.CollapseRadius = 7501; return 4, StorageH5 },
		"version":    func(id *Identity) (int, StorageFormat) { return 3, StorageH5 },
		"format":     func(id *Identity) (int, StorageFormat) { return 4, StorageSWC },
	}
	seen := map[string]string{baseKey: "base"}
	for name, mutate := range variants {
		id := base
		v, f := mutate(&id)
		key := EncodeKey(id, v, f)
		prev, dup := seen[key]
		require.Falsef(t, dup, "%s collides with %s: %s", name, prev, key)
		seen[key] = name
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	id := NewIdentity("minnie65_phase3_v1", 864691135463611454)
	id.Resolution = Resolution{4, 4, 40}
	for _, f := range []StorageFormat{StorageH5, StorageSWC, StoragePrecomputed} {
		key := EncodeKey(id, 4, f)
		info, err := ParseKey(key)
		require.NoError(t, err)
		assert.Equal(t, KeyInfo{
			Key:           key,
			Version:       4,
			RootID:        864691135463611454,
			Dataset:       "minnie65_phase3_v1",
			StorageFormat: f,
		}, info)
	}
}

func TestParseKeyRejectsForeignNames(t *testing.T) {
	for _, key := range []string{
		"",
		"refusal_list/ds/1",
		"skeleton__v4__rid-abc__ds-x__res-1x1x1__cs-True__cr-1.h5.gz",
		"skeleton__v4__rid-1__ds-x__res-1x1x1__cs-True__cr-1.h5",
	} {
		_, err := ParseKey(key)
		assert.Error(t, err, key)
	}
}

func TestListPrefixMatchesKeys(t *testing.T) {
	id := NewIdentity("ds", 864691135463611454)
	key := EncodeKey(id, 4, StorageH5)
	assert.Contains(t, key, ListPrefix(4, "8646911354"))
	assert.NotContains(t, key, ListPrefix(3, ""))
}
