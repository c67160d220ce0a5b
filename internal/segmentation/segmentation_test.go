package segmentation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skeletoncache/internal/skeleton"
)

func TestLayer(t *testing.T) {
	assert.Equal(t, 12, Layer(864691135463611454, 8))
	assert.Equal(t, 1, Layer(uint64(1)<<56|42, 8))
	assert.Equal(t, 12, Layer(864691135463611454, 0))
}

func TestLayerValidator(t *testing.T) {
	v := LayerValidator{}
	require.NoError(t, v.ValidateRoot(context.Background(), "ds", 864691135463611454, 2))

	err := v.ValidateRoot(context.Background(), "ds", uint64(1)<<56|42, 2)
	assert.ErrorIs(t, err, skeleton.ErrWrongLayer)
	assert.ErrorIs(t, err, skeleton.ErrInvalidID)
	assert.Contains(t, err.Error(), "72057594037927978")
}

func TestHTTPValidator(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/segmentation/api/v1/table/minnie65_phase3_v1/valid_nodes", r.URL.Path)
		var req validNodesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		valid := []string{}
		if req.NodeIDs[0] == "864691135463611454" {
			valid = req.NodeIDs
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(validNodesResponse{ValidRoots: valid})
	}))
	defer srv.Close()

	v := NewHTTPValidator(srv.URL, DefaultLayerBits, time.Second)
	ctx := context.Background()

	require.NoError(t, v.ValidateRoot(ctx, "minnie65_phase3_v1", 864691135463611454, 2))
	err := v.ValidateRoot(ctx, "minnie65_phase3_v1", 864691135463611455, 2)
	assert.ErrorIs(t, err, skeleton.ErrNonexistentID)

	err = v.ValidateRoot(ctx, "minnie65_phase3_v1", 42, 2)
	assert.ErrorIs(t, err, skeleton.ErrWrongLayer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPValidatorServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPValidator(srv.URL, DefaultLayerBits, time.Second).
		ValidateRoot(context.Background(), "ds", 864691135463611454, 2)
	require.Error(t, err)
	assert.NotErrorIs(t, err, skeleton.ErrInvalidID)
}
