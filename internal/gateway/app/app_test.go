package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skeletoncache/internal/gateway/config"
	"skeletoncache/internal/gateway/service/skeletons"
	"skeletoncache/internal/logging"
	"skeletoncache/internal/skeleton"
)

func geometryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"vertices": [][3]float64{{0, 0, 0}, {1, 0, 0}},
			"edges":    [][2]int{{0, 1}},
			"radius":   []float64{1, 1},
			"root":     0,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func memoryConfig(t *testing.T) *config.Config {
	return &config.Config{
		Port:            ":0",
		Store:           config.StoreConfig{Backend: config.BackendMemory, Prefix: "test", CacheEntries: 16},
		Transport:       config.TransportConfig{Backend: config.TransportMemory},
		GeometryURL:     geometryServer(t).URL,
		GeometryTimeout: 5 * time.Second,
		LayerBits:       8,
		Bulk:            config.BulkConfig{MaxSynchronous: 10, MaxAsync: 100, NumWorkers: 2, PerJobSeconds: 5},
		Aliases:         map[string]string{},
	}
}

func TestGatewayProcessesSubmittedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := NewGateway(ctx, memoryConfig(t), logging.Discard())
	require.NoError(t, err)
	defer func() { require.NoError(t, g.Shutdown(context.Background())) }()

	tmpl := skeleton.NewIdentity("ds", 0)
	res, err := g.core.service.GenerateBulkAsync(ctx, skeletons.BulkRequest{
		Template: tmpl,
		RootIDs:  []uint64{864691135463611454},
	})
	require.NoError(t, err)
	require.Len(t, res.Submitted, 1)

	require.Eventually(t, func() bool {
		found, err := g.core.service.Exists(ctx, tmpl, []uint64{864691135463611454})
		return err == nil && found[864691135463611454]
	}, 5*time.Second, 20*time.Millisecond)

	keys, err := g.core.store.List(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, keys)
	assert.Positive(t, g.core.store.Metrics().OriginWrites)
}

func TestNewWorkerRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Backend = "ftp"
	_, err := NewWorker(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewWorker(ctx, memoryConfig(t), logging.Discard())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
