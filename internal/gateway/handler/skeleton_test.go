package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	artifactrepo "skeletoncache/internal/gateway/repository/artifact"
	"skeletoncache/internal/gateway/repository/refusal"
	"skeletoncache/internal/gateway/service/skeletons"
	"skeletoncache/internal/geometry"
	"skeletoncache/internal/logging"
	"skeletoncache/internal/skeleton"
)

const root = "864691135463611454"

type stubGeometry struct{ calls int }

func (g *stubGeometry) Skeletonize(context.Context, geometry.Params) (*skeleton.Tree, error) {
	g.calls++
	return &skeleton.Tree{
		Vertices: [][3]float64{{0, 0, 0}, {1, 1, 1}},
		Edges:    []skeleton.Edge{{Parent: 0, Child: 1}},
	}, nil
}

type stubSubmitter struct{ ids []uint64 }

func (s *stubSubmitter) Submit(_ context.Context, id skeleton.Identity, _ bool) error {
	s.ids = append(s.ids, id.RootID)
	return nil
}

type env struct {
	mux      *http.ServeMux
	geometry *stubGeometry
	jobs     *stubSubmitter
	refusals *refusal.List
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := artifactrepo.NewMemoryStore()
	e := &env{geometry: &stubGeometry{}, jobs: &stubSubmitter{}, refusals: refusal.New(store, refusal.Options{})}
	svc, err := skeletons.New(skeletons.Deps{
		Registry:   skeleton.DefaultRegistry(),
		Store:      store,
		Refusals:   e.refusals,
		Geometry:   e.geometry,
		Dispatcher: e.jobs,
		Log:        logging.Discard(),
	}, skeletons.Config{NumWorkers: 2, PerJobSeconds: 10})
	require.NoError(t, err)

	h := NewSkeletonHandler(svc)
	e.mux = http.NewServeMux()
	e.mux.HandleFunc("GET /skeleton/{dataset}/{id}", h.HandleGet)
	e.mux.HandleFunc("GET /skeletons/{dataset}", h.HandleBulk)
	e.mux.HandleFunc("POST /skeletons/{dataset}/generate", h.HandleGenerate)
	e.mux.HandleFunc("GET /skeletons/{dataset}/exist", h.HandleExists)
	e.mux.HandleFunc("GET /cache/{dataset}/contents", h.HandleCacheContents)
	e.mux.HandleFunc("GET /versions", h.HandleVersions)
	return e
}

func (e *env) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestGetSkeletonEndpoint(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/skeleton/ds/"+root+"?version=4", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "4", rec.Header().Get("X-Skeleton-Version"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Len(t, doc["vertices"], 2)

	rec = e.do(http.MethodGet, "/skeleton/ds/"+root+"?format=swc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Contains(t, rec.Body.String(), "1 ")
	assert.Equal(t, 1, e.geometry.calls)
}

func TestGetSkeletonEndpointErrors(t *testing.T) {
	e := newEnv(t)
	_, err := e.refusals.Add(context.Background(), "ds", 864691135463611455, "")
	require.NoError(t, err)

	cases := []struct {
		target string
		status int
		kind   string
	}{
		{"/skeleton/ds/abc", http.StatusBadRequest, "invalid_request"},
		{"/skeleton/ds/" + root + "?version=9", http.StatusBadRequest, "unsupported_version"},
		{"/skeleton/ds/" + root + "?format=obj", http.StatusBadRequest, "unsupported_format"},
		{"/skeleton/ds/" + root + "?resolution=1,2", http.StatusBadRequest, "invalid_request"},
		{"/skeleton/ds/12", http.StatusBadRequest, "wrong_layer"},
		{"/skeleton/ds/864691135463611455", http.StatusUnprocessableEntity, "refused_id"},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			rec := e.do(http.MethodGet, tc.target, "")
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
	assert.Zero(t, e.geometry.calls)
}

func TestRefusedBodyCarriesID(t *testing.T) {
	e := newEnv(t)
	_, err := e.refusals.Add(context.Background(), "ds", 864691135463611455, "")
	require.NoError(t, err)

	rec := e.do(http.MethodGet, "/skeleton/ds/864691135463611455", "")
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ds", body.Dataset)
	assert.Equal(t, "864691135463611455", body.RootID)
}

func TestBulkEndpoint(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/skeleton/ds/"+root, "").Code)

	rec := e.do(http.MethodGet, "/skeletons/ds?ids="+root+",864691135463611460", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Skeletons        map[string]json.RawMessage `json:"skeletons"`
		Submitted        []string                   `json:"submitted"`
		EstimatedSeconds int                        `json:"estimated_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Skeletons, root)
	assert.Len(t, out.Skeletons, 1)
	assert.Equal(t, []string{"864691135463611460"}, out.Submitted)
	assert.Equal(t, 10, out.EstimatedSeconds)
	assert.Equal(t, []uint64{864691135463611460}, e.jobs.ids)
}

func TestGenerateEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/skeletons/ds/generate?version=4",
		`{"root_ids": [864691135463611454, "864691135463611456"], "high_priority": true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Len(t, e.jobs.ids, 2)

	rec = e.do(http.MethodPost, "/skeletons/ds/generate", `{"root_ids": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/skeletons/ds/generate", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateEndpointBoundsBody(t *testing.T) {
	e := newEnv(t)
	ids := strings.Repeat("864691135463611454,", maxGenerateBody/19+1)
	rec := e.do(http.MethodPost, "/skeletons/ds/generate", `{"root_ids": [`+ids+`1]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, e.jobs.ids)
}

func TestExistsEndpoint(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/skeleton/ds/"+root, "").Code)

	rec := e.do(http.MethodGet, "/skeletons/ds/exist?ids="+root+"&ids=864691135463611460", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, map[string]bool{root: true, "864691135463611460": false}, out)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/skeletons/ds/exist", "").Code)
}

func TestCacheContentsEndpoint(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/skeleton/ds/"+root, "").Code)

	rec := e.do(http.MethodGet, "/cache/ds/contents?prefix=8646&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Count int                `json:"count"`
		Keys  []skeleton.KeyInfo `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, uint64(864691135463611454), out.Keys[0].RootID)
}

func TestVersionsEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/versions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Versions []skeletons.VersionInfo `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Versions, 4)
	assert.True(t, out.Versions[3].Latest)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(skeleton.NewError(skeleton.ErrNonexistentID, "ds", 1, nil)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(skeleton.NewError(skeleton.ErrStoreUnavailable, "ds", 1, nil)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(skeleton.NewError(skeleton.ErrTransportUnavailable, "ds", 1, nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(skeleton.NewError(skeleton.ErrComputation, "ds", 1, nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestHealthHandler(t *testing.T) {
	ok := NewHealthHandler(map[string]Checker{"store": func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	ok.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := NewHealthHandler(map[string]Checker{"nats": func(context.Context) error { return errors.New("down") }})
	rec = httptest.NewRecorder()
	bad.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}
