package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerAssignsRequestID(t *testing.T) {
	log, hook := test.NewNullLogger()
	var seen string
	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/skeleton/ds/1", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, seen, entry.Data["request_id"])
	assert.Equal(t, logrus.InfoLevel, entry.Level)
}

func TestLoggerKeepsClientRequestID(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/versions", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestLoggerWarnsOnServerErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/skeletons/ds", nil))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	req := httptest.NewRequest(http.MethodOptions, "/skeletons/ds", nil)
	req.Header.Set("Origin", "https://viewer.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://viewer.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGzipCompressesLargeBodies(t *testing.T) {
	body := strings.Repeat("1 1 0 0 0 1 -1\n", 200)
	h := Gzip(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, body)
	}))
	req := httptest.NewRequest(http.MethodGet, "/skeleton/ds/1?format=swc", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}
