package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	})
	require.NoError(t, err)
	srv.Mount(pingHandler{})
	return srv
}

func get(t *testing.T, h http.Handler, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndDrain(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	steps := []struct {
		path   string
		status int
		body   string
	}{
		{"/livez", http.StatusOK, `{"status":"alive"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
		{"/drain", http.StatusOK, `{"status":"draining"}`},
		{"/drain", http.StatusOK, `{"status":"already draining"}`},
		{"/readyz", http.StatusServiceUnavailable, `{"status":"not ready"}`},
		{"/livez", http.StatusOK, `{"status":"alive"}`},
		{"/undrain", http.StatusOK, `{"status":"ready"}`},
		{"/undrain", http.StatusOK, `{"status":"already ready"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
	}

	for _, step := range steps {
		rr := get(t, h, step.path)
		assert.Equal(t, step.status, rr.Code, step.path)
		assert.JSONEq(t, step.body, rr.Body.String(), step.path)
	}
}

func TestMountedRoutesAndRequestID(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rr := get(t, h, "/api/ping")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", rr.Body.String())
	assert.Len(t, rr.Header().Get(RequestIDHeader), 36)

	rr = get(t, h, "/api/ping", RequestIDHeader, "req-1")
	assert.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/missing").Code)
	assert.NotNil(t, srv.Metrics())
}
