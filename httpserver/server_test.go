package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/agent-launch-provisioner/api"
	"github.com/ruteri/agent-launch-provisioner/api/clients"
	"github.com/ruteri/agent-launch-provisioner/api/pipelinehandler"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T, handler RouteRegistrar) *Server {
	srv, err := New(&api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err)
	return srv
}

func getStatus(t *testing.T, h http.Handler, path string) (int, string) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Status
}

func TestHealthAndDrain(t *testing.T) {
	srv := newTestServer(t, pingRoutes{})
	h := srv.Handler()

	code, status := getStatus(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", status)

	code, status = getStatus(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", status)

	_, status = getStatus(t, h, "/drain")
	assert.Equal(t, "draining", status)
	_, status = getStatus(t, h, "/drain")
	assert.Equal(t, "already draining", status)

	code, status = getStatus(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", status)

	// draining does not stop serving
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, "pong", rec.Body.String())

	_, status = getStatus(t, h, "/undrain")
	assert.Equal(t, "ready", status)
	_, status = getStatus(t, h, "/undrain")
	assert.Equal(t, "already ready", status)

	code, _ = getStatus(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestPipelineRoutesAndMount(t *testing.T) {
	hosting := &clients.MockHostingClient{}
	hosting.On("ListProcesses", mock.Anything).Return([]interfaces.RemoteProcessStatus{
		{Name: "Demo", Address: "agent1qdemo", Compiled: true},
	}, nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := pipelinehandler.NewHandler(&pipelinehandler.MockPipelineRunner{}, hosting, nil, logger)
	srv := newTestServer(t, handler)
	srv.Mount("/fake", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/processes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list pipelinehandler.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "agent1qdemo", list.Items[0].Address)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fake/anything", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.NotNil(t, srv.Metrics().Registry)
	hosting.AssertExpectations(t)
}

func TestShutdownMarksNotReady(t *testing.T) {
	srv := newTestServer(t, pingRoutes{})
	srv.Shutdown()

	code, _ := getStatus(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
