package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchtools/perch/internal/remote"
	"github.com/perchtools/perch/internal/tracker"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(logrus.NewEntry(logger))
}

func testSupervisor(t *testing.T) *tracker.Supervisor {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)
	runner := remote.NewRunner(entry, time.Second, 2*time.Second)
	nodes := []tracker.Node{{Name: "local", Local: true, SessionsRoot: t.TempDir()}}
	sup, err := tracker.New(entry, tracker.DefaultSettings(), runner, nodes, nil, "")
	require.NoError(t, err)
	return sup
}

func TestHandlersReportUninitializedEngine(t *testing.T) {
	srv := testServer(t)

	for _, path := range []string{"/api/agents", "/api/config", "/api/history"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		switch path {
		case "/api/agents":
			srv.handleGetAgents(rec, req)
		case "/api/config":
			srv.handleGetConfig(rec, req)
		case "/api/history":
			srv.handleGetHistory(rec, req)
		}
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

// Config reloads swap the supervisor and running config while handlers are
// serving requests. Run under the race detector this fails if the fields are
// read unsynchronized.
func TestEngineSwapWhileServing(t *testing.T) {
	srv := testServer(t)
	srv.SetSupervisor(testSupervisor(t))
	srv.SetRunningConfig(&RunningConfig{Nodes: []string{"local"}, StartedAt: time.Now()})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			srv.SetSupervisor(testSupervisor(t))
			srv.SetRunningConfig(&RunningConfig{
				ScanInterval: time.Duration(i) * time.Second,
				Nodes:        []string{"local"},
				StartedAt:    time.Now(),
			})
		}
	}()

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		srv.handleGetAgents(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		srv.handleGetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var cfg RunningConfig
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
		assert.Equal(t, []string{"local"}, cfg.Nodes)
	}
	wg.Wait()
}
