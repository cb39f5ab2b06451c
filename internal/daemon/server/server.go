// Package server provides the HTTP server for the perch daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/perchtools/perch/internal/daemon/journal"
	"github.com/perchtools/perch/internal/tracker"
)

// RunningConfig describes the intervals the daemon is actually using.
// Exposed via /api/config so clients can verify what config is active.
type RunningConfig struct {
	ScanInterval time.Duration `json:"scan_interval"`
	PollInterval time.Duration `json:"poll_interval"`
	ReapAfter    time.Duration `json:"reap_after"`
	Nodes        []string      `json:"nodes"`
	StartedAt    time.Time     `json:"started_at"`
}

// Server manages the daemon's HTTP server over a Unix socket. The engine
// fields are swapped by the config hot-reload path while handlers read them,
// so access goes through mu.
type Server struct {
	logger *logrus.Entry
	server *http.Server

	mu            sync.RWMutex
	supervisor    *tracker.Supervisor
	journal       *journal.Journal
	runningConfig *RunningConfig
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	return &Server{logger: logger}
}

// SetSupervisor sets the tracking engine for the server.
func (s *Server) SetSupervisor(sup *tracker.Supervisor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supervisor = sup
}

// SetJournal sets the event journal backing /api/history.
func (s *Server) SetJournal(j *journal.Journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
}

// SetRunningConfig sets the running configuration for the server.
func (s *Server) SetRunningConfig(cfg *RunningConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningConfig = cfg
}

func (s *Server) getSupervisor() *tracker.Supervisor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supervisor
}

func (s *Server) getJournal() *journal.Journal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.journal
}

func (s *Server) getRunningConfig() *RunningConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runningConfig
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/agents", s.handleGetAgents)
	mux.HandleFunc("/api/history", s.handleGetHistory)
	mux.HandleFunc("/api/stream", s.handleStreamEvents)
	mux.HandleFunc("/api/config", s.handleGetConfig)
	mux.HandleFunc("/api/launch", s.handleLaunch)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	return s.server.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleGetAgents returns the current agent table as JSON.
func (s *Server) handleGetAgents(w http.ResponseWriter, r *http.Request) {
	sup := s.getSupervisor()
	if sup == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	agents := sup.Agents()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

// handleGetHistory returns journaled events, newest first. Supports
// ?project=<key> and ?limit=<n>.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	jnl := s.getJournal()
	if jnl == nil {
		http.Error(w, "journal not initialized", http.StatusServiceUnavailable)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := jnl.Recent(r.URL.Query().Get("project"), limit)
	if err != nil {
		s.logger.WithError(err).Error("History query failed")
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// handleStreamEvents provides Server-Sent Events (SSE) for real-time engine
// updates. The current agent table is sent first so clients have data right
// away.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	sup := s.getSupervisor()
	if sup == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected")

	if data, err := json.Marshal(snapshotFrame(sup.Agents())); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(eventFrame(ev))
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	// The socket is local and mode 0600; no cross-origin surface exists.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket mirrors /api/stream over a websocket for clients that
// prefer frames to SSE.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sup := s.getSupervisor()
	if sup == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	if err := conn.WriteJSON(snapshotFrame(sup.Agents())); err != nil {
		return
	}

	// Drain the read side so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(eventFrame(ev)); err != nil {
			s.logger.Debug("WebSocket client disconnected")
			return
		}
	}
}

// handleGetConfig returns the running configuration as JSON.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.getRunningConfig()
	if cfg == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// handleLaunch starts a new session on a node and returns the agent id and
// session binding id.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	sup := s.getSupervisor()
	if sup == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Node string `json:"node"`
		Dir  string `json:"dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Node == "" {
		req.Node = "local"
	}

	agentID, bindingID, err := sup.Launch(r.Context(), req.Node, req.Dir)
	if err != nil {
		s.logger.WithError(err).Warn("Launch failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"agent_id":   agentID,
		"session_id": bindingID,
	})
}

// streamFrame is the wire shape shared by the SSE and websocket streams.
type streamFrame struct {
	FrameType string                  `json:"frame_type"`
	Agents    []tracker.AgentSnapshot `json:"agents,omitempty"`
	Event     *tracker.Event          `json:"event,omitempty"`
}

func snapshotFrame(agents []tracker.AgentSnapshot) streamFrame {
	return streamFrame{FrameType: "snapshot", Agents: agents}
}

func eventFrame(ev tracker.Event) streamFrame {
	return streamFrame{FrameType: "event", Event: &ev}
}
