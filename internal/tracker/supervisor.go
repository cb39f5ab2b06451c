// Package tracker discovers coding-agent sessions across nodes, tails their
// transcripts, and maintains a live table of agents with per-agent activity
// state. The Supervisor owns the table; scanners, tailers, and timers all
// funnel their changes through its mutex.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"

	"github.com/perchtools/perch/internal/remote"
)

// DefaultSessionsRoot is where sessions live when a node doesn't say
// otherwise.
func DefaultSessionsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude/projects"
	}
	return filepath.Join(home, ".claude", "projects")
}

// Supervisor tracks agents across the configured nodes. All agent state is
// guarded by mu; tailer goroutines, timers, and API readers synchronize on
// it. Tailers are stopped outside the lock so their in-flight deliveries can
// drain instead of deadlocking.
type Supervisor struct {
	logger        *logrus.Entry
	settings      Settings
	runner        *remote.Runner
	nodes         []Node
	matcher       *patternmatcher.PatternMatcher
	launchCommand string

	mu          sync.Mutex
	agents      map[int]*Agent
	nextID      int
	ledger      *Ledger
	subscribers map[chan Event]struct{}
	closed      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Supervisor. Ignore patterns use .gitignore-style globs
// matched against paths relative to each node's sessions root.
func New(logger *logrus.Entry, settings Settings, runner *remote.Runner, nodes []Node, ignorePatterns []string, launchCommand string) (*Supervisor, error) {
	var matcher *patternmatcher.PatternMatcher
	if len(ignorePatterns) > 0 {
		m, err := patternmatcher.New(ignorePatterns)
		if err != nil {
			return nil, fmt.Errorf("ignore patterns: %w", err)
		}
		matcher = m
	}
	for i := range nodes {
		if nodes[i].SessionsRoot == "" {
			nodes[i].SessionsRoot = DefaultSessionsRoot()
		}
	}
	return &Supervisor{
		logger:        logger,
		settings:      settings,
		runner:        runner,
		nodes:         nodes,
		matcher:       matcher,
		launchCommand: launchCommand,
		agents:        make(map[int]*Agent),
		nextID:        1,
		ledger:        NewLedger(),
		subscribers:   make(map[chan Event]struct{}),
	}, nil
}

// Start launches the per-node scanners, the rotation pass, and the reaper.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, node := range s.nodes {
		scanner := newScanner(
			s.logger, node, s.runner, s.settings, s.matcher,
			s.OnSessionDiscovered,
			func(nodeName, path string) bool { return s.ledger.IsClaimed(nodeName, path) },
		)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			scanner.Run(ctx)
		}()
		s.logger.Infof("Scanning node %s (%s)", node.Name, node.SessionsRoot)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, s.settings.ScanInterval, s.rotateOnce)
	}()
	go func() {
		defer s.wg.Done()
		s.loop(ctx, s.settings.ReapInterval, s.reapOnce)
	}()
}

func (s *Supervisor) loop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts down scanners and tailers and removes every agent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.closed = true
	ids := make([]int, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	for _, id := range ids {
		s.removeAgent(id, "shutdown")
	}
}

// OnSessionDiscovered is the scanner callback: a session file surfaced that
// no agent owns. A launched agent waiting for exactly this filename adopts
// it; a stale agent already in the file's directory rotates onto it; only
// then is a new agent created around it.
func (s *Supervisor) OnSessionDiscovered(node Node, path string) {
	projectKey := filepath.Base(filepath.Dir(path))

	var old tailer
	s.mu.Lock()
	if s.closed || s.ledger.IsClaimed(node.Name, path) {
		s.mu.Unlock()
		return
	}

	if a := s.pendingBindingFor(node, path); a != nil {
		if a.ProjectKey == "" {
			a.ProjectKey = projectKey
		}
		old = s.bindFile(a, path)
		s.mu.Unlock()
		stopTailer(old)
		return
	}

	// The scanner often sees a rotation target before the rotation pass
	// does. Offering the file to a stale agent here keeps the two paths
	// converging on the same outcome: one rebind, never a duplicate agent.
	if a := s.rotationCandidateFor(node, path); a != nil {
		old = s.bindFile(a, path)
		s.mu.Unlock()
		stopTailer(old)
		return
	}

	a := newAgent(s.nextID, node, projectKey)
	s.nextID++
	s.agents[a.ID] = a
	s.publish(Event{
		Type:       EventAgentCreated,
		AgentID:    a.ID,
		Node:       node.Name,
		ProjectKey: projectKey,
		Activity:   ActivityActive,
		Time:       time.Now(),
	})
	s.snapshotSiblings(a, path)
	old = s.bindFile(a, path)
	s.mu.Unlock()
	stopTailer(old)
}

// pendingBindingFor finds a launched agent on this node still waiting for
// the file named after its session id.
func (s *Supervisor) pendingBindingFor(node Node, path string) *Agent {
	base := filepath.Base(path)
	for _, a := range s.agents {
		if a.removed || a.CurrentFile != "" || a.SessionBindingID == "" {
			continue
		}
		if a.Node.Name == node.Name && base == a.SessionBindingID+".jsonl" {
			return a
		}
	}
	return nil
}

// snapshotSiblings marks every transcript already in the project directory
// as off limits for this agent, so rotation never adopts history. Local
// only; remote agents never rotate.
func (s *Supervisor) snapshotSiblings(a *Agent, path string) {
	if !a.Node.Local {
		return
	}
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		sibling := filepath.Join(dir, entry.Name())
		if sibling != path {
			s.ledger.Ignore(a.ID, sibling)
		}
	}
}

// bindFile points the agent at a transcript and starts tailing it. When the
// agent already owned a file, ownership moves: the old file is released and
// disowned, turn state resets, and the caller must stop the returned old
// tailer outside the lock.
func (s *Supervisor) bindFile(a *Agent, path string) tailer {
	var old tailer
	if a.CurrentFile != "" {
		s.ledger.Release(a.Node.Name, a.CurrentFile)
		s.ledger.Ignore(a.ID, a.CurrentFile)
		old = a.tailer
		a.tailer = nil
		a.stopTimers()
		s.clearOperations(a)
		s.setActive(a)
		s.logger.Debugf("Agent %d rotating %s -> %s", a.ID, filepath.Base(a.CurrentFile), filepath.Base(path))
	}

	s.ledger.Claim(a.ID, a.Node.Name, path)
	a.CurrentFile = path
	a.lastActivityAt = time.Now()
	a.tailGen++
	gen := a.tailGen
	agentID := a.ID

	if a.Node.Local {
		lt := newLocalTailer(s.logger, path, s.settings.PollInterval, func(lines []string) {
			s.handleLines(agentID, gen, lines)
		})
		a.tailer = lt
		lt.Start()
		return old
	}

	command := fmt.Sprintf("tail -n %d -F %s", s.settings.RemoteBacklogLines, remote.ShellQuote(path))
	stream, err := s.runner.Stream(context.Background(), a.Node.Address, command)
	if err != nil {
		// No stream, no agent: remote tracking is stream-or-nothing.
		s.logger.WithError(err).Warnf("Remote tail failed for agent %d on %s", a.ID, a.Node.Name)
		delete(s.agents, a.ID)
		a.removed = true
		s.ledger.Forget(a.ID)
		s.publish(Event{Type: EventAgentRemoved, AgentID: a.ID, Node: a.Node.Name, ProjectKey: a.ProjectKey, Time: time.Now()})
		return old
	}
	rt := newRemoteTailer(s.logger, stream, func(lines []string) {
		s.handleLines(agentID, gen, lines)
	}, func() {
		s.removeAgent(agentID, "remote stream ended")
	})
	a.tailer = rt
	rt.Start()
	return old
}

// handleLines is the single entry point for tailer deliveries. The tail
// generation stamp drops stragglers from a tailer the agent rotated away
// from.
func (s *Supervisor) handleLines(agentID, gen int, lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok || a.removed || a.tailGen != gen {
		return
	}
	a.lastActivityAt = time.Now()
	for _, line := range lines {
		for _, ev := range ParseLine(line) {
			s.applyLine(a, ev)
		}
	}
}

// rotateOnce rebinds stale local agents to newer session files in their
// project directory. Per directory, only the most recently active stale
// agent claims this cycle; ties resolve next cycle once the winner owns its
// file.
func (s *Supervisor) rotateOnce() {
	now := time.Now()
	var stops []tailer

	s.mu.Lock()
	staleByDir := make(map[string][]*Agent)
	for _, a := range s.agents {
		if !a.Node.Local || a.CurrentFile == "" {
			continue
		}
		if now.Sub(a.lastActivityAt) < s.settings.RotationStaleAfter {
			continue
		}
		dir := filepath.Dir(a.CurrentFile)
		staleByDir[dir] = append(staleByDir[dir], a)
	}
	for dir, group := range staleByDir {
		sort.Slice(group, func(i, j int) bool {
			return group[i].lastActivityAt.After(group[j].lastActivityAt)
		})
		// Most recently active agent gets first pick; one claim per
		// directory per cycle keeps concurrent restarts orderly.
		for _, a := range group {
			path, ok := s.newestUnclaimed(a, dir)
			if !ok {
				continue
			}
			stops = append(stops, s.bindFile(a, path))
			break
		}
	}
	s.mu.Unlock()

	for _, t := range stops {
		stopTailer(t)
	}
}

// newestUnclaimed finds the best rotation target for the agent: the most
// recently modified transcript in dir that nobody owns, the agent hasn't
// disowned, and that is newer than the agent's last activity.
func (s *Supervisor) newestUnclaimed(a *Agent, dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var best string
	var bestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		if full == a.CurrentFile ||
			s.ledger.IsClaimed(a.Node.Name, full) ||
			s.ledger.IsIgnored(a.ID, full) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(a.lastActivityAt) {
			continue
		}
		if info.ModTime().After(bestMod) {
			best = full
			bestMod = info.ModTime()
		}
	}
	return best, best != ""
}

// rotationCandidateFor picks the stale local agent that would win the
// arbitration for a newly surfaced file in its project directory: most
// recently active among the stale, file not disowned, and the file newer
// than the agent's last activity. Nil when no agent qualifies, in which case
// the file becomes a new agent.
func (s *Supervisor) rotationCandidateFor(node Node, path string) *Agent {
	if !node.Local {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	dir := filepath.Dir(path)
	now := time.Now()

	var best *Agent
	for _, a := range s.agents {
		if !a.Node.Local || a.Node.Name != node.Name || a.CurrentFile == "" {
			continue
		}
		if filepath.Dir(a.CurrentFile) != dir {
			continue
		}
		if now.Sub(a.lastActivityAt) < s.settings.RotationStaleAfter {
			continue
		}
		if s.ledger.IsIgnored(a.ID, path) || !info.ModTime().After(a.lastActivityAt) {
			continue
		}
		if best == nil || a.lastActivityAt.After(best.lastActivityAt) {
			best = a
		}
	}
	return best
}

// reapOnce removes agents idle past the reap threshold. For local agents
// the file's mtime is authoritative; for remote and unbound agents the last
// consumed activity is all there is.
func (s *Supervisor) reapOnce() {
	now := time.Now()

	type probe struct {
		id           int
		file         string
		local        bool
		lastActivity time.Time
	}
	s.mu.Lock()
	probes := make([]probe, 0, len(s.agents))
	for id, a := range s.agents {
		probes = append(probes, probe{id: id, file: a.CurrentFile, local: a.Node.Local, lastActivity: a.lastActivityAt})
	}
	s.mu.Unlock()

	for _, p := range probes {
		idle := now.Sub(p.lastActivity)
		if p.local && p.file != "" {
			if info, err := os.Stat(p.file); err == nil {
				idle = now.Sub(info.ModTime())
			}
		}
		if idle > s.settings.ReapAfter {
			s.removeAgent(p.id, fmt.Sprintf("idle %s", idle.Round(time.Second)))
		}
	}
}

// removeAgent takes the agent out of the table, then stops its tailer
// outside the lock. A late delivery from that tailer finds the agent gone
// and is dropped, so removed state cannot resurrect.
func (s *Supervisor) removeAgent(id int, reason string) {
	s.mu.Lock()
	a, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.agents, id)
	a.removed = true
	a.stopTimers()
	s.ledger.Forget(id)
	t := a.tailer
	a.tailer = nil
	s.publish(Event{
		Type:       EventAgentRemoved,
		AgentID:    id,
		Node:       a.Node.Name,
		ProjectKey: a.ProjectKey,
		Time:       time.Now(),
	})
	s.mu.Unlock()

	s.logger.Infof("Agent %d removed (%s)", id, reason)
	stopTailer(t)
}

func stopTailer(t tailer) {
	if t != nil {
		t.Stop()
	}
}

// Launch starts a fresh session on a node and pre-registers an agent bound
// to the session id, so discovery attaches the transcript to this agent and
// no other.
func (s *Supervisor) Launch(ctx context.Context, nodeName, projectDir string) (int, string, error) {
	if s.launchCommand == "" {
		return 0, "", errors.New("no launch command configured")
	}
	node, ok := s.nodeByName(nodeName)
	if !ok {
		return 0, "", fmt.Errorf("unknown node %q", nodeName)
	}

	bindingID := uuid.NewString()
	command := strings.ReplaceAll(s.launchCommand, "{{session}}", bindingID)
	full := fmt.Sprintf("cd %s && %s", remote.ShellQuote(projectDir), command)
	if err := s.runner.Start(ctx, node.Address, full); err != nil {
		return 0, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, "", errors.New("supervisor stopped")
	}
	a := newAgent(s.nextID, node, EncodeProjectKey(projectDir))
	s.nextID++
	a.SessionBindingID = bindingID
	s.agents[a.ID] = a
	s.publish(Event{
		Type:       EventAgentCreated,
		AgentID:    a.ID,
		Node:       node.Name,
		ProjectKey: a.ProjectKey,
		Activity:   ActivityActive,
		Time:       time.Now(),
	})
	s.logger.Infof("Launched session %s on %s (agent %d)", bindingID, node.Name, a.ID)
	return a.ID, bindingID, nil
}

func (s *Supervisor) nodeByName(name string) (Node, bool) {
	for _, node := range s.nodes {
		if node.Name == name {
			return node, true
		}
	}
	return Node{}, false
}

// Agents returns a snapshot of the table, ordered by agent id.
func (s *Supervisor) Agents() []AgentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AgentSnapshot, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe returns a channel of engine events. The channel is buffered;
// events are dropped rather than block the engine on a slow consumer.
func (s *Supervisor) Subscribe() chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 64)
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the channel.
func (s *Supervisor) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// publish fans an event out to subscribers. Callers hold s.mu.
func (s *Supervisor) publish(ev Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
