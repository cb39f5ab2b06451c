package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"

	"github.com/perchtools/perch/internal/remote"
)

// Node is one machine whose sessions are tracked.
type Node struct {
	Name string
	// Address is the ssh destination; empty for the local machine.
	Address string
	Local   bool
	// SessionsRoot is the directory holding per-project session directories.
	SessionsRoot string
}

// EncodeProjectKey derives the project key for an absolute project path:
// path separators become dashes. The key names the session directory on
// disk; decoding it back is informational only, since dashes inside path
// components are indistinguishable from separators.
func EncodeProjectKey(projectPath string) string {
	return strings.ReplaceAll(projectPath, string(os.PathSeparator), "-")
}

// DecodeProjectKey is the best-effort inverse of EncodeProjectKey.
func DecodeProjectKey(key string) string {
	return strings.ReplaceAll(key, "-", string(os.PathSeparator))
}

// candidate is one session file a lister found.
type candidate struct {
	path    string
	modTime time.Time
}

// lister enumerates session files under a node's sessions root. Remote
// listings are pre-windowed to recently modified files; local listings
// return everything and let the scanner apply the first-scan window.
type lister interface {
	list(ctx context.Context) ([]candidate, error)
}

// Scanner discovers session files on one node and hands each one to the
// supervisor exactly once. Files that are skipped for any reason (ignored,
// too old, already owned) are remembered so they never surface again.
type Scanner struct {
	node     Node
	lister   lister
	settings Settings
	matcher  *patternmatcher.PatternMatcher
	logger   *logrus.Entry

	seen      map[string]struct{}
	firstScan bool

	onDiscovered func(node Node, path string)
	isKnown      func(node, path string) bool
}

func newScanner(logger *logrus.Entry, node Node, runner *remote.Runner, settings Settings, matcher *patternmatcher.PatternMatcher, onDiscovered func(Node, string), isKnown func(string, string) bool) *Scanner {
	var l lister
	if node.Local {
		l = &localLister{root: node.SessionsRoot}
	} else {
		l = &remoteLister{
			runner:  runner,
			address: node.Address,
			root:    node.SessionsRoot,
			window:  settings.ActivityWindow,
		}
	}
	return &Scanner{
		node:         node,
		lister:       l,
		settings:     settings,
		matcher:      matcher,
		logger:       logger,
		seen:         make(map[string]struct{}),
		firstScan:    true,
		onDiscovered: onDiscovered,
		isKnown:      isKnown,
	}
}

// Run scans immediately, then on every tick until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.scanOnce(ctx)
	ticker := time.NewTicker(s.settings.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.scanOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	candidates, err := s.lister.list(ctx)
	if err != nil {
		s.logger.WithError(err).Debugf("Scan failed: %s", s.node.Name)
		return
	}

	now := time.Now()
	for _, c := range candidates {
		if _, ok := s.seen[c.path]; ok {
			continue
		}
		s.seen[c.path] = struct{}{}

		if s.ignored(c.path) {
			continue
		}
		// On the first scan only recently active sessions become agents;
		// the rest is history. Remote listings arrive pre-windowed.
		if s.firstScan && s.node.Local && now.Sub(c.modTime) > s.settings.ActivityWindow {
			continue
		}
		if s.isKnown != nil && s.isKnown(s.node.Name, c.path) {
			continue
		}
		s.onDiscovered(s.node, c.path)
	}
	s.firstScan = false
}

func (s *Scanner) ignored(path string) bool {
	if s.matcher == nil {
		return false
	}
	rel, err := filepath.Rel(s.node.SessionsRoot, path)
	if err != nil {
		rel = path
	}
	matched, err := s.matcher.MatchesOrParentMatches(rel)
	return err == nil && matched
}

// localLister walks <root>/<projectKey>/*.jsonl with two ReadDir levels;
// the layout is flat by construction, so no recursive walk is needed.
type localLister struct {
	root string
}

func (l *localLister) list(_ context.Context) ([]candidate, error) {
	projects, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []candidate
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		dir := filepath.Join(l.root, project.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			out = append(out, candidate{
				path:    filepath.Join(dir, entry.Name()),
				modTime: info.ModTime(),
			})
		}
	}
	return out, nil
}

// remoteLister shells out to find(1) on the remote node. The -mmin filter
// keeps the listing to the activity window on every scan, so an agent for a
// long-dead remote session is never created.
type remoteLister struct {
	runner  *remote.Runner
	address string
	root    string
	window  time.Duration
}

func (l *remoteLister) list(ctx context.Context) ([]candidate, error) {
	minutes := int(l.window.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	command := fmt.Sprintf("find %s -mindepth 2 -maxdepth 2 -type f -name '*.jsonl' -mmin -%d 2>/dev/null || true", remote.ShellQuote(l.root), minutes)
	out, err := l.runner.Output(ctx, l.address, command)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		candidates = append(candidates, candidate{path: line, modTime: time.Now()})
	}
	return candidates, nil
}
