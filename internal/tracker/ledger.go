package tracker

import "sync"

type fileKey struct {
	node string
	path string
}

// Ledger records which agent owns which transcript file. At most one agent
// may own a file at a time; files an agent has rotated away from (or that
// existed before it) are remembered per agent so they are never re-adopted.
type Ledger struct {
	mu      sync.Mutex
	claimed map[fileKey]int
	ignored map[int]map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		claimed: make(map[fileKey]int),
		ignored: make(map[int]map[string]struct{}),
	}
}

// Claim assigns the file to the agent. Returns false if another agent
// already owns it.
func (l *Ledger) Claim(agentID int, node, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := fileKey{node: node, path: path}
	if owner, ok := l.claimed[key]; ok && owner != agentID {
		return false
	}
	l.claimed[key] = agentID
	return true
}

// Release drops ownership of the file, whoever holds it.
func (l *Ledger) Release(node, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claimed, fileKey{node: node, path: path})
}

// Owner reports the agent owning the file, if any.
func (l *Ledger) Owner(node, path string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.claimed[fileKey{node: node, path: path}]
	return owner, ok
}

// IsClaimed reports whether any agent owns the file.
func (l *Ledger) IsClaimed(node, path string) bool {
	_, ok := l.Owner(node, path)
	return ok
}

// Ignore marks a path the agent must never claim again.
func (l *Ledger) Ignore(agentID int, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.ignored[agentID]
	if !ok {
		set = make(map[string]struct{})
		l.ignored[agentID] = set
	}
	set[path] = struct{}{}
}

// IsIgnored reports whether the agent has disowned the path.
func (l *Ledger) IsIgnored(agentID int, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ignored[agentID][path]
	return ok
}

// Forget removes all state held for an agent.
func (l *Ledger) Forget(agentID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, owner := range l.claimed {
		if owner == agentID {
			delete(l.claimed, key)
		}
	}
	delete(l.ignored, agentID)
}
