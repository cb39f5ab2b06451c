package tracker

import "time"

// Agent is the live state of one tracked session. All fields are guarded by
// the supervisor mutex; Agent itself has no lock.
type Agent struct {
	ID         int
	Node       Node
	ProjectKey string
	// CurrentFile is the owned transcript path; empty while a launched
	// agent waits for its deterministically named file to appear.
	CurrentFile string
	// SessionBindingID, when set, is the session id this agent was launched
	// with. It binds the agent to exactly one filename and exempts that file
	// from generic adoption.
	SessionBindingID string

	tailer tailer
	// tailGen stamps line deliveries so a stopped tailer's stragglers are
	// recognizable and dropped.
	tailGen int

	activeOps map[string]string
	opOrder   []string
	waiting   bool

	lastActivityAt time.Time
	removed        bool

	debounceGen        int
	debounceTimer      *time.Timer
	pendingCompletions map[string]*time.Timer
}

func newAgent(id int, node Node, projectKey string) *Agent {
	return &Agent{
		ID:                 id,
		Node:               node,
		ProjectKey:         projectKey,
		activeOps:          make(map[string]string),
		pendingCompletions: make(map[string]*time.Timer),
		lastActivityAt:     time.Now(),
	}
}

func (a *Agent) activity() Activity {
	if a.waiting {
		return ActivityWaiting
	}
	return ActivityActive
}

func (a *Agent) snapshot() AgentSnapshot {
	snap := AgentSnapshot{
		ID:             a.ID,
		Node:           a.Node.Name,
		ProjectKey:     a.ProjectKey,
		File:           a.CurrentFile,
		Activity:       a.activity(),
		LastActivityAt: a.lastActivityAt,
	}
	if a.tailer != nil {
		snap.ByteOffset = a.tailer.Offset()
	}
	for _, id := range a.opOrder {
		if label, ok := a.activeOps[id]; ok {
			snap.Operations = append(snap.Operations, OperationSnapshot{ID: id, Label: label})
		}
	}
	return snap
}

// addOperation records an in-flight operation, keeping insertion order for
// display.
func (a *Agent) addOperation(id, label string) {
	if _, ok := a.activeOps[id]; !ok {
		a.opOrder = append(a.opOrder, id)
	}
	a.activeOps[id] = label
}

func (a *Agent) removeOperation(id string) {
	if _, ok := a.activeOps[id]; !ok {
		return
	}
	delete(a.activeOps, id)
	for i, op := range a.opOrder {
		if op == id {
			a.opOrder = append(a.opOrder[:i], a.opOrder[i+1:]...)
			break
		}
	}
}

// stopTimers cancels every pending timer. Called on removal and rotation;
// timer callbacks that already fired re-check agent state under the
// supervisor lock and become no-ops.
func (a *Agent) stopTimers() {
	a.debounceGen++
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
	for id, timer := range a.pendingCompletions {
		timer.Stop()
		delete(a.pendingCompletions, id)
	}
}
