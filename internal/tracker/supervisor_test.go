package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchtools/perch/internal/remote"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	settings := DefaultSettings()
	settings.PollInterval = 10 * time.Millisecond
	settings.CompletionDelay = 20 * time.Millisecond
	settings.TurnDebounce = 40 * time.Millisecond
	settings.RotationStaleAfter = 20 * time.Millisecond
	settings.ReapAfter = 50 * time.Millisecond

	runner := remote.NewRunner(testLogger(), time.Second, 2*time.Second)
	nodes := []Node{{Name: "local", Local: true, SessionsRoot: t.TempDir()}}
	sup, err := New(testLogger(), settings, runner, nodes, nil, "true # session={{session}}")
	require.NoError(t, err)
	t.Cleanup(sup.Stop)
	return sup
}

func localNode(sup *Supervisor) Node {
	return sup.nodes[0]
}

func sessionPath(t *testing.T, sup *Supervisor, project, name string) string {
	t.Helper()
	dir := filepath.Join(localNode(sup).SessionsRoot, project)
	require.NoError(t, os.MkdirAll(dir, 0755))
	return filepath.Join(dir, name)
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// waitEvent drains the channel until an event of the wanted type arrives.
func waitEvent(t *testing.T, ch chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestDiscoveryCreatesAgent(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "abc.jsonl")
	appendLine(t, path, `{"type":"user","message":{"content":"hello"}}`)

	sup.OnSessionDiscovered(localNode(sup), path)

	ev := waitEvent(t, ch, EventAgentCreated)
	assert.Equal(t, "local", ev.Node)
	assert.Equal(t, "-home-u-api", ev.ProjectKey)

	agents := sup.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, path, agents[0].File)
	assert.Equal(t, ActivityActive, agents[0].Activity)
}

func TestDiscoveryIsIdempotentForClaimedFiles(t *testing.T) {
	sup := newTestSupervisor(t)
	path := sessionPath(t, sup, "-home-u-api", "abc.jsonl")
	appendLine(t, path, `{"type":"user","message":{"content":"hello"}}`)

	sup.OnSessionDiscovered(localNode(sup), path)
	sup.OnSessionDiscovered(localNode(sup), path)
	sup.OnSessionDiscovered(localNode(sup), path)

	assert.Len(t, sup.Agents(), 1)
}

func TestOperationLifecycle(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "ops.jsonl")
	appendLine(t, path, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"op1","name":"Read","input":{"file_path":"/x/main.go"}}]}}`)
	sup.OnSessionDiscovered(localNode(sup), path)

	started := waitEvent(t, ch, EventOperationStarted)
	assert.Equal(t, "op1", started.OperationID)
	assert.Equal(t, "Reading main.go", started.Label)

	agents := sup.Agents()
	require.Len(t, agents, 1)
	require.Len(t, agents[0].Operations, 1)

	appendLine(t, path, `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"op1"}]}}`)
	completed := waitEvent(t, ch, EventOperationCompleted)
	assert.Equal(t, "op1", completed.OperationID)

	assert.Empty(t, sup.Agents()[0].Operations)
}

func TestSameBatchStartAndCompletionNeverCollapse(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	// Both the tool call and its result are on disk before discovery, so
	// they arrive in one read batch. The pair must still be observable: the
	// start immediately, the completion no sooner than the delay.
	path := sessionPath(t, sup, "-home-u-api", "batch.jsonl")
	appendLine(t, path, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"op9","name":"Read","input":{"file_path":"/x/go.mod"}}]}}`)
	appendLine(t, path, `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"op9"}]}}`)
	sup.OnSessionDiscovered(localNode(sup), path)

	started := waitEvent(t, ch, EventOperationStarted)
	completed := waitEvent(t, ch, EventOperationCompleted)
	assert.Equal(t, "op9", completed.OperationID)
	assert.GreaterOrEqual(t, completed.Time.Sub(started.Time), sup.settings.CompletionDelay,
		"completion must trail the start by at least the delay")
}

func TestTextTurnEndDebouncesToWaiting(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "turn.jsonl")
	appendLine(t, path, `{"type":"assistant","message":{"content":[{"type":"text","text":"all done"}]}}`)
	sup.OnSessionDiscovered(localNode(sup), path)

	ev := waitEvent(t, ch, EventActivityChanged)
	assert.Equal(t, ActivityWaiting, ev.Activity)

	// A new prompt flips the agent back to active.
	appendLine(t, path, `{"type":"user","message":{"content":"next task"}}`)
	ev = waitEvent(t, ch, EventActivityChanged)
	assert.Equal(t, ActivityActive, ev.Activity)
}

func TestToolUseCancelsTurnEndDebounce(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "cancel.jsonl")
	appendLine(t, path, `{"type":"assistant","message":{"content":[{"type":"text","text":"checking one more thing"}]}}`)
	appendLine(t, path, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"op2","name":"Bash","input":{"command":"ls"}}]}}`)
	sup.OnSessionDiscovered(localNode(sup), path)

	waitEvent(t, ch, EventOperationStarted)

	// Well past the debounce window the agent must still be active: the
	// tool call superseded the text-only turn end.
	time.Sleep(100 * time.Millisecond)
	agents := sup.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, ActivityActive, agents[0].Activity)
}

func TestResultRecordEndsTurnImmediately(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "result.jsonl")
	appendLine(t, path, `{"type":"result","duration_ms":1234}`)
	sup.OnSessionDiscovered(localNode(sup), path)

	ev := waitEvent(t, ch, EventActivityChanged)
	assert.Equal(t, ActivityWaiting, ev.Activity)
}

func TestResultRecordClearsLingeringOperations(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "settle.jsonl")
	appendLine(t, path, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"op5","name":"Bash","input":{"command":"make"}}]}}`)
	sup.OnSessionDiscovered(localNode(sup), path)
	waitEvent(t, ch, EventOperationStarted)

	// The duration marker settles the turn even though the operation never
	// reported a result; subscribers are told the list was cleared rather
	// than left holding a stranded entry.
	appendLine(t, path, `{"type":"result","duration_ms":88}`)
	waitEvent(t, ch, EventOperationsCleared)
	ev := waitEvent(t, ch, EventActivityChanged)
	assert.Equal(t, ActivityWaiting, ev.Activity)
	assert.Empty(t, sup.Agents()[0].Operations)
}

func TestNewPromptClearsOperations(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "clear.jsonl")
	appendLine(t, path, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"op3","name":"Bash","input":{"command":"sleep 100"}}]}}`)
	sup.OnSessionDiscovered(localNode(sup), path)
	waitEvent(t, ch, EventOperationStarted)

	// The user interrupts; the stuck operation must not linger.
	appendLine(t, path, `{"type":"user","message":{"content":"stop, do something else"}}`)
	waitEvent(t, ch, EventOperationsCleared)

	assert.Empty(t, sup.Agents()[0].Operations)
}

func TestLaunchBindsDeterministically(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	projectDir := "/home/u/api"
	agentID, bindingID, err := sup.Launch(context.Background(), "local", projectDir)
	require.NoError(t, err)
	waitEvent(t, ch, EventAgentCreated)

	agents := sup.Agents()
	require.Len(t, agents, 1)
	assert.Empty(t, agents[0].File, "launched agent starts with no file")

	// The transcript named after the session id must attach to the
	// launched agent, not create a second one.
	path := sessionPath(t, sup, EncodeProjectKey(projectDir), bindingID+".jsonl")
	appendLine(t, path, `{"type":"user","message":{"content":"hi"}}`)
	sup.OnSessionDiscovered(localNode(sup), path)

	agents = sup.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, agentID, agents[0].ID)
	assert.Equal(t, path, agents[0].File)

	// A different file in the same project is a separate session.
	other := sessionPath(t, sup, EncodeProjectKey(projectDir), "other.jsonl")
	appendLine(t, other, `{"type":"user","message":{"content":"hi"}}`)
	sup.OnSessionDiscovered(localNode(sup), other)
	assert.Len(t, sup.Agents(), 2)
}

func TestLaunchUnknownNode(t *testing.T) {
	sup := newTestSupervisor(t)
	_, _, err := sup.Launch(context.Background(), "mars", "/tmp")
	assert.Error(t, err)
}

func TestRotationRebindsStaleAgent(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	oldPath := sessionPath(t, sup, "-home-u-api", "old.jsonl")
	appendLine(t, oldPath, `{"type":"user","message":{"content":"hi"}}`)
	sup.OnSessionDiscovered(localNode(sup), oldPath)
	waitEvent(t, ch, EventAgentCreated)

	// Let the agent go stale, then the assistant restarts into a new file.
	time.Sleep(50 * time.Millisecond)
	newPath := sessionPath(t, sup, "-home-u-api", "new.jsonl")
	appendLine(t, newPath, `{"type":"user","message":{"content":"continuing"}}`)

	sup.rotateOnce()

	agents := sup.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, newPath, agents[0].File)

	// The old file is disowned for good: even stale again, never re-adopted.
	assert.True(t, sup.ledger.IsIgnored(agents[0].ID, oldPath))
	assert.False(t, sup.ledger.IsClaimed("local", oldPath))
}

func TestScannerDiscoveryRotatesStaleAgent(t *testing.T) {
	sup := newTestSupervisor(t)
	sup.settings.ScanInterval = 10 * time.Millisecond
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	oldPath := sessionPath(t, sup, "-home-u-api", "old.jsonl")
	appendLine(t, oldPath, `{"type":"user","message":{"content":"hi"}}`)

	// Full engine: the scanner loop races the rotation pass for the new file.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)

	created := waitEvent(t, ch, EventAgentCreated)

	// Let the agent go stale, then the assistant restarts into a new file.
	time.Sleep(50 * time.Millisecond)
	newPath := sessionPath(t, sup, "-home-u-api", "new.jsonl")
	appendLine(t, newPath, `{"type":"user","message":{"content":"continuing"}}`)

	require.Eventually(t, func() bool {
		agents := sup.Agents()
		return len(agents) == 1 && agents[0].File == newPath
	}, 3*time.Second, 10*time.Millisecond,
		"the stale agent rebinds no matter whether the scanner or the rotation pass finds the file first")

	agents := sup.Agents()
	assert.Equal(t, created.AgentID, agents[0].ID, "same agent, not a duplicate")
	assert.True(t, sup.ledger.IsIgnored(agents[0].ID, oldPath))
}

func TestRotationSkipsPreexistingSiblings(t *testing.T) {
	sup := newTestSupervisor(t)

	historical := sessionPath(t, sup, "-home-u-api", "history.jsonl")
	appendLine(t, historical, `{"type":"user","message":{"content":"long ago"}}`)

	current := sessionPath(t, sup, "-home-u-api", "current.jsonl")
	appendLine(t, current, `{"type":"user","message":{"content":"hi"}}`)
	sup.OnSessionDiscovered(localNode(sup), current)

	time.Sleep(50 * time.Millisecond)
	// Touch the historical file so it looks fresh; it still must not be
	// adopted, it predates the agent.
	now := time.Now()
	require.NoError(t, os.Chtimes(historical, now, now))

	sup.rotateOnce()

	agents := sup.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, current, agents[0].File)
}

func TestRotationArbitrationOneClaimPerCycle(t *testing.T) {
	sup := newTestSupervisor(t)

	a1 := sessionPath(t, sup, "-home-u-api", "a1.jsonl")
	appendLine(t, a1, `{"type":"user","message":{"content":"hi"}}`)
	sup.OnSessionDiscovered(localNode(sup), a1)

	time.Sleep(5 * time.Millisecond)
	a2 := sessionPath(t, sup, "-home-u-api", "a2.jsonl")
	appendLine(t, a2, `{"type":"user","message":{"content":"hi"}}`)
	sup.OnSessionDiscovered(localNode(sup), a2)

	require.Len(t, sup.Agents(), 2)

	// Both agents go stale, then two fresh files appear.
	time.Sleep(50 * time.Millisecond)
	b1 := sessionPath(t, sup, "-home-u-api", "b1.jsonl")
	appendLine(t, b1, `{"type":"user","message":{"content":"x"}}`)
	b2 := sessionPath(t, sup, "-home-u-api", "b2.jsonl")
	appendLine(t, b2, `{"type":"user","message":{"content":"y"}}`)

	sup.rotateOnce()

	rotated := 0
	for _, a := range sup.Agents() {
		if a.File == b1 || a.File == b2 {
			rotated++
		}
	}
	assert.Equal(t, 1, rotated, "only the most recently active stale agent claims per cycle")

	// The loser picks up the remaining file on the next pass.
	time.Sleep(30 * time.Millisecond)
	sup.rotateOnce()
	rotated = 0
	for _, a := range sup.Agents() {
		if a.File == b1 || a.File == b2 {
			rotated++
		}
	}
	assert.Equal(t, 2, rotated)
}

func TestReaperRemovesIdleAgents(t *testing.T) {
	sup := newTestSupervisor(t)
	ch := sup.Subscribe()
	defer sup.Unsubscribe(ch)

	path := sessionPath(t, sup, "-home-u-api", "idle.jsonl")
	appendLine(t, path, `{"type":"user","message":{"content":"hi"}}`)
	sup.OnSessionDiscovered(localNode(sup), path)
	waitEvent(t, ch, EventAgentCreated)

	// Age the file past the reap threshold.
	stale := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, stale, stale))

	sup.reapOnce()

	waitEvent(t, ch, EventAgentRemoved)
	assert.Empty(t, sup.Agents())
	assert.False(t, sup.ledger.IsClaimed("local", path), "removal releases ownership")
}

func TestSnapshotOrderingAndOffsets(t *testing.T) {
	sup := newTestSupervisor(t)

	for i := 0; i < 3; i++ {
		path := sessionPath(t, sup, "-home-u-api", fmt.Sprintf("s%d.jsonl", i))
		appendLine(t, path, `{"type":"user","message":{"content":"hi"}}`)
		sup.OnSessionDiscovered(localNode(sup), path)
	}

	agents := sup.Agents()
	require.Len(t, agents, 3)
	assert.True(t, agents[0].ID < agents[1].ID && agents[1].ID < agents[2].ID)

	require.Eventually(t, func() bool {
		for _, a := range sup.Agents() {
			if a.ByteOffset == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "offsets advance once content is consumed")
}
