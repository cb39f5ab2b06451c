package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_01","name":"Read","input":{"file_path":"/home/u/proj/main.go"}}]}}`
	events := ParseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, LineOperationStarted, events[0].Kind)
	assert.Equal(t, "toolu_01", events[0].OperationID)
	assert.Equal(t, "Reading main.go", events[0].Label)
}

func TestParseLineToolUseBatch(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"tool_use","id":"a","name":"Bash","input":{"command":"go test ./..."}},` +
		`{"type":"tool_use","id":"b","name":"Grep","input":{"pattern":"func main"}}]}}`
	events := ParseLine(line)
	require.Len(t, events, 2)
	assert.Equal(t, "Running: go test ./...", events[0].Label)
	assert.Equal(t, "Searching: func main", events[1].Label)
}

func TestParseLineTextWithToolUseSuppressesTurnEnd(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"let me check"},` +
		`{"type":"tool_use","id":"c","name":"Glob","input":{"pattern":"**/*.go"}}]}}`
	events := ParseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, LineOperationStarted, events[0].Kind)
}

func TestParseLineTextOnlyIsDebouncedTurnEnd(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"done, all tests pass"}]}}`
	events := ParseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, LineTurnEnded, events[0].Kind)
	assert.True(t, events[0].Debounced)
}

func TestParseLineThinkingOnlyIgnored(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"}]}}`
	assert.Empty(t, ParseLine(line))
}

func TestParseLineUserPrompt(t *testing.T) {
	line := `{"type":"user","message":{"content":"please fix the bug"}}`
	events := ParseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, LineNewPrompt, events[0].Kind)
}

func TestParseLineToolResult(t *testing.T) {
	line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok"}]}}`
	events := ParseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, LineOperationCompleted, events[0].Kind)
	assert.Equal(t, "toolu_01", events[0].OperationID)
}

func TestParseLineUserArrayWithoutToolResultIsPrompt(t *testing.T) {
	line := `{"type":"user","message":{"content":[{"type":"text","text":"look at this"}]}}`
	events := ParseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, LineNewPrompt, events[0].Kind)
}

func TestParseLineResultRecord(t *testing.T) {
	line := `{"type":"result","subtype":"success","duration_ms":5120}`
	events := ParseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, LineTurnEnded, events[0].Kind)
	assert.False(t, events[0].Debounced)
}

func TestParseLineResultWithoutDurationIgnored(t *testing.T) {
	assert.Empty(t, ParseLine(`{"type":"result","subtype":"setup"}`))
}

func TestParseLineGarbage(t *testing.T) {
	assert.Empty(t, ParseLine(""))
	assert.Empty(t, ParseLine("not json at all"))
	assert.Empty(t, ParseLine(`{"type":"assistant","message":{"content"`)) // truncated
	assert.Empty(t, ParseLine(`{"type":"summary","summary":"compacted"}`))
}

func TestOperationLabels(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]interface{}
		want  string
	}{
		{"Read", map[string]interface{}{"file_path": "/a/b/server.go"}, "Reading server.go"},
		{"Edit", map[string]interface{}{"file_path": "/a/b/server.go"}, "Editing server.go"},
		{"Write", map[string]interface{}{"file_path": "notes.md"}, "Editing notes.md"},
		{"Task", map[string]interface{}{"description": "explore the repo"}, "Delegating: explore the repo"},
		{"WebFetch", map[string]interface{}{"url": "https://x"}, "WebFetch"},
		{"Bash", nil, "Bash"},
		{"", nil, "Working"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, operationLabel(tc.name, tc.input))
	}
}

func TestOperationLabelTruncatesCommands(t *testing.T) {
	long := "for i in $(seq 1 100); do echo iteration $i && sleep 1; done"
	label := operationLabel("Bash", map[string]interface{}{"command": long})
	assert.Contains(t, label, "Running: ")
	assert.LessOrEqual(t, len(label), len("Running: ")+maxCommandLabel+len("…"))
}
