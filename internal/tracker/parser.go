package tracker

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// LineEventKind classifies what one transcript line means for an agent.
type LineEventKind int

const (
	// LineOperationStarted: the assistant invoked a tool.
	LineOperationStarted LineEventKind = iota
	// LineOperationCompleted: a tool result came back.
	LineOperationCompleted
	// LineTurnEnded: the assistant finished its turn. Debounced for
	// text-only turns (more output may follow), immediate for result
	// records carrying a duration.
	LineTurnEnded
	// LineNewPrompt: the user submitted a new prompt.
	LineNewPrompt
)

// LineEvent is one semantic event extracted from a transcript line. A single
// line can yield several events (one per tool call in a batch).
type LineEvent struct {
	Kind        LineEventKind
	OperationID string
	Label       string
	Debounced   bool
}

// Transcript wire shapes. Only the fields the tracker cares about are
// declared; everything else in a record is ignored.
type transcriptRecord struct {
	Type       string             `json:"type"`
	Message    *transcriptMessage `json:"message"`
	DurationMS *float64           `json:"duration_ms"`
}

type transcriptMessage struct {
	// Content is either a plain string (user prompts) or an array of
	// typed entries (assistant output, tool results).
	Content json.RawMessage `json:"content"`
}

type contentEntry struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Input     map[string]interface{} `json:"input"`
	Text      string                 `json:"text"`
	ToolUseID string                 `json:"tool_use_id"`
}

// ParseLine extracts the semantic events from one transcript line. Lines
// that are not valid JSON, or valid records with nothing of interest, yield
// no events; a corrupt transcript degrades to silence rather than errors.
func ParseLine(line string) []LineEvent {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil
	}

	var rec transcriptRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil
	}

	switch rec.Type {
	case "assistant":
		return parseAssistant(rec.Message)
	case "user":
		return parseUser(rec.Message)
	case "result":
		if rec.DurationMS != nil {
			return []LineEvent{{Kind: LineTurnEnded}}
		}
	}
	return nil
}

// parseAssistant maps assistant output to events. Tool calls win: a record
// that both says something and invokes tools is still mid-turn, so the text
// does not produce a turn-end.
func parseAssistant(msg *transcriptMessage) []LineEvent {
	entries := contentEntries(msg)
	var events []LineEvent
	hasText := false
	for _, entry := range entries {
		switch entry.Type {
		case "tool_use":
			events = append(events, LineEvent{
				Kind:        LineOperationStarted,
				OperationID: entry.ID,
				Label:       operationLabel(entry.Name, entry.Input),
			})
		case "text":
			if strings.TrimSpace(entry.Text) != "" {
				hasText = true
			}
		}
	}
	if len(events) > 0 {
		return events
	}
	if hasText {
		return []LineEvent{{Kind: LineTurnEnded, Debounced: true}}
	}
	return nil
}

// parseUser maps user records to events. A plain string content is a typed
// prompt; an array carrying tool_result entries is the harness feeding tool
// output back, and an array without any is still a prompt (attachments).
func parseUser(msg *transcriptMessage) []LineEvent {
	if msg == nil || len(msg.Content) == 0 {
		return nil
	}

	var prompt string
	if err := json.Unmarshal(msg.Content, &prompt); err == nil {
		return []LineEvent{{Kind: LineNewPrompt}}
	}

	entries := contentEntries(msg)
	var events []LineEvent
	for _, entry := range entries {
		if entry.Type == "tool_result" && entry.ToolUseID != "" {
			events = append(events, LineEvent{
				Kind:        LineOperationCompleted,
				OperationID: entry.ToolUseID,
			})
		}
	}
	if len(events) > 0 {
		return events
	}
	return []LineEvent{{Kind: LineNewPrompt}}
}

func contentEntries(msg *transcriptMessage) []contentEntry {
	if msg == nil || len(msg.Content) == 0 {
		return nil
	}
	var entries []contentEntry
	if err := json.Unmarshal(msg.Content, &entries); err != nil {
		return nil
	}
	return entries
}

// maxCommandLabel bounds shell commands shown in operation labels.
const maxCommandLabel = 48

// operationLabel renders a tool invocation as a short human-readable label.
func operationLabel(name string, input map[string]interface{}) string {
	switch name {
	case "Read":
		if p := inputString(input, "file_path"); p != "" {
			return "Reading " + filepath.Base(p)
		}
	case "Edit", "Write":
		if p := inputString(input, "file_path"); p != "" {
			return "Editing " + filepath.Base(p)
		}
	case "Bash":
		if cmd := inputString(input, "command"); cmd != "" {
			return "Running: " + truncate(cmd, maxCommandLabel)
		}
	case "Task":
		if desc := inputString(input, "description"); desc != "" {
			return "Delegating: " + desc
		}
	case "Grep", "Glob":
		if pat := inputString(input, "pattern"); pat != "" {
			return fmt.Sprintf("Searching: %s", pat)
		}
	}
	if name == "" {
		return "Working"
	}
	return name
}

func inputString(input map[string]interface{}, key string) string {
	if input == nil {
		return ""
	}
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
