package tracker

import "time"

// Activity is the reduced per-agent state: active (working or mid-turn) or
// waiting for input.
type Activity string

const (
	ActivityActive  Activity = "active"
	ActivityWaiting Activity = "waiting"
)

// EventType enumerates the notifications the supervisor emits to subscribers.
type EventType string

const (
	EventAgentCreated       EventType = "agent_created"
	EventAgentRemoved       EventType = "agent_removed"
	EventOperationStarted   EventType = "operation_started"
	EventOperationCompleted EventType = "operation_completed"
	EventOperationsCleared  EventType = "operations_cleared"
	EventActivityChanged    EventType = "activity_changed"
)

// Event is one notification. Delivery to subscribers is at-least-once with
// non-blocking sends; slow subscribers miss events rather than stall the
// engine.
type Event struct {
	Type        EventType `json:"type"`
	AgentID     int       `json:"agent_id"`
	Node        string    `json:"node,omitempty"`
	ProjectKey  string    `json:"project_key,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	Label       string    `json:"label,omitempty"`
	Activity    Activity  `json:"activity,omitempty"`
	Time        time.Time `json:"time"`
}

// OperationSnapshot is one in-flight operation in an agent snapshot.
type OperationSnapshot struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AgentSnapshot is a point-in-time copy of one agent, safe to serialize.
type AgentSnapshot struct {
	ID             int                 `json:"id"`
	Node           string              `json:"node"`
	ProjectKey     string              `json:"project_key"`
	File           string              `json:"file,omitempty"`
	Activity       Activity            `json:"activity"`
	Operations     []OperationSnapshot `json:"operations,omitempty"`
	ByteOffset     int64               `json:"byte_offset"`
	LastActivityAt time.Time           `json:"last_activity_at"`
}
