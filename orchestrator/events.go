package orchestrator

import "time"

// EventType identifies one kind of agent lifecycle event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventTimedOut  EventType = "timed_out"
	EventCancelled EventType = "cancelled"
)

// Event is one agent lifecycle notification. Events for a given agent are
// emitted in state-machine order and consumed by the progress tracker and the
// notification manager.
type Event struct {
	Type      EventType `json:"type"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	// Percent is set for progress events only.
	Percent int `json:"percent,omitempty"`
	// Reason is set for failed events only.
	Reason string `json:"reason,omitempty"`
}

func newEvent(t EventType, agentID string) Event {
	return Event{Type: t, AgentID: agentID, Timestamp: time.Now()}
}
