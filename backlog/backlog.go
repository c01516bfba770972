package backlog

// State is the lifecycle state of a work item on the backlog.
type State string

const (
	StateOpen       State = "open"
	StateInProgress State = "in_progress"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// WorkItem is one unit of work an agent can be assigned.
type WorkItem struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Role        string `yaml:"role,omitempty" json:"role,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	State       State  `yaml:"state" json:"state"`
}

// Capability reports whether a backlog provider is usable. It is resolved once
// at startup; callers consult it instead of probing the provider per call.
type Capability struct {
	Available bool
	// Source describes where the backlog lives, for logging.
	Source string
}

// Provider is the narrow interface the orchestrator reads and writes work
// items through. It never inspects backlog storage directly.
type Provider interface {
	// Capability reports whether the backlog is usable at all.
	Capability() Capability
	// ListWorkItems returns the items currently in the given state.
	// An empty state returns everything.
	ListWorkItems(state State) ([]WorkItem, error)
	// MoveItem transitions the item with the given id to newState.
	MoveItem(id string, newState State) error
}
