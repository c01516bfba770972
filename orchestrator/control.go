package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ControlAction is a supervisory command addressed to one agent.
type ControlAction string

const (
	ControlPause  ControlAction = "pause"
	ControlResume ControlAction = "resume"
	ControlStop   ControlAction = "stop"
)

// ControlIntent is the durable record of a control command. The target agent
// process is expected to observe it cooperatively; the core guarantees only
// that the intent is recorded, not that the agent honors it. A stop intent is
// additionally treated as a cancellation by the monitor.
type ControlIntent struct {
	AgentID  string        `json:"agent_id"`
	Action   ControlAction `json:"action"`
	IssuedAt time.Time     `json:"issued_at"`
}

// Controller records control intents as files under the run's control directory.
type Controller struct {
	layout Layout
}

// NewController returns a controller writing into layout's control directory.
func NewController(layout Layout) *Controller {
	return &Controller{layout: layout}
}

// Pause records a pause intent for agentID.
func (c *Controller) Pause(agentID string) error {
	return c.write(agentID, ControlPause)
}

// Resume records a resume intent for agentID.
func (c *Controller) Resume(agentID string) error {
	return c.write(agentID, ControlResume)
}

// Stop records a stop intent for agentID. The monitor books the agent as
// cancelled once it observes the intent.
func (c *Controller) Stop(agentID string) error {
	return c.write(agentID, ControlStop)
}

// Intent returns the recorded intent for agentID, or nil if none exists.
func (c *Controller) Intent(agentID string) (*ControlIntent, error) {
	data, err := os.ReadFile(c.layout.ControlPath(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read control intent: %w", err)
	}

	var intent ControlIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("failed to parse control intent for %s: %w", agentID, err)
	}
	return &intent, nil
}

// write records the intent atomically so a concurrent reader never sees a
// half-written file.
func (c *Controller) write(agentID string, action ControlAction) error {
	if err := os.MkdirAll(c.layout.ControlDir(), 0755); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	intent := ControlIntent{AgentID: agentID, Action: action, IssuedAt: time.Now()}
	data, err := json.MarshalIndent(intent, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal control intent: %w", err)
	}

	path := c.layout.ControlPath(agentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write control intent: %w", err)
	}
	return os.Rename(tmp, path)
}
