package orchestrator

import (
	"time"
)

// Exit codes for the enhance command. Cancellation is deliberately distinct
// from failure so wrappers can tell an interrupted run from a broken one.
const (
	ExitSuccess   = 0
	ExitFailure   = 1
	ExitCancelled = 130
)

// AgentResult is one agent's final record in a run summary.
type AgentResult struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	ItemID      string    `json:"item_id"`
	ItemTitle   string    `json:"item_title"`
	Branch      string    `json:"branch,omitempty"`
	WorkArea    string    `json:"work_area,omitempty"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// RunSummary is the aggregate result of one orchestration invocation.
type RunSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Agents []AgentResult  `json:"agents"`
	Counts map[Status]int `json:"counts"`

	// Success is true iff zero agents ended failed or timed out. Cancellation
	// is a separate outcome and does not by itself clear Success.
	Success   bool `json:"success"`
	Cancelled bool `json:"cancelled"`

	CleanupErrors []string `json:"cleanup_errors,omitempty"`
}

// ExitCode maps the summary onto a process exit code.
func (s *RunSummary) ExitCode() int {
	if s.Cancelled {
		return ExitCancelled
	}
	if s.Counts[StatusFailed] > 0 || s.Counts[StatusTimedOut] > 0 {
		return ExitFailure
	}
	return ExitSuccess
}

// summarize builds the run summary from the final agent states.
func summarize(startedAt time.Time, agents []*Agent, cleanup CleanupReport) *RunSummary {
	summary := &RunSummary{
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Counts:     make(map[Status]int),
	}

	for _, agent := range agents {
		status := agent.Status()
		summary.Counts[status]++

		result := AgentResult{
			ID:          agent.ID,
			Role:        agent.Role,
			ItemID:      agent.Item.ID,
			ItemTitle:   agent.Item.Title,
			Status:      status,
			Reason:      agent.Reason(),
			StartedAt:   agent.StartedAt(),
			CompletedAt: agent.CompletedAt(),
		}
		if ws := agent.Workspace(); ws != nil {
			result.Branch = ws.BranchName()
			result.WorkArea = ws.Path()
		}
		summary.Agents = append(summary.Agents, result)
	}

	summary.Success = summary.Counts[StatusFailed] == 0 && summary.Counts[StatusTimedOut] == 0
	summary.Cancelled = summary.Counts[StatusCancelled] > 0
	summary.CleanupErrors = cleanup.Errors()
	return summary
}
