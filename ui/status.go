package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"enhanceswarm/orchestrator"
)

var completedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#51bd73", Dark: "#51bd73"})

var failedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#de613e"))

var timedOutStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#F0A868"))

var cancelledStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#888888", Dark: "#888888"})

var runningStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#0ea5e9"))

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#dddddd"})

var dimStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"})

func statusStyle(s orchestrator.Status) lipgloss.Style {
	switch s {
	case orchestrator.StatusCompleted:
		return completedStyle
	case orchestrator.StatusFailed:
		return failedStyle
	case orchestrator.StatusTimedOut:
		return timedOutStyle
	case orchestrator.StatusCancelled:
		return cancelledStyle
	case orchestrator.StatusRunning:
		return runningStyle
	default:
		return dimStyle
	}
}

// RenderProgress renders the per-agent progress table shown by the status
// command. Agents are sorted by ID for a stable layout across refreshes.
func RenderProgress(progress []orchestrator.AgentProgress) string {
	if len(progress) == 0 {
		return dimStyle.Render("no agents recorded")
	}

	sorted := make([]orchestrator.AgentProgress, len(progress))
	copy(sorted, progress)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-28s %-10s %8s  %s", "AGENT", "STATUS", "PROGRESS", "UPDATED")))
	b.WriteString("\n")
	for _, p := range sorted {
		line := fmt.Sprintf("%-28s %-10s %7d%%  %s",
			p.AgentID, p.Status, p.Percent, p.UpdatedAt.Format(time.Kitchen))
		b.WriteString(statusStyle(p.Status).Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderSummary renders the end-of-run report printed by the enhance command.
func RenderSummary(summary *orchestrator.RunSummary) string {
	var b strings.Builder

	verdict := completedStyle.Render("run succeeded")
	if summary.Cancelled {
		verdict = cancelledStyle.Render("run cancelled")
	} else if !summary.Success {
		verdict = failedStyle.Render("run failed")
	}
	b.WriteString(headerStyle.Render("Run summary"))
	b.WriteString("  ")
	b.WriteString(verdict)
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("duration %s, %d agents",
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second), len(summary.Agents))))
	b.WriteString("\n\n")

	for _, a := range summary.Agents {
		line := fmt.Sprintf("%-28s %-10s", a.ID, a.Status)
		if a.Reason != "" {
			line += "  " + a.Reason
		}
		b.WriteString(statusStyle(a.Status).Render(line))
		b.WriteString("\n")
	}

	if len(summary.CleanupErrors) > 0 {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render(fmt.Sprintf("%d cleanup errors:", len(summary.CleanupErrors))))
		b.WriteString("\n")
		for _, e := range summary.CleanupErrors {
			b.WriteString(dimStyle.Render("  " + e))
			b.WriteString("\n")
		}
	}

	return b.String()
}
