package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"enhanceswarm/backlog"
	"enhanceswarm/log"
	"enhanceswarm/runner"
)

// WorktreeProvider allocates isolated work areas, one per agent. The git
// mechanics behind it are an external collaborator.
type WorktreeProvider interface {
	Allocate(agentID string) (Workspace, error)
}

// Options holds the tunables for one orchestration run.
type Options struct {
	// Concurrency caps simultaneously running agents, at least 1.
	Concurrency int
	// PollInterval is the monitor's polling cadence.
	PollInterval time.Duration
	// AgentTimeout is the per-agent deadline. Zero disables it.
	AgentTimeout time.Duration
	// RunTimeout bounds the whole run. Zero disables it.
	RunTimeout time.Duration
	// Grace is how long terminated agents get to exit voluntarily.
	Grace time.Duration
	// Retry governs worktree setup commands.
	Retry RetryPolicy
	// OutputRingLines bounds the in-memory output buffer per agent.
	OutputRingLines int
}

// Orchestrator composes the run: it resolves work items into agents, leases a
// worktree per agent, spawns agent processes, watches them through the
// monitor, and guarantees cleanup on every path out.
type Orchestrator struct {
	layout    Layout
	worktrees WorktreeProvider
	runner    runner.Runner
	backlog   backlog.Provider
	capab     backlog.Capability
	opts      Options

	controller *Controller
	cleanup    *CleanupManager
	tracker    *ProgressTracker
	notifier   *NotificationManager
	streamer   *OutputStreamer
}

// New wires an orchestrator. provider and sink may be nil; the backlog
// capability is resolved once here rather than probed at each call site.
func New(layout Layout, worktrees WorktreeProvider, r runner.Runner, provider backlog.Provider, sink Sink, opts Options) *Orchestrator {
	o := &Orchestrator{
		layout:     layout,
		worktrees:  worktrees,
		runner:     r,
		backlog:    provider,
		opts:       opts,
		controller: NewController(layout),
		cleanup:    NewCleanupManager(layout),
		tracker:    NewProgressTracker(layout.StatusDir()),
		notifier:   NewNotificationManager(sink),
	}
	if provider != nil {
		o.capab = provider.Capability()
	}
	o.streamer = NewOutputStreamer(opts.OutputRingLines, o.onOutputLine)
	return o
}

// Controller exposes the run's control channel for the CLI surface.
func (o *Orchestrator) Controller() *Controller {
	return o.controller
}

// Tracker exposes the progress view for status consumers.
func (o *Orchestrator) Tracker() *ProgressTracker {
	return o.tracker
}

// Cleanup exposes the cleanup manager for the standalone cleanup command.
func (o *Orchestrator) Cleanup() *CleanupManager {
	return o.cleanup
}

// Run executes one enhancement run over the given work items and returns its
// summary. The cleanup manager always runs before Run returns, regardless of
// how the run ended. Per-agent errors are isolated; only run-level conditions
// (no items, bad concurrency, unusable run directory) return an error.
func (o *Orchestrator) Run(ctx context.Context, items []backlog.WorkItem) (*RunSummary, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no work items to run")
	}
	if o.opts.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", o.opts.Concurrency)
	}
	if err := o.layout.EnsureDirs(); err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	runCtx := ctx
	if o.opts.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	startedAt := time.Now()

	agents := make([]*Agent, 0, len(items))
	for _, item := range items {
		role := ParseRole(item.Role)
		id := fmt.Sprintf("%s-%s", role, uuid.NewString()[:8])
		agents = append(agents, NewAgent(id, role, item,
			o.layout.MarkerPath(id), o.layout.OutputPath(id), o.layout.ControlPath(id)))
	}

	rc := &RunContext{Ctx: runCtx, Layout: o.layout, Retry: o.opts.Retry, Agents: agents}

	events := make(chan Event, 256)
	emit := func(ev Event) {
		select {
		case events <- ev:
		default:
			log.WarningLog.Printf("event buffer full, dropping %s for %s", ev.Type, ev.AgentID)
		}
	}

	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		for ev := range events {
			o.handleEvent(ev)
		}
	}()

	sem := make(chan struct{}, o.opts.Concurrency)
	var spawnWG sync.WaitGroup
	for _, agent := range agents {
		spawnWG.Add(1)
		go func(a *Agent) {
			defer spawnWG.Done()
			o.runAgent(rc, a, sem, emit)
		}(agent)
	}

	monitor := NewMonitor(o.opts.PollInterval, o.opts.AgentTimeout, o.opts.Grace, o.controller)
	monitor.Watch(rc, emit)
	spawnWG.Wait()

	// Stop tails before closing the event stream: the line callback feeds
	// the tracker and must not outlive the consumer.
	cancel()
	o.streamer.Wait()
	close(events)
	consumerWG.Wait()

	report := o.cleanup.Reclaim(agents)
	if !report.OK() {
		log.WarningLog.Printf("cleanup finished with %d unreclaimed resources", len(report.Errors()))
	}

	o.moveBacklogItems(agents)

	return summarize(startedAt, agents, report), nil
}

// runAgent drives one agent from lease allocation to its terminal status.
// It holds a concurrency slot for the agent's whole lifetime.
func (o *Orchestrator) runAgent(rc *RunContext, a *Agent, sem chan struct{}, emit func(Event)) {
	select {
	case sem <- struct{}{}:
	case <-rc.Ctx.Done():
		if a.MarkCancelled() {
			emit(newEvent(EventCancelled, a.ID))
		}
		return
	}
	defer func() { <-sem }()

	ws, err := o.worktrees.Allocate(a.ID)
	if err != nil {
		o.failAgent(a, &SpawnError{AgentID: a.ID, Err: err}, emit)
		return
	}
	a.SetWorkspace(ws)

	// Worktree creation and setup commands are where transient failures live
	// (network fetches, package installs); they go through the retry policy.
	err = rc.Retry.Do(rc.Ctx, func(ctx context.Context) error {
		if err := ws.Create(); err != nil {
			return err
		}
		return ws.Setup()
	})
	if err != nil {
		if errors.Is(err, ErrCancelled) || rc.Ctx.Err() != nil {
			if a.MarkCancelled() {
				emit(newEvent(EventCancelled, a.ID))
			}
			return
		}
		o.failAgent(a, &SpawnError{AgentID: a.ID, Err: err}, emit)
		return
	}

	handle, err := o.runner.Spawn(ws.Path(), a.OutputPath, o.instructionsFor(a))
	if err != nil {
		o.failAgent(a, &SpawnError{AgentID: a.ID, Err: err}, emit)
		return
	}

	if !a.MarkRunning(handle) {
		// The run was cancelled between setup and spawn; don't leak the process.
		_ = handle.Terminate(o.opts.Grace)
		return
	}
	emit(newEvent(EventStarted, a.ID))
	o.streamer.Tail(rc.Ctx, a.ID, a.OutputPath)

	if o.backlog != nil && o.capab.Available {
		if err := o.backlog.MoveItem(a.Item.ID, backlog.StateInProgress); err != nil {
			log.WarningLog.Printf("failed to move item %s to in_progress: %v", a.Item.ID, err)
		}
	}

	<-a.Done()
}

// failAgent books a spawn-phase failure. Fatal to this agent only.
func (o *Orchestrator) failAgent(a *Agent, spawnErr *SpawnError, emit func(Event)) {
	log.ErrorLog.Printf("%v", spawnErr)
	if a.MarkFailed(spawnErr.Error()) {
		ev := newEvent(EventFailed, a.ID)
		ev.Reason = spawnErr.Error()
		emit(ev)
	}
}

// handleEvent fans one lifecycle event out to the progress view and the
// notification sink.
func (o *Orchestrator) handleEvent(ev Event) {
	switch ev.Type {
	case EventStarted:
		o.tracker.MarkStatus(ev.AgentID, StatusRunning)
	case EventCompleted:
		o.tracker.MarkStatus(ev.AgentID, StatusCompleted)
	case EventFailed:
		o.tracker.MarkStatus(ev.AgentID, StatusFailed)
	case EventTimedOut:
		o.tracker.MarkStatus(ev.AgentID, StatusTimedOut)
	case EventCancelled:
		o.tracker.MarkStatus(ev.AgentID, StatusCancelled)
	}
	log.InfoLog.Printf("agent %s: %s", ev.AgentID, ev.Type)
	o.notifier.Publish(ev)
}

// progressLineRegex matches cooperative progress reports in agent output,
// e.g. "PROGRESS: 40".
var progressLineRegex = regexp.MustCompile(`PROGRESS:\s*(\d{1,3})`)

// onOutputLine feeds self-reported progress from the output stream into the
// tracker and the notification sink.
func (o *Orchestrator) onOutputLine(agentID, line string) {
	m := progressLineRegex.FindStringSubmatch(line)
	if m == nil {
		return
	}
	percent, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}

	o.tracker.Set(agentID, percent, StatusRunning)
	ev := newEvent(EventProgress, agentID)
	ev.Percent = percent
	o.notifier.Publish(ev)
}

// moveBacklogItems writes the agents' final statuses back to the backlog.
func (o *Orchestrator) moveBacklogItems(agents []*Agent) {
	if o.backlog == nil || !o.capab.Available {
		return
	}

	for _, agent := range agents {
		var target backlog.State
		switch agent.Status() {
		case StatusCompleted:
			target = backlog.StateDone
		case StatusFailed, StatusTimedOut:
			target = backlog.StateFailed
		case StatusCancelled:
			// Back onto the backlog: cancelled work was never finished.
			target = backlog.StateOpen
		default:
			continue
		}
		if err := o.backlog.MoveItem(agent.Item.ID, target); err != nil {
			log.WarningLog.Printf("failed to move item %s to %s: %v", agent.Item.ID, target, err)
		}
	}
}

// instructionsFor composes the instructions handed to one agent process.
func (o *Orchestrator) instructionsFor(a *Agent) string {
	var b strings.Builder
	b.WriteString(rolePreamble(a.Role))
	fmt.Fprintf(&b, "\n\nTask %s: %s\n", a.Item.ID, a.Item.Title)
	if a.Item.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", a.Item.Description)
	}
	fmt.Fprintf(&b, "\nWork only inside the current directory.\n")
	fmt.Fprintf(&b, "Report progress by printing lines like \"PROGRESS: 40\".\n")
	fmt.Fprintf(&b, "Check %s for pause/resume/stop requests and honor them.\n", a.ControlPath)
	fmt.Fprintf(&b, "When the task is fully done, commit your changes and create the file %s.\n", a.MarkerPath)
	return b.String()
}

func rolePreamble(role Role) string {
	switch role {
	case RolePlanner:
		return "You are a planning agent. Break the task into concrete steps and record them before making changes."
	case RoleBackend:
		return "You are a backend agent. Implement server-side logic and keep the test suite green."
	case RoleFrontend:
		return "You are a frontend agent. Implement UI changes and keep them consistent with the existing design."
	case RoleQA:
		return "You are a QA agent. Write and run tests for the described behavior and fix what they catch."
	default:
		return "You are a development agent. Complete the task described below."
	}
}
