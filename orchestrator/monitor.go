package orchestrator

import (
	"fmt"
	"os"
	"sync"
	"time"

	"enhanceswarm/log"
)

// Monitor polls agent processes and filesystem completion markers and raises
// lifecycle events. A single polling loop covers all agents; no per-agent
// goroutines are used.
type Monitor struct {
	pollInterval time.Duration
	agentTimeout time.Duration
	grace        time.Duration
	controller   *Controller

	terminations sync.WaitGroup
}

// NewMonitor returns a monitor. agentTimeout of zero disables the per-agent
// deadline. controller may be nil if no control channel is configured.
func NewMonitor(pollInterval, agentTimeout, grace time.Duration, controller *Controller) *Monitor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Monitor{
		pollInterval: pollInterval,
		agentTimeout: agentTimeout,
		grace:        grace,
		controller:   controller,
	}
}

// Watch runs the polling loop over the run's agents until every agent is
// terminal or the run context is cancelled. On cancellation all non-terminal
// agents are booked as cancelled and their processes asked to terminate.
// Events are delivered through emit, which must not block.
func (m *Monitor) Watch(rc *RunContext, emit func(Event)) {
	for {
		allTerminal := true
		for _, agent := range rc.Agents {
			switch agent.Status() {
			case StatusPending:
				// Setup in flight; spawn failures surface through the
				// spawner, not the poll loop.
				allTerminal = false
			case StatusRunning:
				allTerminal = false
				m.check(agent, emit)
			}
		}

		if allTerminal {
			m.terminations.Wait()
			return
		}

		select {
		case <-rc.Ctx.Done():
			m.cancelRemaining(rc.Agents, emit)
			// Bounded by the grace period: every termination escalates to a
			// kill once grace elapses.
			m.terminations.Wait()
			return
		case <-time.After(m.pollInterval):
		}
	}
}

// check examines one running agent: control intents first, then the timeout
// deadline, then process exit, then the completion marker.
func (m *Monitor) check(agent *Agent, emit func(Event)) {
	if m.controller != nil {
		intent, err := m.controller.Intent(agent.ID)
		if err != nil {
			log.WarningLog.Printf("monitor: failed to read control intent for %s: %v", agent.ID, err)
		} else if intent != nil && intent.Action == ControlStop {
			if agent.MarkCancelled() {
				log.InfoLog.Printf("agent %s stopped by control intent", agent.ID)
				emit(newEvent(EventCancelled, agent.ID))
				m.terminateAsync(agent)
			}
			return
		}
	}

	// Timeout beats a lagging process: once the deadline is past, a clean
	// exit observed later does not rescue the agent.
	if m.agentTimeout > 0 && time.Since(agent.StartedAt()) > m.agentTimeout {
		if agent.MarkTimedOut() {
			log.WarningLog.Printf("agent %s exceeded timeout of %s", agent.ID, m.agentTimeout)
			emit(newEvent(EventTimedOut, agent.ID))
			m.terminateAsync(agent)
		}
		return
	}

	handle := agent.Handle()
	if handle == nil {
		return
	}

	exitCode, exited := handle.ExitState()
	marker := fileExists(agent.MarkerPath)

	if exited {
		if exitCode == 0 {
			if agent.MarkCompleted() {
				emit(newEvent(EventCompleted, agent.ID))
			}
			return
		}
		// A marker without a successful exit is an ambiguous success claim;
		// the exit code wins but operators should see the discrepancy.
		if marker {
			log.WarningLog.Printf("agent %s wrote completion marker %s but exited with code %d; treating as failed",
				agent.ID, agent.MarkerPath, exitCode)
		}
		if agent.MarkFailed(fmt.Sprintf("process exited with code %d", exitCode)) {
			ev := newEvent(EventFailed, agent.ID)
			ev.Reason = fmt.Sprintf("exit code %d", exitCode)
			emit(ev)
		}
		return
	}

	if marker {
		// The agent reported completion but the process lingers. The marker
		// is sufficient evidence while no exit code is available; ask the
		// process to wind down.
		if agent.MarkCompleted() {
			log.InfoLog.Printf("agent %s reported completion via marker, terminating process", agent.ID)
			emit(newEvent(EventCompleted, agent.ID))
			m.terminateAsync(agent)
		}
	}
}

// cancelRemaining books every non-terminal agent as cancelled and requests
// termination of any live processes.
func (m *Monitor) cancelRemaining(agents []*Agent, emit func(Event)) {
	for _, agent := range agents {
		if agent.Status().IsTerminal() {
			continue
		}
		if agent.MarkCancelled() {
			emit(newEvent(EventCancelled, agent.ID))
			if agent.Handle() != nil {
				m.terminateAsync(agent)
			}
		}
	}
}

// terminateAsync requests process termination off the polling loop so a slow
// grace period never stalls the other agents' checks.
func (m *Monitor) terminateAsync(agent *Agent) {
	handle := agent.Handle()
	if handle == nil {
		return
	}
	m.terminations.Add(1)
	go func() {
		defer m.terminations.Done()
		if err := handle.Terminate(m.grace); err != nil {
			log.WarningLog.Printf("failed to terminate agent %s: %v", agent.ID, err)
		}
	}()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
