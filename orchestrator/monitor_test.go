package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhanceswarm/backlog"
)

// eventRecorder collects emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func newMonitorFixture(t *testing.T) (Layout, *Agent, *fakeHandle) {
	t.Helper()
	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())

	id := "backend-11112222"
	item := backlog.WorkItem{ID: "task-7", Title: "wire up the cache"}
	agent := NewAgent(id, RoleBackend, item,
		layout.MarkerPath(id), layout.OutputPath(id), layout.ControlPath(id))

	handle := &fakeHandle{pid: 99}
	require.True(t, agent.MarkRunning(handle))
	return layout, agent, handle
}

func writeMarker(t *testing.T, agent *Agent) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(agent.MarkerPath), 0755))
	require.NoError(t, os.WriteFile(agent.MarkerPath, []byte("done\n"), 0644))
}

func TestMonitorCompletesOnCleanExit(t *testing.T) {
	_, agent, handle := newMonitorFixture(t)
	handle.exit(0)

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, nil)
	m.check(agent, rec.emit)

	assert.Equal(t, StatusCompleted, agent.Status())
	assert.Equal(t, []EventType{EventCompleted}, rec.types())
}

func TestMonitorFailsOnNonzeroExit(t *testing.T) {
	_, agent, handle := newMonitorFixture(t)
	handle.exit(2)

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, nil)
	m.check(agent, rec.emit)

	assert.Equal(t, StatusFailed, agent.Status())
	assert.Contains(t, agent.Reason(), "exited with code 2")
}

func TestMonitorExitCodeBeatsMarker(t *testing.T) {
	_, agent, handle := newMonitorFixture(t)
	writeMarker(t, agent)
	handle.exit(1)

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, nil)
	m.check(agent, rec.emit)

	assert.Equal(t, StatusFailed, agent.Status(), "a nonzero exit overrules the completion marker")
	assert.Equal(t, []EventType{EventFailed}, rec.types())
}

func TestMonitorMarkerCompletesLingeringProcess(t *testing.T) {
	_, agent, handle := newMonitorFixture(t)
	writeMarker(t, agent)
	// The process has not exited yet.

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, nil)
	m.check(agent, rec.emit)

	assert.Equal(t, StatusCompleted, agent.Status())
	assert.Equal(t, []EventType{EventCompleted}, rec.types())
	assert.Eventually(t, handle.wasTerminated, time.Second, 5*time.Millisecond,
		"lingering process must be asked to terminate")
}

func TestMonitorTimeoutPrecedesExit(t *testing.T) {
	_, agent, handle := newMonitorFixture(t)
	handle.exit(0)

	rec := &eventRecorder{}
	// Timeout of one nanosecond: the deadline has already passed by the time
	// the monitor looks, even though the process also exited cleanly.
	m := NewMonitor(time.Millisecond, time.Nanosecond, time.Millisecond, nil)
	time.Sleep(time.Millisecond)
	m.check(agent, rec.emit)

	assert.Equal(t, StatusTimedOut, agent.Status(), "deadline beats a clean exit observed afterwards")
	assert.Equal(t, []EventType{EventTimedOut}, rec.types())
}

func TestMonitorStopIntentCancels(t *testing.T) {
	layout, agent, handle := newMonitorFixture(t)
	controller := NewController(layout)
	require.NoError(t, controller.Stop(agent.ID))

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, controller)
	m.check(agent, rec.emit)

	assert.Equal(t, StatusCancelled, agent.Status())
	assert.Equal(t, []EventType{EventCancelled}, rec.types())
	assert.Eventually(t, handle.wasTerminated, time.Second, 5*time.Millisecond)
}

func TestMonitorPauseIntentDoesNotCancel(t *testing.T) {
	layout, agent, handle := newMonitorFixture(t)
	controller := NewController(layout)
	require.NoError(t, controller.Pause(agent.ID))

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, controller)
	m.check(agent, rec.emit)

	assert.Equal(t, StatusRunning, agent.Status())
	assert.Empty(t, rec.types())
	assert.False(t, handle.wasTerminated())
}

func TestMonitorWatchRunsUntilAllTerminal(t *testing.T) {
	layout, agent, handle := newMonitorFixture(t)

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, nil)
	rc := &RunContext{Ctx: context.Background(), Layout: layout, Agents: []*Agent{agent}}

	go func() {
		time.Sleep(10 * time.Millisecond)
		handle.exit(0)
	}()

	done := make(chan struct{})
	go func() {
		m.Watch(rc, rec.emit)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after the last agent terminated")
	}
	assert.Equal(t, StatusCompleted, agent.Status())
}

func TestMonitorCancellationBooksRemainingAgents(t *testing.T) {
	layout, running, handle := newMonitorFixture(t)

	pendingItem := backlog.WorkItem{ID: "task-8", Title: "never started"}
	pending := NewAgent("qa-33334444", RoleQA, pendingItem,
		layout.MarkerPath("qa-33334444"), layout.OutputPath("qa-33334444"), layout.ControlPath("qa-33334444"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &eventRecorder{}
	m := NewMonitor(time.Millisecond, 0, time.Millisecond, nil)
	rc := &RunContext{Ctx: ctx, Layout: layout, Agents: []*Agent{running, pending}}
	m.Watch(rc, rec.emit)

	assert.Equal(t, StatusCancelled, running.Status())
	assert.Equal(t, StatusCancelled, pending.Status())
	assert.Equal(t, []EventType{EventCancelled, EventCancelled}, rec.types())
	assert.Eventually(t, handle.wasTerminated, time.Second, 5*time.Millisecond)
}
