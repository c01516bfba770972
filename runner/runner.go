package runner

import (
	"time"
)

// Handle is an opaque reference to one spawned agent process.
type Handle interface {
	// PID returns the OS process id.
	PID() int
	// ExitState returns the exit code and true once the process has exited.
	// Until then the code is meaningless and the bool is false.
	ExitState() (int, bool)
	// Terminate asks the process to exit, escalating to a kill once grace has
	// elapsed without a voluntary exit. Safe to call more than once.
	Terminate(grace time.Duration) error
}

// Runner spawns agent processes. The orchestration core only talks to agents
// through this interface; what the agent program actually does is its business.
type Runner interface {
	// Spawn starts one agent process in workArea with the given instructions.
	// All process output is appended to the file at outputPath.
	Spawn(workArea, outputPath, instructions string) (Handle, error)
}
