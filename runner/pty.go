package runner

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"enhanceswarm/log"
)

// PtyRunner runs agent programs under a pseudo-terminal. Interactive agent
// CLIs detect a tty and stream output line by line instead of buffering it.
type PtyRunner struct {
	// Program is the agent command, e.g. "claude".
	Program string
	// Args are passed before the instructions argument.
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
}

// Spawn starts the agent program in workArea and tees its pty output into
// the file at outputPath.
func (r *PtyRunner) Spawn(workArea, outputPath, instructions string) (Handle, error) {
	args := append([]string{}, r.Args...)
	if instructions != "" {
		args = append(args, instructions)
	}

	cmd := exec.Command(r.Program, args...)
	cmd.Dir = workArea
	cmd.Env = append(os.Environ(), r.Env...)

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file %s: %w", outputPath, err)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to start agent program %s: %w", r.Program, err)
	}

	p := &process{cmd: cmd}

	go func() {
		// Copy until the child exits; the pty read fails with EIO then.
		if _, err := io.Copy(out, ptmx); err != nil {
			log.DebugLog.Printf("pty copy for pid %d ended: %v", cmd.Process.Pid, err)
		}
		_ = out.Close()
		_ = ptmx.Close()
	}()

	go func() {
		err := cmd.Wait()
		code := 0
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		} else if err != nil {
			code = -1
		}
		p.markExited(code)
	}()

	return p, nil
}

// process implements Handle for a pty-spawned child.
type process struct {
	cmd *exec.Cmd

	mu       sync.Mutex
	exited   bool
	exitCode int
}

func (p *process) PID() int {
	return p.cmd.Process.Pid
}

func (p *process) markExited(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	p.exitCode = code
}

func (p *process) ExitState() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// Terminate sends SIGTERM, waits up to grace for a voluntary exit, then kills.
func (p *process) Terminate(grace time.Duration) error {
	if _, exited := p.ExitState(); exited {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// The process may have exited between the check and the signal.
		if _, exited := p.ExitState(); exited {
			return nil
		}
		return fmt.Errorf("failed to signal pid %d: %w", p.PID(), err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, exited := p.ExitState(); exited {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	log.WarningLog.Printf("pid %d did not exit within %s, killing", p.PID(), grace)
	if err := p.cmd.Process.Kill(); err != nil {
		if _, exited := p.ExitState(); exited {
			return nil
		}
		return fmt.Errorf("failed to kill pid %d: %w", p.PID(), err)
	}
	return nil
}
