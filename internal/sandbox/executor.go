package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/codefionn/grepbox/internal/command"
	"github.com/codefionn/grepbox/internal/logger"
)

// Executor runs validated commands as isolated child processes.
type Executor struct {
	policy *Policy
	log    *logger.Logger
}

// NewExecutor creates an executor bound to the given policy.
func NewExecutor(policy *Policy, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Global()
	}
	return &Executor{policy: policy, log: log.WithComponent("sandbox")}
}

// Policy returns the executor's policy.
func (e *Executor) Policy() *Policy { return e.policy }

// Execute validates cmd against the policy and, if it passes, runs it as a
// child process in its own process group with streamed, capped output.
// Exactly one ExecutionResult is produced per call.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) *ExecutionResult {
	start := time.Now()

	if _, err := e.policy.ValidateCommand(cmd); err != nil {
		e.log.Warn("rejected %s: %v", cmd.String(), err)
		return failure(ErrorClassPolicyViolation, err.Error(), time.Since(start).Milliseconds())
	}

	binary, err := exec.LookPath(cmd.Name)
	if err != nil {
		return failure(ErrorClassExec, "command not found: "+cmd.Name, time.Since(start).Milliseconds())
	}

	proc := exec.Command(binary, cmd.Args...)
	proc.Dir = e.policy.Root()
	proc.Env = commandEnv()
	configureProcessGroup(proc)

	stdoutPipe, err := proc.StdoutPipe()
	if err != nil {
		return failure(ErrorClassExec, "failed to create stdout pipe: "+err.Error(), time.Since(start).Milliseconds())
	}
	stderrPipe, err := proc.StderrPipe()
	if err != nil {
		return failure(ErrorClassExec, "failed to create stderr pipe: "+err.Error(), time.Since(start).Milliseconds())
	}

	if err := proc.Start(); err != nil {
		return failure(ErrorClassExec, "failed to start command: "+err.Error(), time.Since(start).Milliseconds())
	}

	stdout := newCappedBuffer(e.policy.MaxOutputBytes())
	stderr := newCappedBuffer(e.policy.MaxOutputBytes())

	var wg sync.WaitGroup
	startDrain(&wg, stdoutPipe, stdout)
	startDrain(&wg, stderrPipe, stderr)

	done := make(chan error, 1)
	go func() {
		done <- proc.Wait()
	}()

	var (
		timerC   <-chan time.Time
		timer    *time.Timer
		timedOut bool
	)
	if timeout := e.policy.Timeout(); timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case waitErr := <-done:
			wg.Wait()
			return e.finalize(cmd, waitErr, timedOut, stdout, stderr, start)

		case <-ctx.Done():
			e.log.Warn("killing %s (pid=%d): %v", cmd.Name, proc.Process.Pid, ctx.Err())
			killGroup(proc)
			<-done
			wg.Wait()
			return failure(ErrorClassExec, ctx.Err().Error(), time.Since(start).Milliseconds())

		case <-timerC:
			// Kill the entire group, not just the direct child; the
			// select keeps running until Wait observes the death.
			timedOut = true
			e.log.Warn("killing %s (pid=%d) after timeout %s", cmd.Name, proc.Process.Pid, e.policy.Timeout())
			killGroup(proc)
			timerC = nil
		}
	}
}

func (e *Executor) finalize(cmd command.Command, waitErr error, timedOut bool, stdout, stderr *cappedBuffer, start time.Time) *ExecutionResult {
	duration := time.Since(start).Milliseconds()

	if timedOut {
		return &ExecutionResult{
			Success:     false,
			Stdout:      stdout.String(),
			Stderr:      stderr.String(),
			ExitCode:    -1,
			Truncated:   stdout.Truncated() || stderr.Truncated(),
			DurationMs:  duration,
			ErrorClass:  ErrorClassTimeout,
			ErrorDetail: "timed out after " + e.policy.Timeout().String(),
		}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return failure(ErrorClassExec, "failed to execute command: "+waitErr.Error(), duration)
		}
	}

	truncated := stdout.Truncated() || stderr.Truncated()
	if truncated {
		e.log.Info("%s output capped at %d bytes", cmd.Name, e.policy.MaxOutputBytes())
	}

	// Non-zero exit is still a successful execution from the sandbox's
	// point of view (grep with no matches exits 1).
	return &ExecutionResult{
		Success:    true,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		Truncated:  truncated,
		DurationMs: duration,
	}
}

// killGroup delivers SIGKILL to the whole process group, falling back to the
// direct child when the group id cannot be determined.
func killGroup(proc *exec.Cmd) {
	if proc == nil || proc.Process == nil {
		return
	}
	if pgid := getProcessGroupID(proc); pgid > 0 {
		if err := signalProcessGroup(pgid, syscall.SIGKILL); err == nil {
			return
		}
	}
	_ = proc.Process.Kill()
}

// startDrain copies from the pipe into the capped buffer until EOF. The read
// loop keeps draining after the cap is hit so a chatty process never blocks
// on a full pipe.
func startDrain(wg *sync.WaitGroup, r io.Reader, buf *cappedBuffer) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]byte, 4096)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
			}
			if err != nil {
				if err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
					logger.Debug("sandbox: stream read error: %v", err)
				}
				return
			}
		}
	}()
}

// commandEnv is the reduced environment handed to child processes.
func commandEnv() []string {
	env := []string{"LC_ALL=C"}
	if path := os.Getenv("PATH"); path != "" {
		env = append(env, "PATH="+path)
	}
	return env
}
