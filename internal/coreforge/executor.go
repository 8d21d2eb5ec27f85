package coreforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// outputTailBytes is how much subprocess output a ProcessError keeps.
const outputTailBytes = 4096

// Executor runs external build tooling under a cancellable context.
// Children get their own process group so cancellation kills the whole
// tree, not just the direct child.
type Executor struct {
	Context context.Context

	// Interactive attaches the child to our terminal without process
	// group isolation, for commands the user talks to directly.
	Interactive bool
}

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx}
}

// Run executes cmd with stdio wired to the caller's unless already set.
func (e *Executor) Run(cmd *exec.Cmd) error {
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	finalCmd := exec.Command(cmd.Path, cmd.Args[1:]...)
	finalCmd.Dir = cmd.Dir
	finalCmd.Stdin = cmd.Stdin
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr
	if len(cmd.Env) > 0 {
		finalCmd.Env = cmd.Env
	} else {
		finalCmd.Env = os.Environ()
	}

	if !e.Interactive {
		finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
	}

	if !e.Interactive {
		pgid := finalCmd.Process.Pid
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-e.Context.Done():
				// Negative pid signals the whole process group.
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			case <-done:
			}
		}()
	}

	if waitErr := finalCmd.Wait(); waitErr != nil {
		if e.Context.Err() != nil {
			// Give the kill a moment to reap the group before the
			// caller starts cleaning up the work directory.
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %v", e.Context.Err())
		}
		return waitErr
	}
	return nil
}

// RunLogged executes cmd with combined output teed to sink (when
// non-nil) while keeping the tail for error reporting. Failures come
// back as *ProcessError.
func (e *Executor) RunLogged(cmd *exec.Cmd, sink io.Writer) error {
	tail := &tailBuffer{limit: outputTailBytes}
	var w io.Writer = tail
	if sink != nil {
		w = io.MultiWriter(sink, tail)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := e.Run(cmd)
	if err == nil {
		return nil
	}
	perr := &ProcessError{
		Title:    fmt.Sprintf("%s failed: %v", strings.Join(cmd.Args, " "), err),
		Output:   tail.Bytes(),
		ExitCode: -1,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		perr.ExitCode = exitErr.ExitCode()
	}
	return perr
}

// RunTimed enforces a wall-clock limit on top of the executor's
// context. A zero timeout means no limit.
func (e *Executor) RunTimed(timeout time.Duration, cmd *exec.Cmd, sink io.Writer) error {
	if timeout <= 0 {
		return e.RunLogged(cmd, sink)
	}
	ctx, cancel := context.WithTimeout(e.Context, timeout)
	defer cancel()

	sub := &Executor{Context: ctx, Interactive: e.Interactive}
	err := sub.RunLogged(cmd, sink)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && e.Context.Err() == nil {
		return fmt.Errorf("timed out after %v: %w", timeout, err)
	}
	return err
}
