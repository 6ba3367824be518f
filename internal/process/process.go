// Package process runs external tools (python, pip, alembic, docker, the
// application server) as child processes in their own process group.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// outputTail bounds how much child output is kept for error messages.
const outputTail = 8 << 10

// Command describes one child process. Env entries are appended to the
// current environment. Nil Stdout/Stderr are captured into the Result.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a completed command.
type Result struct {
	ExitCode int
	Output   string
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// Exec is the os/exec backed Runner and launcher.
type Exec struct{}

// Run starts c and waits for it. Cancelling ctx kills the whole process
// group. A non-zero exit returns *ExitError alongside the Result.
func (Exec) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	out := prepare(cmd, c)
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, syscall.SIGKILL)
	}

	slog.DebugContext(ctx, "running command", "command", c.String(), "dir", c.Dir)

	err := cmd.Run()
	res := Result{Output: out.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", c.Name, ctxErr)
		}
		return res, &ExitError{Command: c.String(), Code: res.ExitCode, Output: res.Output}
	}
	return res, fmt.Errorf("start %s: %w", c.Name, err)
}

// Start launches c in the background. The caller owns the returned Process
// and must Stop it.
func (Exec) Start(ctx context.Context, c Command) (*Process, error) {
	cmd := exec.Command(c.Name, c.Args...)
	out := prepare(cmd, c)
	// Do not share stdin with the child.
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}

	slog.InfoContext(ctx, "process started", "command", c.String(), "pid", cmd.Process.Pid)

	p := &Process{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Process is a background child started by Exec.Start.
type Process struct {
	cmd  *exec.Cmd
	out  *tailBuffer
	done chan struct{}
	err  error
}

// Pid returns the process id, which is also its process group id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Output returns the tail of captured output.
func (p *Process) Output() string { return p.out.String() }

// Stop sends SIGTERM to the process group and escalates to SIGKILL after
// grace. It returns once the process has exited. Stopping an exited process
// is a no-op.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.Pid()
	if err := signalGroup(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.WarnContext(ctx, "sending SIGTERM failed", "pid", pid, "error", err)
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
		slog.InfoContext(ctx, "process stopped", "pid", pid)
		return nil
	case <-t.C:
	case <-ctx.Done():
	}

	slog.WarnContext(ctx, "process ignored SIGTERM, killing", "pid", pid, "grace", grace)
	if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	<-p.done
	return nil
}

func prepare(cmd *exec.Cmd, c Command) *tailBuffer {
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.SysProcAttr = sysProcAttr()

	out := &tailBuffer{max: outputTail}
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = out
	}
	if cmd.Stderr == nil {
		cmd.Stderr = out
	}
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
