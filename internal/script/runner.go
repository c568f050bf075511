// Package script runs the external alias and action programs a tracked file
// can be configured with.
//
// Each invocation is a separate process with positional arguments, a bounded
// lifetime and captured stdout. Exit status zero is success; anything else,
// including a timeout, is a script failure.
package script

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	fwerrors "github.com/conneroisu/fwatch/internal/errors"
)

// DefaultTimeout bounds a script when the runner is built with zero.
const DefaultTimeout = 10 * time.Second

// maxOutput caps how much stdout/stderr is kept from one run.
const maxOutput = 64 * 1024

// Result captures what a script printed.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes scripts with a timeout.
type Runner struct {
	timeout time.Duration
}

// NewRunner creates a runner. A non-positive timeout selects DefaultTimeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout}
}

// Timeout returns the per-invocation limit.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes path with args. The returned error is an *errors.Error of
// kind script in every failure case; Result is filled as far as the process
// got.
func (r *Runner) Run(ctx context.Context, path string, args ...string) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{ExitCode: -1}, fwerrors.NewScriptError(fwerrors.ErrCodeScriptNotFound, "empty script path", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	stdout := &limitedBuffer{max: maxOutput}
	stderr := &limitedBuffer{max: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Run in its own process group so a timeout also kills children the
	// script spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		return res, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return res, fwerrors.NewScriptError(fwerrors.ErrCodeScriptTimeout, "script timed out after "+r.timeout.String(), ctx.Err()).
			WithPath(path)
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return res, fwerrors.NewScriptError(fwerrors.ErrCodeScriptNotFound, "script cannot be executed", err).
			WithPath(path)
	}

	e := fwerrors.NewScriptError(fwerrors.ErrCodeScriptFailed, "script failed", err).WithPath(path)
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		e = e.WithContext("stderr", msg)
	}
	return res, e
}

// limitedBuffer keeps the first max bytes written and discards the rest
// without failing the writer.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
