package verify

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// ExecResult is the typed result of one verification command. Timeouts and
// non-zero exits never escape as raised errors.
type ExecResult struct {
	Output   []byte
	ExitCode int
	TimedOut bool
	Err      error
	Duration time.Duration
}

// CommandRunner executes the verification command and captures combined
// stdout+stderr. Tests substitute scripted fakes.
type CommandRunner interface {
	Run(ctx context.Context, workspace string, argv []string, shell bool, env map[string]string, timeout time.Duration) ExecResult
}

// ExecCommandRunner runs commands as external processes.
type ExecCommandRunner struct{}

// Run executes argv (or argv joined under sh -c when shell is set) with an
// overall timeout.
func (ExecCommandRunner) Run(ctx context.Context, workspace string, argv []string, shell bool, env map[string]string, timeout time.Duration) ExecResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if shell {
		cmd = exec.CommandContext(ctx, "sh", "-c", argv[0])
	} else {
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
	cmd.Dir = workspace
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := ExecResult{Output: out, Duration: time.Since(start)}
	if ctx.Err() == context.DeadlineExceeded {
		// Partial output from a timed-out process is discarded.
		res.TimedOut = true
		res.ExitCode = -1
		res.Output = nil
		return res
	}
	if err != nil {
		res.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			res.Err = nil
		} else {
			res.ExitCode = -1
		}
	}
	return res
}
