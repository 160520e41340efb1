package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTimeout marks a git invocation that exceeded its deadline.
var ErrTimeout = errors.New("git command timed out")

// Runner executes a single git command in a directory and returns its
// combined output. The exec implementation enforces a per-command timeout;
// tests substitute fakes to count and script calls.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs git as a short-lived external process.
type ExecRunner struct {
	Timeout time.Duration
}

// Run invokes git with the configured timeout. Timeouts and non-zero exits
// are converted to errors here; they never escape as anything else.
func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().Str("dir", dir).Strs("args", args).Msg("running git command")
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s: git %s", ErrTimeout, timeout, strings.Join(args, " "))
		}
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Available checks if the given directory is inside a git work tree.
func Available(ctx context.Context, runner Runner, dir string) bool {
	_, err := runner.Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}
