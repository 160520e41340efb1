package checkpoint

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkoval/phaserun/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls [][]string
	fail  map[string]string
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if msg, ok := f.fail[args[0]]; ok {
		return "", errors.New(msg)
	}
	switch strings.Join(args, " ") {
	case "rev-parse --abbrev-ref HEAD":
		return "main\n", nil
	case "rev-parse HEAD":
		return "0123456789abcdef0123456789abcdef01234567\n", nil
	}
	return "", nil
}

func TestShortCommit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", ShortCommit(""))
	assert.Equal(t, "abc123", ShortCommit("abc123"))
	assert.Equal(t, "01234567", ShortCommit("0123456789abcdef"))
}

func TestCreateRecordsBranchAndCommit(t *testing.T) {
	t.Parallel()

	git := &fakeRunner{}
	m := NewManager(git, t.TempDir())
	cp, err := m.Create(context.Background(), "/ws")
	require.NoError(t, err)
	assert.Equal(t, "main", cp.Branch)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", cp.Commit)
	assert.Len(t, git.calls, 2)
	assert.False(t, cp.CreatedAt.IsZero(), "CreatedAt not set")
}

func TestCreateBranchFailureIsTyped(t *testing.T) {
	t.Parallel()

	git := &fakeRunner{fail: map[string]string{"rev-parse": "not a git repository"}}
	m := NewManager(git, t.TempDir())
	_, err := m.Create(context.Background(), "/ws")
	require.ErrorIs(t, err, ErrBranchQuery)
	assert.Len(t, git.calls, 1, "Create must bail after the branch query fails")
}

func TestRollbackWithoutCommitMakesNoGitCalls(t *testing.T) {
	t.Parallel()

	git := &fakeRunner{}
	m := NewManager(git, t.TempDir())
	res := m.Rollback(context.Background(), "/ws", model.Checkpoint{Branch: "main"}, "apply failed")
	require.False(t, res.Success, "rollback without a commit must not succeed")
	assert.Equal(t, "no_checkpoint_commit", res.Err)
	assert.Empty(t, git.calls)
}

func TestRollbackResetFailureIsFatal(t *testing.T) {
	t.Parallel()

	git := &fakeRunner{fail: map[string]string{"reset": "bad object"}}
	m := NewManager(git, t.TempDir())
	res := m.Rollback(context.Background(), "/ws", model.Checkpoint{Branch: "main", Commit: "abc"}, "x")
	require.False(t, res.Success, "reset failure must fail the rollback")
	assert.Contains(t, res.Err, "reset failed")
	assert.Len(t, git.calls, 1, "rollback must stop after the failed reset")
}

func TestRollbackCleanFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	git := &fakeRunner{fail: map[string]string{"clean": "permission denied"}}
	m := NewManager(git, t.TempDir())
	res := m.Rollback(context.Background(), "/ws", model.Checkpoint{Branch: "main", Commit: "abc"}, "x")
	require.True(t, res.Success, "rollback should survive a clean failure: %+v", res)
	assert.True(t, res.CleanFailed)
	assert.False(t, res.BranchFailed)
	assert.Len(t, git.calls, 3, "expected reset, clean, checkout")
}

func TestRollbackSucceedsWhenCleanAndCheckoutBothFail(t *testing.T) {
	t.Parallel()

	git := &fakeRunner{fail: map[string]string{
		"clean":    "permission denied",
		"checkout": "pathspec 'main' did not match",
	}}
	m := NewManager(git, t.TempDir())
	res := m.Rollback(context.Background(), "/ws", model.Checkpoint{Branch: "main", Commit: "abc"}, "x")
	require.True(t, res.Success, "only the reset decides success: %+v", res)
	assert.Empty(t, res.Err)
	assert.True(t, res.CleanFailed)
	assert.True(t, res.BranchFailed)
	assert.Len(t, git.calls, 3, "both non-fatal steps must still be attempted")
}

func TestRollbackDetachedHeadSkipsCheckout(t *testing.T) {
	t.Parallel()

	git := &fakeRunner{}
	m := NewManager(git, t.TempDir())
	res := m.Rollback(context.Background(), "/ws", model.Checkpoint{Branch: DetachedHead, Commit: "abc"}, "x")
	require.True(t, res.Success, "rollback failed: %+v", res)
	assert.Len(t, git.calls, 2, "detached head should issue exactly reset and clean")
	for _, call := range git.calls {
		assert.NotEqual(t, "checkout", call[0], "checkout must not run for a detached head checkpoint")
	}
}

func TestLogRollbackAppendsAuditLine(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	m := NewManager(&fakeRunner{}, stateDir)
	cp := model.Checkpoint{Branch: "main", Commit: "0123456789abcdef"}

	require.True(t, m.LogRollback("run-1", cp, "verification failed", "proj"))
	require.True(t, m.LogRollback("run-1", cp, "approval rejected", "proj"))

	raw, err := os.ReadFile(filepath.Join(stateDir, "runs", "run-1", "rollbacks.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run=run-1")
	assert.Contains(t, lines[0], "commit=01234567")
	assert.Contains(t, lines[1], "reason=approval rejected")
}

func TestPerformFullRollbackSurvivesLoggingFailure(t *testing.T) {
	t.Parallel()

	stateDir := filepath.Join(t.TempDir(), "missing")
	// A file where the state dir should be makes MkdirAll fail.
	require.NoError(t, os.WriteFile(stateDir, []byte("x"), 0o644))
	m := NewManager(&fakeRunner{}, filepath.Join(stateDir, "nested"))
	cp := model.Checkpoint{Branch: "main", Commit: "abc"}
	res := m.PerformFullRollback(context.Background(), "/ws", cp, "x", "run-1", "proj")
	assert.True(t, res.Success, "logging failure downgraded rollback success: %+v", res)
}

func TestCreateAndRollbackAgainstRealRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoRoot := t.TempDir()
	initTestRepo(t, ctx, repoRoot)
	writeTestFile(t, filepath.Join(repoRoot, "base.txt"), "base\n")
	runGit(t, ctx, repoRoot, "add", "base.txt")
	runGit(t, ctx, repoRoot, "commit", "-m", "seed")

	m := NewManager(ExecRunner{Timeout: 10 * time.Second}, t.TempDir())
	cp, err := m.Create(ctx, repoRoot)
	require.NoError(t, err)
	require.NotEmpty(t, cp.Branch)
	require.NotEmpty(t, cp.Commit)

	writeTestFile(t, filepath.Join(repoRoot, "base.txt"), "mutated\n")
	writeTestFile(t, filepath.Join(repoRoot, "untracked.txt"), "junk\n")

	res := m.Rollback(ctx, repoRoot, cp, "test")
	require.True(t, res.Success, "rollback failed: %+v", res)
	raw, err := os.ReadFile(filepath.Join(repoRoot, "base.txt"))
	require.NoError(t, err)
	assert.Equal(t, "base\n", string(raw))
	_, err = os.Stat(filepath.Join(repoRoot, "untracked.txt"))
	assert.True(t, os.IsNotExist(err), "untracked file survived rollback, stat err=%v", err)
}

func initTestRepo(t *testing.T, ctx context.Context, repoRoot string) {
	t.Helper()
	runGit(t, ctx, repoRoot, "init")
	runGit(t, ctx, repoRoot, "config", "user.name", "Phaserun Test")
	runGit(t, ctx, repoRoot, "config", "user.email", "phaserun-test@example.com")
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

func runGit(t *testing.T, ctx context.Context, repoRoot string, args ...string) string {
	t.Helper()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}
