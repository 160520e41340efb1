// Package checkpoint creates and restores version-control snapshots of a
// workspace. It is the only component with direct write access to repository
// state.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkoval/phaserun/internal/model"
)

// DetachedHead is the branch name git reports for a detached HEAD. Rollback
// never attempts a checkout when the recorded branch is this sentinel.
const DetachedHead = "HEAD"

var (
	// ErrBranchQuery marks a failure to read the current branch.
	ErrBranchQuery = errors.New("branch query failed")
	// ErrCommitQuery marks a failure to read the current commit.
	ErrCommitQuery = errors.New("commit query failed")
)

// Manager creates checkpoints and rolls workspaces back to them.
type Manager struct {
	git      Runner
	stateDir string
}

// NewManager constructs a Manager. stateDir is the .phaserun directory used
// for rollback audit logs.
func NewManager(git Runner, stateDir string) *Manager {
	return &Manager{git: git, stateDir: stateDir}
}

// Create snapshots the workspace's current branch and commit via two
// sequential git queries, each under the runner's own timeout. Failures come
// back as typed errors, never a bare propagated one.
func (m *Manager) Create(ctx context.Context, workspace string) (model.Checkpoint, error) {
	branchOut, err := m.git.Run(ctx, workspace, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("%w: %v", ErrBranchQuery, err)
	}
	branch := strings.TrimSpace(branchOut)
	if branch == "" {
		return model.Checkpoint{}, fmt.Errorf("%w: empty branch name", ErrBranchQuery)
	}

	commitOut, err := m.git.Run(ctx, workspace, "rev-parse", "HEAD")
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("%w: %v", ErrCommitQuery, err)
	}
	commit := strings.TrimSpace(commitOut)
	if commit == "" {
		return model.Checkpoint{}, fmt.Errorf("%w: empty commit id", ErrCommitQuery)
	}

	return model.Checkpoint{
		Branch:    branch,
		Commit:    commit,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ShortCommit derives the display form of a commit id for logs.
func ShortCommit(commit string) string {
	if commit == "" {
		return "unknown"
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
