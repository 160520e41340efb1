package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkoval/phaserun/internal/model"
	"github.com/rs/zerolog/log"
)

// RollbackResult reports the outcome of a rollback. Only the hard reset
// affects Success; clean and branch-checkout failures are recorded but
// never block recovery.
type RollbackResult struct {
	Success      bool
	Err          string
	CleanFailed  bool
	BranchFailed bool
}

// Rollback restores the workspace to the checkpoint commit. The reset is
// fatal on failure; removing untracked files and restoring the branch are
// reported but non-fatal. A detached-head checkpoint skips the checkout
// step entirely.
func (m *Manager) Rollback(ctx context.Context, workspace string, cp model.Checkpoint, reason string) RollbackResult {
	if cp.Commit == "" {
		return RollbackResult{Success: false, Err: "no_checkpoint_commit"}
	}

	log.Info().
		Str("commit", ShortCommit(cp.Commit)).
		Str("branch", cp.Branch).
		Str("reason", reason).
		Msg("rolling back workspace")

	if _, err := m.git.Run(ctx, workspace, "reset", "--hard", cp.Commit); err != nil {
		return RollbackResult{Success: false, Err: fmt.Sprintf("reset failed: %v", err)}
	}

	res := RollbackResult{Success: true}

	if _, err := m.git.Run(ctx, workspace, "clean", "-fd"); err != nil {
		log.Warn().Err(err).Msg("failed to remove untracked files after reset")
		res.CleanFailed = true
	}

	if cp.Branch != DetachedHead {
		if _, err := m.git.Run(ctx, workspace, "checkout", cp.Branch); err != nil {
			log.Warn().Err(err).Str("branch", cp.Branch).Msg("failed to restore branch after reset")
			res.BranchFailed = true
		}
	}

	return res
}

// LogRollback appends one line to the per-run rollback audit log. Any
// failure is reported as false; a caller that already succeeded at rollback
// must not fail merely because audit logging did.
func (m *Manager) LogRollback(runID string, cp model.Checkpoint, reason, projectID string) bool {
	runDir := filepath.Join(m.stateDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("cannot create run dir for rollback audit log")
		return false
	}
	path := filepath.Join(runDir, "rollbacks.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot open rollback audit log")
		return false
	}
	defer func() { _ = f.Close() }()

	line := fmt.Sprintf("%s run=%s project=%s commit=%s reason=%s\n",
		time.Now().UTC().Format(time.RFC3339), runID, projectID, ShortCommit(cp.Commit), reason)
	if _, err := f.WriteString(line); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot append rollback audit line")
		return false
	}
	return true
}

// PerformFullRollback composes Rollback with audit logging. Logging runs
// only when the rollback succeeded, and a logging failure never downgrades
// the rollback's reported success.
func (m *Manager) PerformFullRollback(ctx context.Context, workspace string, cp model.Checkpoint, reason, runID, projectID string) RollbackResult {
	res := m.Rollback(ctx, workspace, cp, reason)
	if !res.Success {
		return res
	}
	if !m.LogRollback(runID, cp, reason, projectID) {
		log.Warn().Str("run_id", runID).Msg("rollback succeeded but audit logging failed")
	}
	return res
}
