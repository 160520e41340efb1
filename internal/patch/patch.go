// Package patch applies a proposed change to a workspace, dispatching
// between a structured operation-by-operation edit path and a governed
// raw-diff path.
package patch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dkoval/phaserun/internal/config"
	"github.com/dkoval/phaserun/internal/model"
	"github.com/rs/zerolog/log"
)

// Stable error codes for fatal apply failures.
const (
	CodeStructuredEditFailed = "STRUCTURED_EDIT_FAILED"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeGoalDrift            = "GOAL_DRIFT"
	CodeBudgetExceeded       = "BUDGET_EXCEEDED"
	CodeGovernanceRejected   = "GOVERNANCE_REJECTED"
	CodeGovernanceEscalation = "GOVERNANCE_ESCALATION"
)

// Context carries per-run apply settings supplied by the coordinator.
type Context struct {
	RunID        string
	RunType      model.RunType
	AllowedPaths []string
}

// Applier routes proposed changes through exactly one of the two apply paths.
type Applier struct {
	engine   EditEngine
	governor Governor
	drift    DriftClassifier
	budgets  config.Budgets
}

// NewApplier constructs an Applier. A nil drift classifier disables the
// drift check beyond the mandatory no-anchor pass.
func NewApplier(engine EditEngine, governor Governor, drift DriftClassifier, budgets config.Budgets) *Applier {
	if drift == nil {
		drift = HeuristicDrift{}
	}
	return &Applier{engine: engine, governor: governor, drift: drift, budgets: budgets}
}

// Apply dispatches on the change variant. Exactly one path executes.
func (a *Applier) Apply(ctx context.Context, workspace string, phase *model.Phase, change model.ProposedChange, actx Context) model.ApplyOutcome {
	switch change.Kind() {
	case model.ChangeEditPlan:
		return a.applyStructured(ctx, workspace, phase, change.EditOps())
	case model.ChangeRawDiff:
		return a.applyRawDiff(ctx, workspace, phase, change.Diff(), actx)
	default:
		return model.ApplyOutcome{
			Success:   false,
			ErrorCode: CodeValidationFailed,
			Error:     fmt.Sprintf("unknown change kind %q", change.Kind()),
		}
	}
}

func (a *Applier) applyStructured(ctx context.Context, workspace string, phase *model.Phase, ops []model.EditOp) model.ApplyOutcome {
	outcome := model.ApplyOutcome{Mode: model.ModeStructuredEdit}
	var touched []string
	for _, op := range ops {
		if err := a.engine.Apply(ctx, workspace, op); err != nil {
			outcome.OpsFailed++
			outcome.Success = false
			outcome.ErrorCode = CodeStructuredEditFailed
			outcome.Error = err.Error()
			outcome.Touched = outcome.OpsApplied > 0
			outcome.TouchedPaths = capPaths(touched)
			log.Warn().Err(err).
				Str("phase_id", phase.ID).
				Str("path", op.Path).
				Int("ops_applied", outcome.OpsApplied).
				Msg("structured edit failed")
			return outcome
		}
		outcome.OpsApplied++
		touched = append(touched, op.Path)
	}
	outcome.Success = true
	outcome.Touched = outcome.OpsApplied > 0
	outcome.TouchedPaths = capPaths(touched)
	return outcome
}

func (a *Applier) applyRawDiff(ctx context.Context, workspace string, phase *model.Phase, diff string, actx Context) model.ApplyOutcome {
	outcome := model.ApplyOutcome{Mode: model.ModePatch}

	payload := parsePayload(diff)

	// Pre-apply structured-data validation runs only for JSON-wrapped
	// per-file payloads; ordinary code diffs skip it entirely.
	if payload.Wrapped {
		if err := validatePayload(payload); err != nil {
			outcome.Success = false
			outcome.ErrorCode = CodeValidationFailed
			outcome.Error = err.Error()
			return outcome
		}
	}

	if phase.GoalAnchor != "" {
		if block, reason := a.drift.Check(phase.GoalAnchor, phase.Description); block {
			outcome.Success = false
			outcome.ErrorCode = CodeGoalDrift
			outcome.Error = reason
			return outcome
		}
	}

	if err := a.checkBudgets(payload); err != nil {
		outcome.Success = false
		outcome.ErrorCode = CodeBudgetExceeded
		outcome.Error = err.Error()
		return outcome
	}

	allowed := actx.AllowedPaths
	if len(allowed) == 0 {
		allowed = allowedFromDeliverables(phase.Deliverables)
	}
	maintenance := actx.RunType == model.RunTypeSelfRepair

	gov := a.governor.Apply(ctx, workspace, payload, allowed, maintenance)
	switch gov.Status {
	case GovernanceApplied:
		outcome.Success = true
		outcome.Touched = true
		outcome.TouchedPaths = capPaths(gov.TouchedPaths)
		outcome.NonEmptyPatch = strings.TrimSpace(diff) != ""
		outcome.PatchBytes = len(diff)
	case GovernanceRejected:
		outcome.Success = false
		outcome.ErrorCode = CodeGovernanceRejected
		outcome.Error = gov.Reason
		outcome.Touched = gov.Touched
	case GovernanceEscalation:
		outcome.Success = false
		outcome.ErrorCode = CodeGovernanceEscalation
		outcome.Error = gov.Reason
		outcome.Escalation = &model.EscalationRequest{Path: gov.EscalationPath, Reason: gov.Reason}
	}
	return outcome
}

func (a *Applier) checkBudgets(p Payload) error {
	if a.budgets.MaxPatchKB > 0 {
		if len(p.Raw) > a.budgets.MaxPatchKB*1024 {
			return fmt.Errorf("patch exceeds max_patch_kb (%d)", a.budgets.MaxPatchKB)
		}
	}
	if a.budgets.MaxChangedFiles > 0 {
		if n := len(p.Paths()); n > a.budgets.MaxChangedFiles {
			return fmt.Errorf("patch exceeds max_changed_files (%d > %d)", n, a.budgets.MaxChangedFiles)
		}
	}
	return nil
}

// allowedFromDeliverables generalizes each deliverable path to its
// containing directory prefix.
func allowedFromDeliverables(deliverables []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, d := range deliverables {
		dir := filepath.Dir(d)
		if dir == "." {
			dir = ""
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	return out
}

// capPaths truncates to the hard cap, preserving order.
func capPaths(paths []string) []string {
	if len(paths) > model.MaxTouchedPaths {
		return paths[:model.MaxTouchedPaths]
	}
	return paths
}
