// Package phase composes checkpointing, patch application, verification,
// and authorization into the phase lifecycle: checkpoint -> apply ->
// validate -> (authorize) -> commit-or-rollback.
package phase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dkoval/phaserun/internal/authz"
	"github.com/dkoval/phaserun/internal/checkpoint"
	"github.com/dkoval/phaserun/internal/config"
	"github.com/dkoval/phaserun/internal/model"
	"github.com/dkoval/phaserun/internal/patch"
	"github.com/dkoval/phaserun/internal/verify"
	"github.com/rs/zerolog/log"
)

// maxEscalationRetries bounds how many times an approved governance
// escalation re-enters the apply step.
const maxEscalationRetries = 2

// Run identifies the run a phase executes under.
type Run struct {
	ID        string
	Type      model.RunType
	ProjectID string
	Workspace string
}

// FailureRecorder feeds terminal failures back into risk history.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, pattern, reason string) error
}

// Coordinator owns the phase state machine. Phases are mutated only here.
type Coordinator struct {
	checkpoints *checkpoint.Manager
	applier     *patch.Applier
	verifier    *verify.Validator
	gate        *authz.Gate
	registry    *authz.Registry
	store       *Store
	summaries   SummarySink
	failures    FailureRecorder
	cfg         config.Config
}

// NewCoordinator wires the phase lifecycle. registry and failures may be
// nil; a nil registry means phases that need approval fail instead of
// parking.
func NewCoordinator(
	checkpoints *checkpoint.Manager,
	applier *patch.Applier,
	verifier *verify.Validator,
	gate *authz.Gate,
	registry *authz.Registry,
	store *Store,
	summaries SummarySink,
	failures FailureRecorder,
	cfg config.Config,
) *Coordinator {
	return &Coordinator{
		checkpoints: checkpoints,
		applier:     applier,
		verifier:    verifier,
		gate:        gate,
		registry:    registry,
		store:       store,
		summaries:   summaries,
		failures:    failures,
		cfg:         cfg,
	}
}

// Result summarizes one executed phase.
type Result struct {
	Phase        *model.Phase
	Checkpoint   model.Checkpoint
	Apply        model.ApplyOutcome
	Verification model.VerificationResult
}

// ExecutePhase drives one phase from pending to a terminal state. Rollback,
// when triggered, always happens before the phase is marked failed and
// always targets the checkpoint created at phase entry.
func (c *Coordinator) ExecutePhase(ctx context.Context, run Run, p *model.Phase, change model.ProposedChange) Result {
	res := Result{Phase: p}
	startedAt := time.Now()
	defer func() {
		log.Info().
			Str("run_id", run.ID).
			Str("phase_id", p.ID).
			Str("state", string(p.State)).
			Dur("duration", time.Since(startedAt)).
			Msg("phase finished")
	}()

	for attempt := 0; ; attempt++ {
		cp, err := c.checkpoints.Create(ctx, run.Workspace)
		if err != nil {
			// No checkpoint exists, so there is nothing to roll back.
			c.fail(ctx, run, &res, fmt.Sprintf("checkpoint failed: %v", err), false)
			return res
		}
		res.Checkpoint = cp

		c.transition(ctx, p, model.PhaseExecuting, "")

		outcome := c.applier.Apply(ctx, run.Workspace, p, change, patch.Context{
			RunID:        run.ID,
			RunType:      run.Type,
			AllowedPaths: c.cfg.Governance.AllowedPaths,
		})
		res.Apply = outcome

		if outcome.Escalation != nil {
			if !c.handleEscalation(ctx, run, p, &res, outcome) {
				return res
			}
			if attempt >= maxEscalationRetries {
				c.fail(ctx, run, &res, "escalation retries exhausted", outcome.Touched)
				return res
			}
			p.Retries++
			continue
		}

		if !outcome.Success {
			c.fail(ctx, run, &res, outcome.Error, outcome.Touched)
			return res
		}

		c.transition(ctx, p, model.PhaseCIValidation, "")

		vr := c.verifier.Run(ctx, p.ID, run.Workspace, run.Type)
		res.Verification = vr
		if err := c.store.RecordVerification(ctx, p.ID, vr); err != nil {
			log.Warn().Err(err).Str("phase_id", p.ID).Msg("could not persist verification result")
		}

		if vr.Status == model.VerificationFailed {
			reason := vr.Error
			if reason == "" {
				reason = "verification failed"
			}
			c.fail(ctx, run, &res, reason, true)
			return res
		}

		if !c.authorize(ctx, run, p, &res) {
			return res
		}

		c.transition(ctx, p, model.PhaseComplete, "")
		c.writeSummary(run, p, &res)
		return res
	}
}

// authorize reassesses regression risk after verification. Authorized
// phases proceed; others park in the gate awaiting approval. Returns true
// when the phase may complete.
func (c *Coordinator) authorize(ctx context.Context, run Run, p *model.Phase, res *Result) bool {
	pattern := p.GoalAnchor
	if pattern == "" {
		pattern = p.Description
	}
	decision := authz.Decide(c.gate.Assess(ctx, pattern))
	if decision.Authorized {
		return true
	}
	if c.registry == nil {
		c.fail(ctx, run, res, "authorization required but no approval service attached", true)
		return false
	}

	c.transition(ctx, p, model.PhaseGate, "")
	req, err := c.registry.Request(ctx, run.ID, p.ID, "post_verification_risk", decision)
	if err != nil {
		c.fail(ctx, run, res, fmt.Sprintf("approval request failed: %v", err), true)
		return false
	}
	switch c.registry.Await(ctx, req, c.cfg.Approval.PollTimeout, c.cfg.Approval.PollInterval) {
	case model.ApprovalApproved:
		return true
	case model.ApprovalRejected:
		c.fail(ctx, run, res, "approval rejected", true)
	default:
		c.fail(ctx, run, res, "approval timed out", true)
	}
	return false
}

// handleEscalation parks the phase while a governance escalation awaits
// review. Returns true when the caller should retry the apply.
func (c *Coordinator) handleEscalation(ctx context.Context, run Run, p *model.Phase, res *Result, outcome model.ApplyOutcome) bool {
	p.Escalations++
	if c.registry == nil {
		c.fail(ctx, run, res, outcome.Error, outcome.Touched)
		return false
	}

	c.transition(ctx, p, model.PhaseGate, "")
	decision := model.AuthorizationDecision{
		RequiresApproval: true,
		Blocking:         true,
		RiskLevel:        model.RiskHigh,
		Reason:           outcome.Error,
	}
	req, err := c.registry.Request(ctx, run.ID, p.ID, "governance_escalation", decision)
	if err != nil {
		c.fail(ctx, run, res, fmt.Sprintf("approval request failed: %v", err), outcome.Touched)
		return false
	}
	switch c.registry.Await(ctx, req, c.cfg.Approval.PollTimeout, c.cfg.Approval.PollInterval) {
	case model.ApprovalApproved:
		log.Info().Str("phase_id", p.ID).Str("path", outcome.Escalation.Path).
			Msg("escalation approved, retrying apply")
		return true
	case model.ApprovalRejected:
		c.fail(ctx, run, res, "approval rejected", outcome.Touched)
	default:
		c.fail(ctx, run, res, "approval timed out", outcome.Touched)
	}
	return false
}

// fail rolls the workspace back when anything was applied, then marks the
// phase failed with exactly one primary reason. The summary write happens
// last and never changes the terminal state.
func (c *Coordinator) fail(ctx context.Context, run Run, res *Result, reason string, rollback bool) {
	p := res.Phase
	if rollback && res.Checkpoint.Commit != "" {
		rb := c.checkpoints.PerformFullRollback(ctx, run.Workspace, res.Checkpoint, reason, run.ID, run.ProjectID)
		if !rb.Success {
			log.Error().Str("phase_id", p.ID).Str("err", rb.Err).Msg("rollback failed")
		}
	}
	p.LastFailureReason = reason
	c.transition(ctx, p, model.PhaseFailed, reason)
	if c.failures != nil {
		pattern := p.GoalAnchor
		if pattern == "" {
			pattern = p.Description
		}
		if err := c.failures.RecordFailure(ctx, pattern, reason); err != nil {
			log.Warn().Err(err).Str("phase_id", p.ID).Msg("could not record failure history")
		}
	}
	c.writeSummary(run, p, res)
}

func (c *Coordinator) transition(ctx context.Context, p *model.Phase, state model.PhaseState, reason string) {
	log.Debug().Str("phase_id", p.ID).Str("from", string(p.State)).Str("to", string(state)).Msg("phase transition")
	p.State = state
	event := &Event{Type: "phase_" + string(state), Message: reason}
	if reason == "" {
		event.Message = "phase entered " + string(state)
	}
	if err := c.store.UpdatePhase(ctx, p, event); err != nil {
		log.Warn().Err(err).Str("phase_id", p.ID).Msg("could not persist phase transition")
	}
}

func (c *Coordinator) writeSummary(run Run, p *model.Phase, res *Result) {
	summary := Summary{
		PhaseID:       p.ID,
		RunID:         run.ID,
		State:         p.State,
		FailureReason: p.LastFailureReason,
		Apply:         &res.Apply,
	}
	if res.Checkpoint.Commit != "" {
		summary.Checkpoint = &res.Checkpoint
	}
	if res.Verification.Status != "" {
		summary.Verification = &res.Verification
	}
	if err := c.summaries.Write(run.ID, p.ID, summary); err != nil {
		log.Warn().Err(err).Str("phase_id", p.ID).Msg("could not write phase summary")
	}
}

// NewRunID generates a timestamped run identifier.
func NewRunID() (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s", ts, suffix), nil
}

// NewPhaseID generates a phase identifier.
func NewPhaseID() (string, error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return "phase-" + suffix, nil
}

func randomHex(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
