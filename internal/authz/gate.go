package authz

import (
	"context"

	"github.com/dkoval/phaserun/internal/model"
	"github.com/rs/zerolog/log"
)

// Decide maps a RiskAssessment to an AuthorizationDecision. The mapping is a
// pure, total function of severity: every severity value has exactly one
// outcome.
func Decide(ra model.RiskAssessment) model.AuthorizationDecision {
	d := model.AuthorizationDecision{
		RiskLevel:  ra.Severity,
		Assessment: &ra,
	}
	switch ra.Severity {
	case model.RiskLow:
		d.Authorized = true
		d.Reason = "low regression risk"
	case model.RiskMedium:
		d.RequiresApproval = true
		d.Reason = "medium regression risk requires approval"
	case model.RiskHigh, model.RiskCritical:
		d.RequiresApproval = true
		d.Blocking = true
		d.Reason = string(ra.Severity) + " regression risk requires approval"
	default:
		// Unknown severities are treated as blocking rather than allowed.
		d.RequiresApproval = true
		d.Blocking = true
		d.Reason = "unrecognized risk severity"
	}
	return d
}

// Task is a unit of work submitted for batch authorization.
type Task struct {
	ID      string
	Pattern string
}

// PendingTask pairs a task with the decision that parked it.
type PendingTask struct {
	Task
	Decision model.AuthorizationDecision
}

// EvaluateMany assesses and decides each task, partitioning into authorized
// and pending. Order within each partition matches input order. Pending
// tasks are queued into the attached registry keyed by their own ID; with no
// registry attached they are excluded from execution instead.
func (g *Gate) EvaluateMany(ctx context.Context, runID string, tasks []Task) ([]Task, []PendingTask) {
	var authorized []Task
	var pending []PendingTask
	for _, t := range tasks {
		decision := Decide(g.Assess(ctx, t.Pattern))
		if decision.Authorized {
			authorized = append(authorized, t)
			continue
		}
		pending = append(pending, PendingTask{Task: t, Decision: decision})
		if g.registry == nil {
			log.Warn().Str("task_id", t.ID).Str("risk", string(decision.RiskLevel)).
				Msg("task failed authorization with no approval service attached; excluded")
			continue
		}
		if _, err := g.registry.Request(ctx, runID, t.ID, t.Pattern, decision); err != nil {
			log.Warn().Err(err).Str("task_id", t.ID).Msg("could not queue approval request")
		}
	}
	return authorized, pending
}
