// Package authz scores the regression risk of a unit of work and decides
// whether it may execute autonomously, must be queued for approval, or is
// blocked outright.
package authz

import (
	"context"
	"fmt"

	"github.com/dkoval/phaserun/internal/model"
	"github.com/rs/zerolog/log"
)

// History exposes recorded regression tests and historical failures for
// textual matching.
type History interface {
	MatchingRegressionTests(ctx context.Context, pattern string) ([]string, error)
	FailureCount(ctx context.Context, pattern string) (int, error)
}

// Gate assesses risk and owns the approval request protocol.
type Gate struct {
	history  History
	registry *Registry
}

// NewGate constructs a Gate. The registry may be nil, in which case tasks
// that fail authorization are excluded rather than queued.
func NewGate(history History, registry *Registry) *Gate {
	return &Gate{history: history, registry: registry}
}

// Assess computes a fresh RiskAssessment for the pattern. No matches and no
// history yield low severity with low confidence; matches raise severity and
// attach human-readable evidence.
func (g *Gate) Assess(ctx context.Context, pattern string) model.RiskAssessment {
	tests, err := g.history.MatchingRegressionTests(ctx, pattern)
	if err != nil {
		log.Warn().Err(err).Msg("regression test search failed; assessing without it")
	}
	failures, err := g.history.FailureCount(ctx, pattern)
	if err != nil {
		log.Warn().Err(err).Msg("failure history search failed; assessing without it")
	}

	ra := model.RiskAssessment{Severity: model.RiskLow, Confidence: 0.3}
	if len(tests) == 0 && failures == 0 {
		return ra
	}

	if len(tests) > 0 {
		ra.Evidence = append(ra.Evidence, fmt.Sprintf("%d existing regression tests matched", len(tests)))
	}
	if failures > 0 {
		ra.Evidence = append(ra.Evidence, fmt.Sprintf("%d historical failures matched", failures))
	}

	switch {
	case len(tests) >= 5 && failures >= 5:
		ra.Severity = model.RiskCritical
		ra.Confidence = 0.9
	case len(tests) >= 3 || failures >= 3:
		ra.Severity = model.RiskHigh
		ra.Confidence = 0.8
	default:
		ra.Severity = model.RiskMedium
		ra.Confidence = 0.6
	}
	ra.BlockingRecommended = ra.Severity == model.RiskHigh || ra.Severity == model.RiskCritical
	return ra
}
