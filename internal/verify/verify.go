// Package verify executes the configured verification command for a phase
// and parses its raw output into a structured result.
package verify

import (
	"context"

	"github.com/dkoval/phaserun/internal/config"
	"github.com/dkoval/phaserun/internal/model"
	"github.com/rs/zerolog/log"
)

// Validator runs verification per the configured CI kind.
type Validator struct {
	cfg     config.VerifyConfig
	exec    CommandRunner
	digest  DigestExtractor
	logsDir string
}

// New constructs a Validator. logsDir receives persisted combined output and
// structured reports.
func New(cfg config.VerifyConfig, exec CommandRunner, digest DigestExtractor, logsDir string) *Validator {
	if exec == nil {
		exec = ExecCommandRunner{}
	}
	if digest == nil {
		digest = TailDigest{}
	}
	return &Validator{cfg: cfg, exec: exec, digest: digest, logsDir: logsDir}
}

// Run selects the verification strategy for the phase. The skip switch is
// honored only for telemetry-seeding runs; on any other run it is ignored
// with a warning so it cannot silently disable verification.
func (v *Validator) Run(ctx context.Context, phaseID, workspace string, runType model.RunType) model.VerificationResult {
	if v.cfg.Skip {
		if runType == model.RunTypeSeeding {
			log.Info().Str("phase_id", phaseID).Msg("verification skipped for seeding run")
			return model.VerificationResult{Status: model.VerificationSkipped}
		}
		log.Warn().Str("phase_id", phaseID).Str("run_type", string(runType)).
			Msg("verify.skip set on a non-seeding run; ignoring")
	}

	switch v.cfg.Kind {
	case "custom":
		return v.RunCustom(ctx, phaseID, workspace)
	default:
		return v.RunTests(ctx, phaseID, workspace)
	}
}
