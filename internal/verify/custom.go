package verify

import (
	"context"
	"fmt"

	"github.com/dkoval/phaserun/internal/model"
)

// RunCustom executes the configured arbitrary command. Success is
// exit-code-zero; no count parsing is attempted, so custom results carry
// zero counts by convention.
func (v *Validator) RunCustom(ctx context.Context, phaseID, workspace string) model.VerificationResult {
	argv := v.cfg.Command
	shell := v.cfg.Shell
	if len(argv) == 0 {
		if v.cfg.CommandLine == "" {
			return model.VerificationResult{
				Status: model.VerificationFailed,
				Error:  "no custom verification command configured",
			}
		}
		argv = []string{v.cfg.CommandLine}
		shell = true
	}

	res := v.exec.Run(ctx, workspace, argv, shell, v.cfg.Env, v.cfg.Timeout)
	if res.TimedOut {
		return model.VerificationResult{
			Status:   model.VerificationFailed,
			Duration: res.Duration,
			Error:    fmt.Sprintf("verification timed out after %ds", int(v.cfg.Timeout.Seconds())),
		}
	}

	out := model.VerificationResult{Duration: res.Duration}
	out.OutputLog = v.persistOutput(phaseID, res.Output)
	if res.Err != nil {
		out.Status = model.VerificationFailed
		out.Error = fmt.Sprintf("command failed to start: %v", res.Err)
		return out
	}
	if res.ExitCode == 0 {
		out.Status = model.VerificationPassed
	} else {
		out.Status = model.VerificationFailed
		out.Error = fmt.Sprintf("command exited with code %d", res.ExitCode)
	}
	return out
}
