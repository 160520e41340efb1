package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkoval/phaserun/internal/model"
	"github.com/rs/zerolog/log"
)

// RunTests resolves test paths, executes the test runner under an overall
// timeout, and parses the combined output into structured counts.
func (v *Validator) RunTests(ctx context.Context, phaseID, workspace string) model.VerificationResult {
	paths := v.resolveTestPaths(workspace)
	if len(paths) == 0 {
		log.Info().Str("phase_id", phaseID).Msg("no test paths found, skipping verification")
		return model.VerificationResult{Status: model.VerificationSkipped}
	}

	reportPath := filepath.Join(v.logsDir, phaseID+"-report.json")
	argv := []string{"python", "-m", "pytest", "-q"}
	argv = append(argv, paths...)
	if v.cfg.PerTestTimeout > 0 {
		argv = append(argv, fmt.Sprintf("--timeout=%d", int(v.cfg.PerTestTimeout.Seconds())))
	}
	argv = append(argv, "--json-report", "--json-report-file="+reportPath)

	res := v.exec.Run(ctx, workspace, argv, false, v.cfg.Env, v.cfg.Timeout)
	if res.TimedOut {
		return model.VerificationResult{
			Status:   model.VerificationFailed,
			Duration: res.Duration,
			Error:    fmt.Sprintf("verification timed out after %ds", int(v.cfg.Timeout.Seconds())),
		}
	}
	if res.Err != nil {
		return model.VerificationResult{
			Status:   model.VerificationFailed,
			Duration: res.Duration,
			Error:    fmt.Sprintf("test runner failed to start: %v", res.Err),
		}
	}

	c := parseOutput(res.Output)
	out := model.VerificationResult{
		Passed:              c.Passed,
		Failed:              c.Failed,
		Errors:              c.Errors + c.CollectionErrors,
		Duration:            res.Duration,
		SuspiciousZeroTests: c.Total() == 0,
	}

	out.OutputLog = v.persistOutput(phaseID, res.Output)
	// A non-empty structured report is the authoritative artifact.
	if info, err := os.Stat(reportPath); err == nil && info.Size() > 0 {
		out.ReportPath = reportPath
	}

	collectionFailure := res.ExitCode == exitCollectionError || c.CollectionErrors > 0 ||
		(c.Total() == 0 && res.ExitCode != 0)
	if collectionFailure {
		digest, err := v.digest.Extract(res.Output)
		if err != nil {
			log.Warn().Err(err).Str("phase_id", phaseID).Msg("failure digest extraction failed")
		} else {
			out.FailureDigest = digest
		}
	}

	if res.ExitCode == 0 && c.Failed == 0 && c.CollectionErrors == 0 {
		out.Status = model.VerificationPassed
	} else {
		out.Status = model.VerificationFailed
		out.Error = verificationError(c, res.ExitCode)
	}
	if out.SuspiciousZeroTests {
		log.Warn().Str("phase_id", phaseID).Int("exit_code", res.ExitCode).
			Msg("zero tests detected; discovery configuration may be broken")
	}
	return out
}

// pytest exits 2 on interrupted collection (import errors and the like).
const exitCollectionError = 2

func verificationError(c counts, exitCode int) string {
	if c.CollectionErrors > 0 {
		return fmt.Sprintf("%d errors during collection", c.CollectionErrors)
	}
	if c.Failed > 0 || c.Errors > 0 {
		return fmt.Sprintf("%d failed, %d errors", c.Failed, c.Errors)
	}
	return fmt.Sprintf("test runner exited with code %d", exitCode)
}

// resolveTestPaths returns the configured paths, or discovers conventional
// candidate directories: project-specific override first, generic fallback
// last.
func (v *Validator) resolveTestPaths(workspace string) []string {
	if len(v.cfg.TestPaths) > 0 {
		return v.cfg.TestPaths
	}
	var candidates []string
	if v.cfg.Project != "" {
		candidates = append(candidates, filepath.Join("tests", v.cfg.Project))
	}
	candidates = append(candidates, "tests", "test")
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Join(workspace, c)); err == nil && info.IsDir() {
			return []string{c}
		}
	}
	return nil
}

func (v *Validator) persistOutput(phaseID string, output []byte) string {
	if err := os.MkdirAll(v.logsDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("cannot create verification logs dir")
		return ""
	}
	path := filepath.Join(v.logsDir, phaseID+"-output.log")
	if err := os.WriteFile(path, output, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot persist verification output")
		return ""
	}
	return path
}
