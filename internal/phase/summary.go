package phase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkoval/phaserun/internal/model"
)

// Summary is the per-phase execution artifact written on every terminal
// transition.
type Summary struct {
	PhaseID       string                    `json:"phase_id"`
	RunID         string                    `json:"run_id"`
	State         model.PhaseState          `json:"state"`
	FailureReason string                    `json:"failure_reason,omitempty"`
	Checkpoint    *model.Checkpoint         `json:"checkpoint,omitempty"`
	Apply         *model.ApplyOutcome       `json:"apply,omitempty"`
	Verification  *model.VerificationResult `json:"verification,omitempty"`
}

// SummarySink is a write-only artifact store keyed by phase identifier.
// Write failures are non-fatal to the caller.
type SummarySink interface {
	Write(runID, phaseID string, summary Summary) error
}

// FSSummarySink writes summaries under the run directory.
type FSSummarySink struct {
	StateDir string
}

// Write persists summary.json for the phase.
func (s FSSummarySink) Write(runID, phaseID string, summary Summary) error {
	dir := filepath.Join(s.StateDir, "runs", runID, "phases", phaseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create phase summary dir: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal phase summary: %w", err)
	}
	path := filepath.Join(dir, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
