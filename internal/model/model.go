// Package model defines the shared data types of the phase execution engine.
package model

import "time"

// PhaseState is the lifecycle state of a phase.
type PhaseState string

const (
	PhasePending      PhaseState = "pending"
	PhaseExecuting    PhaseState = "executing"
	PhaseCIValidation PhaseState = "ci_validation"
	PhaseGate         PhaseState = "gate"
	PhaseComplete     PhaseState = "complete"
	PhaseFailed       PhaseState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s PhaseState) Terminal() bool {
	return s == PhaseComplete || s == PhaseFailed
}

// RunType classifies the run a phase belongs to. Maintenance-mode governance
// is enabled only for self-repair runs.
type RunType string

const (
	RunTypeStandard   RunType = "standard"
	RunTypeSelfRepair RunType = "self_repair"
	RunTypeSeeding    RunType = "seeding"
)

// Phase is one unit of checkpoint -> apply -> validate -> authorize work.
// Mutated only by the coordinator; terminal once complete or failed.
type Phase struct {
	ID                string     `json:"id"`
	RunID             string     `json:"run_id"`
	Description       string     `json:"description"`
	GoalAnchor        string     `json:"goal_anchor,omitempty"`
	Deliverables      []string   `json:"deliverables,omitempty"`
	State             PhaseState `json:"state"`
	Retries           int        `json:"retries"`
	Escalations       int        `json:"escalations"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
}

// Checkpoint is an immutable (branch, commit) snapshot used as a rollback target.
type Checkpoint struct {
	Branch    string    `json:"branch"`
	Commit    string    `json:"commit"`
	CreatedAt time.Time `json:"created_at"`
}

// ApplyMode identifies which of the two apply paths produced an outcome.
type ApplyMode string

const (
	ModeStructuredEdit ApplyMode = "structured_edit"
	ModePatch          ApplyMode = "patch"
)

// MaxTouchedPaths caps the touched-path list recorded on an ApplyOutcome.
const MaxTouchedPaths = 50

// ApplyOutcome is the result of one apply attempt.
type ApplyOutcome struct {
	Success       bool      `json:"success"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Error         string    `json:"error,omitempty"`
	Mode          ApplyMode `json:"mode"`
	TouchedPaths  []string  `json:"touched_paths,omitempty"`
	OpsApplied    int       `json:"ops_applied"`
	OpsFailed     int       `json:"ops_failed"`
	NonEmptyPatch bool      `json:"non_empty_patch,omitempty"`
	PatchBytes    int       `json:"patch_bytes,omitempty"`
	// Touched records whether any workspace file was written before the
	// outcome was decided. Pre-apply validation failures leave it false so
	// the coordinator knows there is nothing to roll back.
	Touched bool `json:"touched"`
	// Escalation is set when the governance layer demands escalated review
	// for a protected path instead of applying or rejecting outright.
	Escalation *EscalationRequest `json:"escalation,omitempty"`
}

// EscalationRequest surfaces a governance write that needs review before retry.
type EscalationRequest struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// VerificationStatus is the coarse outcome of a verification run.
type VerificationStatus string

const (
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
	VerificationSkipped VerificationStatus = "skipped"
)

// VerificationResult is the structured outcome of one CI invocation.
// Persisted once, never mutated after creation.
type VerificationResult struct {
	Status              VerificationStatus `json:"status"`
	Passed              int                `json:"passed"`
	Failed              int                `json:"failed"`
	Errors              int                `json:"errors"`
	Duration            time.Duration      `json:"duration"`
	OutputLog           string             `json:"output_log,omitempty"`
	ReportPath          string             `json:"report_path,omitempty"`
	FailureDigest       string             `json:"failure_digest,omitempty"`
	SuspiciousZeroTests bool               `json:"suspicious_zero_tests"`
	Error               string             `json:"error,omitempty"`
}

// TotalTests is the number of tests the runner accounted for.
func (v VerificationResult) TotalTests() int {
	return v.Passed + v.Failed + v.Errors
}

// RiskSeverity classifies how likely a change is to reintroduce a known regression.
type RiskSeverity string

const (
	RiskLow      RiskSeverity = "low"
	RiskMedium   RiskSeverity = "medium"
	RiskHigh     RiskSeverity = "high"
	RiskCritical RiskSeverity = "critical"
)

// RiskAssessment is computed fresh per authorization check, never cached.
type RiskAssessment struct {
	Severity            RiskSeverity `json:"severity"`
	Confidence          float64      `json:"confidence"`
	BlockingRecommended bool         `json:"blocking_recommended"`
	Evidence            []string     `json:"evidence,omitempty"`
}

// AuthorizationDecision is derived deterministically from a RiskAssessment.
type AuthorizationDecision struct {
	Authorized       bool            `json:"authorized"`
	RequiresApproval bool            `json:"requires_approval"`
	Blocking         bool            `json:"blocking"`
	RiskLevel        RiskSeverity    `json:"risk_level"`
	Reason           string          `json:"reason"`
	Assessment       *RiskAssessment `json:"assessment,omitempty"`
}

// ApprovalStatus is the four-state approval boundary contract.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimeout  ApprovalStatus = "timeout"
)

// Terminal reports whether the status is final. A terminal status is sticky.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalTimeout
}

// ApprovalRequest is one out-of-band human decision point. Mutated exactly
// once: the first terminal response wins.
type ApprovalRequest struct {
	ID          string                `json:"id"`
	RunID       string                `json:"run_id"`
	PhaseID     string                `json:"phase_id"`
	ContextTag  string                `json:"context_tag"`
	Decision    AuthorizationDecision `json:"decision"`
	Status      ApprovalStatus        `json:"status"`
	RespondedAt *time.Time            `json:"responded_at,omitempty"`
}
