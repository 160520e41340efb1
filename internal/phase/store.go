package phase

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkoval/phaserun/internal/model"
)

// Store persists runs, phases, verifications, and the per-run event journal.
type Store struct {
	db *sql.DB
}

// NewStore creates a store for phase persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, runID string, runType model.RunType, runDir string) error {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, run_type, status, run_dir)
		VALUES(?, ?, ?, ?, ?)`,
		runID, createdAt, string(runType), "running", runDir); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := insertEvent(ctx, tx, runID, "run_started", "run started", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// CreatePhase inserts a phase in its initial state.
func (s *Store) CreatePhase(ctx context.Context, p *model.Phase) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO phases(phase_id, run_id, description, goal_anchor, state, retries, escalations, last_failure_reason, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RunID, p.Description, nullableString(p.GoalAnchor), string(p.State),
		p.Retries, p.Escalations, nullableString(p.LastFailureReason), now, now); err != nil {
		return fmt.Errorf("insert phase: %w", err)
	}
	return nil
}

// UpdatePhase records a state transition and an optional event in one
// transaction.
func (s *Store) UpdatePhase(ctx context.Context, p *model.Phase, event *Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin update phase: %w", err)
	}
	if event != nil {
		if err := insertEvent(ctx, tx, p.RunID, event.Type, event.Message, event.DataJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE phases SET state=?, retries=?, escalations=?, last_failure_reason=?, updated_at=? WHERE phase_id=?`,
		string(p.State), p.Retries, p.Escalations, nullableString(p.LastFailureReason),
		time.Now().UTC().Format(time.RFC3339), p.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update phase: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update phase: %w", err)
	}
	return nil
}

// Event is one journal entry in the per-run event log.
type Event struct {
	Type     string
	Message  string
	DataJSON string
}

// RecordVerification persists a verification result. Results are written
// once and never updated.
func (s *Store) RecordVerification(ctx context.Context, phaseID string, v model.VerificationResult) error {
	suspicious := 0
	if v.SuspiciousZeroTests {
		suspicious = 1
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO verifications(phase_id, created_at, status, passed, failed, errors, duration_ms, output_log, report_path, failure_digest, suspicious_zero_tests, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		phaseID, time.Now().UTC().Format(time.RFC3339), string(v.Status), v.Passed, v.Failed, v.Errors,
		v.Duration.Milliseconds(), nullableString(v.OutputLog), nullableString(v.ReportPath),
		nullableString(v.FailureDigest), suspicious, nullableString(v.Error)); err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// FinishRun marks the run terminal.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET status=? WHERE run_id=?`, status, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecoverInterrupted marks phases left non-terminal by a crashed process as
// failed. Returns the number of phases recovered.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE phases SET state=?, last_failure_reason=?, updated_at=? WHERE state NOT IN (?, ?)`,
		string(model.PhaseFailed), "interrupted by process exit",
		time.Now().UTC().Format(time.RFC3339),
		string(model.PhaseComplete), string(model.PhaseFailed))
	if err != nil {
		return 0, fmt.Errorf("recover interrupted phases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover interrupted phases: %w", err)
	}
	return int(n), nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, dataJSON string) error {
	seq, err := nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, ts, typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// GetPhaseState returns the state for a phase id, or empty if missing.
func (s *Store) GetPhaseState(ctx context.Context, phaseID string) (model.PhaseState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM phases WHERE phase_id=?`, phaseID)
	var state string
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("read phase state: %w", err)
	}
	return model.PhaseState(state), nil
}
