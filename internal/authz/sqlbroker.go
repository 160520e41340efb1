package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkoval/phaserun/internal/model"
)

// SQLBroker is the default approval boundary for local operation: requests
// are rows in the approvals table, resolved by the approvals CLI.
type SQLBroker struct {
	db *sql.DB
}

// NewSQLBroker constructs a broker over the given database.
func NewSQLBroker(db *sql.DB) *SQLBroker {
	return &SQLBroker{db: db}
}

// Submit inserts a pending approval row and returns its identifier. If the
// phase already has a pending request, that request's id is returned
// instead; the partial unique index guards the race.
func (b *SQLBroker) Submit(ctx context.Context, req model.ApprovalRequest) (string, error) {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO approvals(approval_id, run_id, phase_id, context_tag, risk_level, reason, status, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RunID, req.PhaseID, req.ContextTag, string(req.Decision.RiskLevel),
		req.Decision.Reason, string(model.ApprovalPending), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		var existing string
		row := b.db.QueryRowContext(ctx,
			`SELECT approval_id FROM approvals WHERE phase_id=? AND status='pending'`, req.PhaseID)
		if scanErr := row.Scan(&existing); scanErr == nil {
			return existing, nil
		}
		return "", fmt.Errorf("insert approval: %w", err)
	}
	return req.ID, nil
}

// Poll reads the current status of an approval row.
func (b *SQLBroker) Poll(ctx context.Context, id string) (model.ApprovalStatus, error) {
	row := b.db.QueryRowContext(ctx, `SELECT status FROM approvals WHERE approval_id=?`, id)
	var status string
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return model.ApprovalPending, fmt.Errorf("approval %s not found", id)
		}
		return model.ApprovalPending, fmt.Errorf("read approval status: %w", err)
	}
	return model.ApprovalStatus(status), nil
}

// Resolve records a terminal response. The first terminal response wins;
// resolving an already-terminal request is a no-op that reports false.
func (b *SQLBroker) Resolve(ctx context.Context, id string, status model.ApprovalStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	res, err := b.db.ExecContext(ctx,
		`UPDATE approvals SET status=?, responded_at=? WHERE approval_id=? AND status='pending'`,
		string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	return n > 0, nil
}

// ListPending returns open approval requests, oldest first.
func (b *SQLBroker) ListPending(ctx context.Context) ([]model.ApprovalRequest, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT approval_id, run_id, phase_id, context_tag, risk_level, reason
		 FROM approvals WHERE status='pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ApprovalRequest
	for rows.Next() {
		var req model.ApprovalRequest
		var risk string
		if err := rows.Scan(&req.ID, &req.RunID, &req.PhaseID, &req.ContextTag, &risk, &req.Decision.Reason); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		req.Status = model.ApprovalPending
		req.Decision.RiskLevel = model.RiskSeverity(risk)
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return out, nil
}
