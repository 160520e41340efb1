package authz

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLHistory reads regression tests and failure history from the phaserun
// database.
type SQLHistory struct {
	db *sql.DB
}

// NewSQLHistory constructs a History over the given database.
func NewSQLHistory(db *sql.DB) *SQLHistory {
	return &SQLHistory{db: db}
}

// MatchingRegressionTests returns test paths whose recorded pattern shares
// tokens with the given pattern.
func (h *SQLHistory) MatchingRegressionTests(ctx context.Context, pattern string) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT pattern, test_path FROM regression_tests`)
	if err != nil {
		return nil, fmt.Errorf("list regression tests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []string
	for rows.Next() {
		var recorded, testPath string
		if err := rows.Scan(&recorded, &testPath); err != nil {
			return nil, fmt.Errorf("scan regression test: %w", err)
		}
		if tokensOverlap(pattern, recorded) {
			matches = append(matches, testPath)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regression tests: %w", err)
	}
	return matches, nil
}

// FailureCount counts recorded phase failures whose pattern overlaps.
func (h *SQLHistory) FailureCount(ctx context.Context, pattern string) (int, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT pattern FROM phase_failures`)
	if err != nil {
		return 0, fmt.Errorf("list phase failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		var recorded string
		if err := rows.Scan(&recorded); err != nil {
			return 0, fmt.Errorf("scan phase failure: %w", err)
		}
		if tokensOverlap(pattern, recorded) {
			count++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate phase failures: %w", err)
	}
	return count, nil
}

// RecordRegressionTest stores a regression test for future risk matching.
func (h *SQLHistory) RecordRegressionTest(ctx context.Context, pattern, testPath string) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO regression_tests(pattern, test_path, created_at) VALUES(?, ?, ?)`,
		pattern, testPath, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record regression test: %w", err)
	}
	return nil
}

// RecordFailure stores a phase failure for future risk matching.
func (h *SQLHistory) RecordFailure(ctx context.Context, pattern, reason string) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO phase_failures(pattern, reason, created_at) VALUES(?, ?, ?)`,
		pattern, reason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record phase failure: %w", err)
	}
	return nil
}

// MemoryHistory is an in-memory History for tests and seeding runs.
type MemoryHistory struct {
	RegressionTests map[string]string // test path -> pattern
	Failures        []string          // patterns
}

func (m *MemoryHistory) MatchingRegressionTests(_ context.Context, pattern string) ([]string, error) {
	var out []string
	for path, recorded := range m.RegressionTests {
		if tokensOverlap(pattern, recorded) {
			out = append(out, path)
		}
	}
	return out, nil
}

func (m *MemoryHistory) FailureCount(_ context.Context, pattern string) (int, error) {
	count := 0
	for _, recorded := range m.Failures {
		if tokensOverlap(pattern, recorded) {
			count++
		}
	}
	return count, nil
}

// tokensOverlap reports whether the two texts share at least one
// significant token.
func tokensOverlap(a, b string) bool {
	set := make(map[string]struct{})
	for _, tok := range riskTokens(a) {
		set[tok] = struct{}{}
	}
	for _, tok := range riskTokens(b) {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

func riskTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 4 {
			continue
		}
		out = append(out, f)
	}
	return out
}
