package authz

import (
	"context"
	"path/filepath"
	"testing"

	internaldb "github.com/dkoval/phaserun/internal/db"
	"github.com/dkoval/phaserun/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLBroker {
	t.Helper()
	database, err := internaldb.Open(filepath.Join(t.TempDir(), "phaserun.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewSQLBroker(database)
}

func TestSQLBrokerFirstTerminalResponseWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := openTestDB(t)

	req := model.ApprovalRequest{
		ID: "ap-1", RunID: "run-1", PhaseID: "phase-1", ContextTag: "risk",
		Decision: model.AuthorizationDecision{RiskLevel: model.RiskHigh, Reason: "high regression risk requires approval"},
	}
	id, err := broker.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "ap-1", id)

	status, err := broker.Poll(ctx, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, status)

	ok, err := broker.Resolve(ctx, "ap-1", model.ApprovalApproved)
	require.NoError(t, err)
	assert.True(t, ok)

	// The losing response is a reported no-op.
	ok, err = broker.Resolve(ctx, "ap-1", model.ApprovalRejected)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err = broker.Poll(ctx, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, status)
}

func TestSQLBrokerRejectsNonTerminalResolve(t *testing.T) {
	t.Parallel()

	broker := openTestDB(t)
	_, err := broker.Resolve(context.Background(), "ap-1", model.ApprovalPending)
	assert.Error(t, err)
}

func TestSQLBrokerDuplicatePendingReturnsExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := openTestDB(t)

	first := model.ApprovalRequest{ID: "ap-1", RunID: "run-1", PhaseID: "phase-1", ContextTag: "risk"}
	_, err := broker.Submit(ctx, first)
	require.NoError(t, err)

	dup := model.ApprovalRequest{ID: "ap-2", RunID: "run-1", PhaseID: "phase-1", ContextTag: "risk"}
	id, err := broker.Submit(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "ap-1", id, "a phase with an open request keeps its original id")

	pending, err := broker.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ap-1", pending[0].ID)
}

func TestSQLHistoryRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	database, err := internaldb.Open(filepath.Join(t.TempDir(), "phaserun.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	history := NewSQLHistory(database)

	require.NoError(t, history.RecordRegressionTest(ctx, "payment checkout regression", "tests/test_checkout.py"))
	require.NoError(t, history.RecordFailure(ctx, "payment retry storm", "verification failed"))
	require.NoError(t, history.RecordFailure(ctx, "unrelated frontend styling", "approval rejected"))

	tests, err := history.MatchingRegressionTests(ctx, "payment checkout flow")
	require.NoError(t, err)
	assert.Equal(t, []string{"tests/test_checkout.py"}, tests)

	count, err := history.FailureCount(ctx, "payment checkout flow")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
