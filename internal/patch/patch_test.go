package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dkoval/phaserun/internal/config"
	"github.com/dkoval/phaserun/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGovernor struct {
	called      bool
	allowed     []string
	maintenance bool
	scripted    bool
	outcome     GovernanceOutcome
}

func scriptedGovernor(outcome GovernanceOutcome) *recordingGovernor {
	return &recordingGovernor{scripted: true, outcome: outcome}
}

func (g *recordingGovernor) Apply(_ context.Context, _ string, payload Payload, allowed []string, maintenance bool) GovernanceOutcome {
	g.called = true
	g.allowed = allowed
	g.maintenance = maintenance
	if !g.scripted {
		return GovernanceOutcome{Status: GovernanceApplied, TouchedPaths: payload.Paths()}
	}
	return g.outcome
}

func newTestApplier(gov Governor, budgets config.Budgets) *Applier {
	return NewApplier(FSEngine{}, gov, HeuristicDrift{}, budgets)
}

func TestApplyStructuredPlanInOrder(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "old.txt"), []byte("old\n"), 0o644))

	plan := model.NewEditPlan([]model.EditOp{
		{Action: model.EditCreate, Path: "a/new.txt", Content: "hello\n"},
		{Action: model.EditReplace, Path: "old.txt", Content: "replaced\n"},
		{Action: model.EditDelete, Path: "old.txt"},
	})
	a := newTestApplier(&recordingGovernor{}, config.Budgets{})
	out := a.Apply(context.Background(), workspace, &model.Phase{ID: "p1"}, plan, Context{})

	require.True(t, out.Success, "apply failed: %s", out.Error)
	assert.Equal(t, model.ModeStructuredEdit, out.Mode)
	assert.Equal(t, 3, out.OpsApplied)
	assert.Equal(t, 0, out.OpsFailed)
	assert.True(t, out.Touched)
	assert.Equal(t, []string{"a/new.txt", "old.txt", "old.txt"}, out.TouchedPaths)

	raw, err := os.ReadFile(filepath.Join(workspace, "a", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(raw))
	_, err = os.Stat(filepath.Join(workspace, "old.txt"))
	assert.True(t, os.IsNotExist(err), "deleted file still present")
}

func TestApplyStructuredStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "exists.txt"), []byte("x"), 0o644))

	plan := model.NewEditPlan([]model.EditOp{
		{Action: model.EditCreate, Path: "one.txt", Content: "1"},
		{Action: model.EditCreate, Path: "exists.txt", Content: "clobber"},
		{Action: model.EditCreate, Path: "never.txt", Content: "2"},
	})
	a := newTestApplier(&recordingGovernor{}, config.Budgets{})
	out := a.Apply(context.Background(), workspace, &model.Phase{ID: "p1"}, plan, Context{})

	require.False(t, out.Success)
	assert.Equal(t, CodeStructuredEditFailed, out.ErrorCode)
	assert.Equal(t, 1, out.OpsApplied)
	assert.Equal(t, 1, out.OpsFailed)
	assert.True(t, out.Touched, "a partial apply must demand rollback")
	_, err := os.Stat(filepath.Join(workspace, "never.txt"))
	assert.True(t, os.IsNotExist(err), "ops after the failure must not run")
}

func TestTouchedPathsCappedAtFifty(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	ops := make([]model.EditOp, 0, 100)
	for i := 0; i < 100; i++ {
		ops = append(ops, model.EditOp{
			Action:  model.EditCreate,
			Path:    fmt.Sprintf("f%03d.txt", i),
			Content: "x",
		})
	}
	a := newTestApplier(&recordingGovernor{}, config.Budgets{})
	out := a.Apply(context.Background(), workspace, &model.Phase{ID: "p1"}, model.NewEditPlan(ops), Context{})

	require.True(t, out.Success, out.Error)
	assert.Equal(t, 100, out.OpsApplied)
	assert.Len(t, out.TouchedPaths, model.MaxTouchedPaths)
	assert.Equal(t, "f000.txt", out.TouchedPaths[0])
	assert.Equal(t, "f049.txt", out.TouchedPaths[49])
}

func TestInvalidComposeBlocksBeforeGovernance(t *testing.T) {
	t.Parallel()

	wrapped, err := json.Marshal(map[string]string{
		"deploy/docker-compose.yml": "services:\n  web:\n    image: nginx\n   broken_indent: true\n",
	})
	require.NoError(t, err)

	gov := &recordingGovernor{}
	a := newTestApplier(gov, config.Budgets{})
	out := a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(string(wrapped)), Context{})

	require.False(t, out.Success)
	assert.Equal(t, CodeValidationFailed, out.ErrorCode)
	assert.Contains(t, out.Error, "YAML validation failed")
	assert.False(t, out.Touched, "nothing was applied, nothing to roll back")
	assert.False(t, gov.called, "governance must not see an invalid payload")
}

func TestComposeMissingServicesBlocks(t *testing.T) {
	t.Parallel()

	wrapped, err := json.Marshal(map[string]string{
		"compose.yaml": "version: '3'\nvolumes: {}\n",
	})
	require.NoError(t, err)

	gov := &recordingGovernor{}
	a := newTestApplier(gov, config.Budgets{})
	out := a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(string(wrapped)), Context{})

	require.False(t, out.Success)
	assert.Contains(t, out.Error, "compose validation failed")
	assert.False(t, gov.called)
}

func TestInvalidJSONFileBlocks(t *testing.T) {
	t.Parallel()

	wrapped, err := json.Marshal(map[string]string{
		"config/settings.json": "{not valid",
	})
	require.NoError(t, err)

	a := newTestApplier(&recordingGovernor{}, config.Budgets{})
	out := a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(string(wrapped)), Context{})

	require.False(t, out.Success)
	assert.Contains(t, out.Error, "JSON validation failed")
}

func TestPlainDiffSkipsStructuredValidation(t *testing.T) {
	t.Parallel()

	diff := "diff --git a/app.py b/app.py\n--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-x = 1\n+x = 2\n"
	gov := &recordingGovernor{}
	a := newTestApplier(gov, config.Budgets{})
	out := a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(diff), Context{})

	require.True(t, out.Success, out.Error)
	assert.True(t, gov.called)
	assert.Equal(t, model.ModePatch, out.Mode)
	assert.True(t, out.NonEmptyPatch)
	assert.Equal(t, len(diff), out.PatchBytes)
}

func TestGoalDriftBlocksOnlyWithAnchor(t *testing.T) {
	t.Parallel()

	diff := "diff --git a/app.py b/app.py\n--- a/app.py\n+++ b/app.py\n"
	gov := &recordingGovernor{}
	a := newTestApplier(gov, config.Budgets{})

	drifted := &model.Phase{
		ID:          "p1",
		GoalAnchor:  "improve database connection pooling performance significantly",
		Description: "rewrite frontend navbar styling colors",
	}
	out := a.Apply(context.Background(), t.TempDir(), drifted, model.NewRawDiff(diff), Context{})
	require.False(t, out.Success)
	assert.Equal(t, CodeGoalDrift, out.ErrorCode)
	assert.Contains(t, out.Error, "goal drift detected")
	assert.False(t, gov.called)

	noAnchor := &model.Phase{ID: "p2", Description: "rewrite frontend navbar styling colors"}
	out = a.Apply(context.Background(), t.TempDir(), noAnchor, model.NewRawDiff(diff), Context{})
	assert.True(t, out.Success, "a phase without a goal anchor never drifts")
}

func TestBudgetLimitsEnforced(t *testing.T) {
	t.Parallel()

	big := "diff --git a/big.py b/big.py\n" + strings.Repeat("+pad\n", 1024)
	a := newTestApplier(&recordingGovernor{}, config.Budgets{MaxPatchKB: 1})
	out := a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(big), Context{})
	require.False(t, out.Success)
	assert.Equal(t, CodeBudgetExceeded, out.ErrorCode)
	assert.Contains(t, out.Error, "max_patch_kb")

	multi := "diff --git a/a.py b/a.py\ndiff --git a/b.py b/b.py\ndiff --git a/c.py b/c.py\n"
	a = newTestApplier(&recordingGovernor{}, config.Budgets{MaxChangedFiles: 2})
	out = a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(multi), Context{})
	require.False(t, out.Success)
	assert.Contains(t, out.Error, "max_changed_files")
}

func TestGovernanceEscalationSurfaced(t *testing.T) {
	t.Parallel()

	gov := scriptedGovernor(GovernanceOutcome{
		Status:         GovernanceEscalation,
		Reason:         "write to protected path infra/prod.tf",
		EscalationPath: "infra/prod.tf",
	})
	a := newTestApplier(gov, config.Budgets{})
	diff := "diff --git a/infra/prod.tf b/infra/prod.tf\n"
	out := a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(diff), Context{})

	require.False(t, out.Success)
	assert.Equal(t, CodeGovernanceEscalation, out.ErrorCode)
	require.NotNil(t, out.Escalation)
	assert.Equal(t, "infra/prod.tf", out.Escalation.Path)
}

func TestGovernanceRejectionMapped(t *testing.T) {
	t.Parallel()

	gov := scriptedGovernor(GovernanceOutcome{
		Status: GovernanceRejected,
		Reason: "path lib/util.py outside allowed paths",
	})
	a := newTestApplier(gov, config.Budgets{})
	diff := "diff --git a/lib/util.py b/lib/util.py\n"
	out := a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(diff), Context{})

	require.False(t, out.Success)
	assert.Equal(t, CodeGovernanceRejected, out.ErrorCode)
	assert.Nil(t, out.Escalation)
}

func TestAllowedPathsFallBackToDeliverables(t *testing.T) {
	t.Parallel()

	gov := &recordingGovernor{}
	a := newTestApplier(gov, config.Budgets{})
	phase := &model.Phase{
		ID:           "p1",
		Deliverables: []string{"src/app/main.py", "src/app/util.py", "docs/readme.md"},
	}
	diff := "diff --git a/src/app/main.py b/src/app/main.py\n"
	out := a.Apply(context.Background(), t.TempDir(), phase, model.NewRawDiff(diff), Context{})

	require.True(t, out.Success, out.Error)
	assert.Equal(t, []string{"src/app", "docs"}, gov.allowed)
}

func TestSelfRepairRunsFlagMaintenance(t *testing.T) {
	t.Parallel()

	gov := &recordingGovernor{}
	a := newTestApplier(gov, config.Budgets{})
	diff := "diff --git a/a.py b/a.py\n"
	a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p1"}, model.NewRawDiff(diff),
		Context{RunType: model.RunTypeSelfRepair})
	assert.True(t, gov.maintenance)

	gov = &recordingGovernor{}
	a = newTestApplier(gov, config.Budgets{})
	a.Apply(context.Background(), t.TempDir(), &model.Phase{ID: "p2"}, model.NewRawDiff(diff),
		Context{RunType: model.RunTypeStandard})
	assert.False(t, gov.maintenance)
}
