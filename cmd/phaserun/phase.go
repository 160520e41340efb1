package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkoval/phaserun/internal/authz"
	"github.com/dkoval/phaserun/internal/checkpoint"
	"github.com/dkoval/phaserun/internal/config"
	"github.com/dkoval/phaserun/internal/logging"
	"github.com/dkoval/phaserun/internal/model"
	"github.com/dkoval/phaserun/internal/patch"
	"github.com/dkoval/phaserun/internal/phase"
	"github.com/dkoval/phaserun/internal/verify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func phaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Execute and inspect phases",
	}
	cmd.AddCommand(phaseRunCmd())
	return cmd
}

func phaseRunCmd() *cobra.Command {
	var (
		diffFile     string
		planFile     string
		description  string
		goalAnchor   string
		runType      string
		deliverables []string
	)
	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Execute one phase: checkpoint, apply, verify, authorize",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (diffFile == "") == (planFile == "") {
				return fmt.Errorf("exactly one of --diff or --plan is required")
			}
			change, err := loadChange(diffFile, planFile)
			if err != nil {
				return err
			}

			storeDB, repoRoot, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			cfg, err := loadConfig(repoRoot)
			if err != nil {
				return err
			}

			stateDir := filepath.Join(repoRoot, ".phaserun")
			lock, err := phase.AcquireRunLock(stateDir)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			ctx := cmd.Context()
			store := phase.NewStore(storeDB)
			if recovered, err := store.RecoverInterrupted(ctx); err != nil {
				return err
			} else if recovered > 0 {
				log.Warn().Int("phases", recovered).Msg("recovered phases interrupted by a previous exit")
			}

			git := checkpoint.ExecRunner{Timeout: cfg.GitTimeout}
			if !checkpoint.Available(ctx, git, repoRoot) {
				return fmt.Errorf("current directory is not a git repository")
			}

			runID, err := phase.NewRunID()
			if err != nil {
				return err
			}
			phaseID, err := phase.NewPhaseID()
			if err != nil {
				return err
			}
			runDir := filepath.Join(stateDir, "runs", runID)
			if err := os.MkdirAll(runDir, 0o755); err != nil {
				return err
			}
			if err := store.CreateRun(ctx, runID, model.RunType(runType), runDir); err != nil {
				return err
			}

			p := &model.Phase{
				ID:           phaseID,
				RunID:        runID,
				Description:  description,
				GoalAnchor:   goalAnchor,
				Deliverables: deliverables,
				State:        model.PhasePending,
			}
			if err := store.CreatePhase(ctx, p); err != nil {
				return err
			}

			coordinator := buildCoordinator(storeDB, store, stateDir, cfg, git)
			run := phase.Run{
				ID:        runID,
				Type:      model.RunType(runType),
				ProjectID: filepath.Base(repoRoot),
				Workspace: repoRoot,
			}
			res := coordinator.ExecutePhase(ctx, run, p, change)

			status := "complete"
			if p.State != model.PhaseComplete {
				status = "failed"
			}
			if err := store.FinishRun(ctx, runID, status); err != nil {
				log.Warn().Err(err).Msg("could not finalize run record")
			}
			printResult(run, res)
			if p.State != model.PhaseComplete {
				return fmt.Errorf("phase %s failed: %s", p.ID, p.LastFailureReason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&diffFile, "diff", "", "path to a unified diff or wrapped-file payload")
	cmd.Flags().StringVar(&planFile, "plan", "", "path to a JSON structured edit plan")
	cmd.Flags().StringVar(&description, "description", "", "what the phase changes")
	cmd.Flags().StringVar(&goalAnchor, "goal-anchor", "", "goal statement used for drift screening")
	cmd.Flags().StringVar(&runType, "run-type", string(model.RunTypeStandard), "run type: standard, self_repair, or seeding")
	cmd.Flags().StringArrayVar(&deliverables, "deliverable", nil, "expected output path (repeatable)")
	return cmd
}

func loadChange(diffFile, planFile string) (model.ProposedChange, error) {
	if diffFile != "" {
		raw, err := os.ReadFile(diffFile)
		if err != nil {
			return model.ProposedChange{}, fmt.Errorf("read diff: %w", err)
		}
		return model.NewRawDiff(string(raw)), nil
	}
	raw, err := os.ReadFile(planFile)
	if err != nil {
		return model.ProposedChange{}, fmt.Errorf("read plan: %w", err)
	}
	var ops []model.EditOp
	if err := json.Unmarshal(raw, &ops); err != nil {
		return model.ProposedChange{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(ops) == 0 {
		return model.ProposedChange{}, fmt.Errorf("plan contains no operations")
	}
	return model.NewEditPlan(ops), nil
}

func buildCoordinator(storeDB *sql.DB, store *phase.Store, stateDir string, cfg config.Config, git checkpoint.Runner) *phase.Coordinator {
	checkpoints := checkpoint.NewManager(git, stateDir)
	governor := patch.NewAllowListGovernor(git, cfg.Governance.ProtectedPaths)
	applier := patch.NewApplier(patch.FSEngine{}, governor, patch.HeuristicDrift{}, cfg.Budgets)
	history := authz.NewSQLHistory(storeDB)
	registry := authz.NewRegistry(authz.NewSQLBroker(storeDB))
	gate := authz.NewGate(history, registry)
	verifier := verify.New(cfg.Verify, nil, nil, filepath.Join(stateDir, "logs"))
	summaries := phase.FSSummarySink{StateDir: stateDir}
	return phase.NewCoordinator(checkpoints, applier, verifier, gate, registry, store, summaries, history, cfg)
}

func printResult(run phase.Run, res phase.Result) {
	p := res.Phase
	fmt.Printf("run:    %s\n", run.ID)
	fmt.Printf("phase:  %s\n", p.ID)
	fmt.Printf("state:  %s\n", p.State)
	if res.Checkpoint.Commit != "" {
		fmt.Printf("anchor: %s@%s\n", res.Checkpoint.Branch, checkpoint.ShortCommit(res.Checkpoint.Commit))
	}
	if res.Verification.Status != "" {
		fmt.Printf("tests:  %s (%d passed, %d failed, %d errors in %s)\n",
			res.Verification.Status, res.Verification.Passed, res.Verification.Failed,
			res.Verification.Errors, res.Verification.Duration.Round(time.Millisecond))
	}
	if p.LastFailureReason != "" {
		fmt.Printf("reason: %s\n", p.LastFailureReason)
	}
	if logging.DebugEnabled() {
		for _, path := range res.Apply.TouchedPaths {
			fmt.Printf("touched: %s\n", path)
		}
		if res.Verification.OutputLog != "" {
			fmt.Printf("output: %s\n", res.Verification.OutputLog)
		}
	}
}
