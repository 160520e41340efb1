package main

import (
	"fmt"

	"github.com/dkoval/phaserun/internal/authz"
	"github.com/dkoval/phaserun/internal/model"
	"github.com/spf13/cobra"
)

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review pending approval requests",
	}
	cmd.AddCommand(approvalsListCmd())
	cmd.AddCommand(approvalsResolveCmd("approve", model.ApprovalApproved))
	cmd.AddCommand(approvalsResolveCmd("reject", model.ApprovalRejected))
	return cmd
}

func approvalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List approval requests still awaiting a decision",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			pending, err := authz.NewSQLBroker(storeDB).ListPending(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println("no pending approvals")
				return nil
			}
			for _, req := range pending {
				fmt.Printf("%s  phase=%s  risk=%s  %s\n",
					req.ID, req.PhaseID, req.Decision.RiskLevel, req.Decision.Reason)
			}
			return nil
		},
	}
}

func approvalsResolveCmd(verb string, status model.ApprovalStatus) *cobra.Command {
	return &cobra.Command{
		Use:          verb + " <approval-id>",
		Short:        verb + " a pending approval request",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			resolved, err := authz.NewSQLBroker(storeDB).Resolve(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			if !resolved {
				return fmt.Errorf("approval %s is not pending", args[0])
			}
			fmt.Printf("%s %s\n", args[0], status)
			return nil
		},
	}
}
