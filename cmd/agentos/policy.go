package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agentos/internal/feedback"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show, apply, and roll back tuned policy overrides",
	}
	cmd.AddCommand(newPolicyShowCmd(), newPolicyApplyCmd(), newPolicyRollbackCmd())
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active override set",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if history > 0 {
				snaps, err := app.Store.Overrides.History(cmd.Context(), history)
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(snaps)
				}
				for _, snap := range snaps {
					fmt.Printf("%s %s (%d active) %s\n",
						cyan(snap.SnapshotID), snap.AppliedAt.Format(time.RFC3339), len(snap.Active), snap.Reason)
				}
				return nil
			}

			snap, err := app.Store.Overrides.Latest(cmd.Context())
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Println("no overrides active")
				return nil
			}
			if flags.jsonOut {
				return printJSON(snap)
			}
			fmt.Printf("%s snapshot %s applied %s\n", bold("active overrides:"),
				cyan(snap.SnapshotID), snap.AppliedAt.Format(time.RFC3339))
			for _, o := range snap.Active {
				fmt.Printf("  %s %s=%s (since %s)\n", o.Scope, cyan(o.Key), o.Value, o.AppliedAt.Format("2006-01-02"))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&history, "history", 0, "show the last N snapshots instead")
	return cmd
}

func newPolicyApplyCmd() *cobra.Command {
	var (
		planFile   string
		approvedBy string
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply override proposals as a reversible snapshot",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			var proposals []feedback.Proposal
			if planFile != "" {
				var err error
				proposals, err = readPlan(planFile)
				if err != nil {
					return err
				}
			} else {
				var err error
				proposals, err = app.Tuner.Proposals(cmd.Context())
				if err != nil {
					return err
				}
			}
			if len(proposals) == 0 {
				fmt.Println("nothing to apply")
				return nil
			}

			if flags.dryRun {
				fmt.Printf("dry-run: would apply %d overrides:\n", len(proposals))
				for _, p := range proposals {
					fmt.Printf("  %s %s=%s\n", p.Override.Scope, cyan(p.Override.Key), p.Override.Value)
				}
				return nil
			}

			snap, err := app.Tuner.Apply(cmd.Context(), proposals, approvedBy)
			if err != nil {
				return err
			}
			fmt.Printf("%s snapshot %s applied (%d active overrides)\n",
				green("ok:"), cyan(snap.SnapshotID), len(snap.Active))
			fmt.Printf("roll back with: agentos policy rollback %s\n", snap.SnapshotID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&planFile, "plan-file", "", "apply a reviewed plan file instead of live proposals")
	cmd.Flags().StringVar(&approvedBy, "approved-by", "", "operator name recorded on the snapshot")
	return cmd
}

func newPolicyRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <snapshot-id>",
		Short: "Restore the override set active before a snapshot",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if flags.dryRun {
				fmt.Printf("dry-run: would roll back to the state before %s\n", args[0])
				return nil
			}
			snap, diff, err := app.Tuner.Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s rolled back as snapshot %s\n", green("ok:"), cyan(snap.SnapshotID))
			if len(diff) == 0 {
				fmt.Println("  no effective changes")
				return nil
			}
			for _, d := range diff {
				fmt.Printf("  %s %s: %q → %q\n", d.Scope, cyan(d.Key), d.Before, d.After)
			}
			return nil
		}),
	}
}

func readPlan(path string) ([]feedback.Proposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	var plan struct {
		Proposals []feedback.Proposal `json:"proposals"`
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return plan.Proposals, nil
}
