package main

import (
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/cobra"
)

func newApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Manage the signed approval for publishing side effects",
	}
	cmd.AddCommand(newApproveGrantCmd(), newApproveRevokeCmd(), newApproveShowCmd())
	return cmd
}

func newApproveGrantCmd() *cobra.Command {
	var (
		approver string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a signed, time-bounded publish approval",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if approver == "" {
				if u, err := user.Current(); err == nil {
					approver = u.Username
				} else {
					approver = "operator"
				}
			}
			if flags.dryRun {
				fmt.Printf("dry-run: would grant approval for %s (ttl %s)\n", approver, ttl)
				return nil
			}
			approval, err := app.Approval.Grant(approver, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("%s approval #%d granted to %s", green("ok:"), approval.Counter, cyan(approval.Approver))
			if !approval.ExpiresAt.IsZero() {
				fmt.Printf(", expires %s", approval.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Println()
			return nil
		}),
	}
	cmd.Flags().StringVar(&approver, "approver", "", "operator name (default: current user)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "grant lifetime, 0 = no expiry")
	return cmd
}

func newApproveRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Remove the current approval",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if flags.dryRun {
				fmt.Println("dry-run: would revoke the current approval")
				return nil
			}
			if err := app.Approval.Revoke(); err != nil {
				return err
			}
			fmt.Printf("%s approval revoked\n", green("ok:"))
			return nil
		}),
	}
}

func newApproveShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current approval, validated",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			approval, err := app.Approval.Current()
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(approval)
			}
			fmt.Printf("approval #%d by %s granted %s", approval.Counter, cyan(approval.Approver),
				approval.GrantedAt.Format(time.RFC3339))
			if !approval.ExpiresAt.IsZero() {
				fmt.Printf(", expires %s", approval.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Println()
			return nil
		}),
	}
}
