package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the state of a run",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			summary, pending, err := app.Kernel.Status(cmd.Context(), args[0])
			if pending {
				fmt.Printf("%s %s is still queued or executing\n", yellow("pending:"), args[0])
				return nil
			}
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			if flags.jsonOut {
				return printJSON(summary)
			}
			printSummary(summary)
			return nil
		}),
	}
}
