package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentos/internal/shared/id"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <chain-id>",
		Short: "Re-execute a recorded connector chain",
		Long:  "Replays a persisted chain record step by step against the current catalog.\nChain ids are visible in `agentos inspect`; with --dry-run the plan is\nrecorded but nothing is called.",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			newID := id.NewRunID()
			record, err := app.MCP.Replay(cmd.Context(), args[0], newID, flags.dryRun)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(record)
			}
			fmt.Printf("%s %s replayed as %s\n", bold("replay:"), args[0], cyan(newID))
			for _, step := range record.Steps {
				label := green(step.Status)
				switch step.Status {
				case "failed":
					label = red(step.Status)
				case "skipped":
					label = yellow(step.Status)
				}
				fmt.Printf("  %s %s %s %dms\n", step.StepID, cyan(step.Tool), label, step.LatencyMS)
			}
			return nil
		}),
	}
}
