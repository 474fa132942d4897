package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentos/internal/mcprt"
	"agentos/internal/shared/id"
)

func newPipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline <file>",
		Short: "Run a declarative connector pipeline (JSON, TOML, or YAML)",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			p, err := mcprt.LoadPipeline(args[0])
			if err != nil {
				return err
			}
			runID := id.NewRunID()
			fmt.Printf("%s pipeline %q as %s (%d steps)\n", bold("running"), p.Name, runID, len(p.Steps))

			results, err := mcprt.RunPipeline(cmd.Context(), app.MCP, runID, p, mcprt.InvokeOptions{
				DryRun: flags.dryRun,
			}, app.Logger)
			for i, res := range results {
				label := green("ok")
				if res.Err != nil {
					label = red("failed")
				} else if flags.dryRun {
					label = yellow("skipped")
				}
				fmt.Printf("  %d. %s %s %dms\n", i+1, cyan(res.Step.Service), label, res.LatencyMS)
				if res.Err != nil {
					fmt.Printf("     %v\n", res.Err)
				}
			}
			return err
		}),
	}
}
