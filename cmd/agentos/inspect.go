package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentos/internal/domain/run"
	"agentos/internal/mcprt"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "Show the full evidence trail of a run",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			runID := args[0]
			summary, err := app.Store.Events.Summary(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("run %s: %w", runID, err)
			}
			attempts, err := app.Store.Events.Attempts(cmd.Context(), runID)
			if err != nil {
				return err
			}

			if flags.jsonOut {
				return printJSON(struct {
					Summary  *run.Summary  `json:"summary"`
					Attempts []run.Attempt `json:"attempts"`
				}{summary, attempts})
			}

			printSummary(summary)
			fmt.Printf("\n%s\n", bold("attempts:"))
			for _, a := range attempts {
				status := green(string(a.Status))
				switch a.Status {
				case run.AttemptFailed, run.AttemptAborted:
					status = red(string(a.Status))
				case run.AttemptSkipped:
					status = yellow(string(a.Status))
				}
				fmt.Printf("  #%d %s %s %dms retries=%d\n",
					a.Seq+1, cyan(a.StrategyID), status, a.Telemetry.LatencyMS, a.Telemetry.Retries)
				if a.ErrorKind != run.ErrNone {
					fmt.Printf("     %s: %s\n", a.ErrorKind, a.ErrorMessage)
				}
				fmt.Printf("     plan: %s\n", a.Closure.Plan)
				if a.Closure.Verify != "" {
					fmt.Printf("     verify: %s\n", a.Closure.Verify)
				}
				for _, ref := range a.Artifacts {
					fmt.Printf("     artifact: %s (%s)\n", ref.URI, ref.Kind)
				}
			}

			printChainRecords(app, runID, len(attempts))
			return nil
		}),
	}
}

// printChainRecords shows connector traces recorded for the run's attempts.
func printChainRecords(app *App, runID string, attempts int) {
	var records []*mcprt.RunRecord
	for i := 1; i <= attempts; i++ {
		if rec, err := app.MCP.Record(fmt.Sprintf("%s.a%d", runID, i)); err == nil {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return
	}
	fmt.Printf("\n%s\n", bold("connector chains:"))
	for _, rec := range records {
		fmt.Printf("  %s intent=%q\n", rec.RunID, rec.Intent)
		for _, step := range rec.Steps {
			fmt.Printf("    %s %s %s %dms\n", step.StepID, cyan(step.Tool), step.Status, step.LatencyMS)
		}
	}
}
