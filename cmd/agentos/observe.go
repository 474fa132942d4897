package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agentos/internal/observability"
)

func newObserveCmd() *cobra.Command {
	var (
		window time.Duration
		topN   int
	)
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "SLO adherence, failure hotspots, and breaker states",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			report, err := app.Reporter.SLO(cmd.Context(), window)
			if err != nil {
				return err
			}
			failures, err := app.Reporter.TopFailures(cmd.Context(), window, topN)
			if err != nil {
				return err
			}
			breakers := app.Breakers.Snapshot()

			if flags.jsonOut {
				return printJSON(struct {
					SLO      *observability.SLOReport     `json:"slo"`
					Failures []observability.FailureEntry `json:"top_failures"`
					Breakers any                          `json:"breakers"`
				}{report, failures, breakers})
			}

			verdict := green("met")
			if !report.Met {
				verdict = red("missed")
			}
			fmt.Printf("%s window=%s runs=%d success=%.0f%% fallback=%.0f%% p95=%dms → %s\n",
				bold("SLO"), window, report.Runs, report.SuccessRate*100, report.FallbackRate*100,
				report.P95LatencyMS, verdict)
			for _, h := range report.ByStrategy {
				fmt.Printf("  %s samples=%d success=%.0f%% fallback=%.0f%% p95=%dms\n",
					cyan(h.StrategyID), h.Samples, h.SuccessRate*100, h.FallbackRate*100, h.P95LatencyMS)
			}

			if len(failures) > 0 {
				fmt.Printf("\n%s\n", bold("top failures:"))
				for i, f := range failures {
					fmt.Printf("  %d. %s %s ×%d (%.0f%%)\n", i+1, cyan(f.StrategyID), red(string(f.ErrorKind)), f.Count, f.Share*100)
				}
			}

			if len(breakers) > 0 {
				fmt.Printf("\n%s\n", bold("breakers:"))
				for tool, state := range breakers {
					label := green(state.State)
					if state.State == "open" {
						label = red(state.State)
					} else if state.State == "half_open" {
						label = yellow(state.State)
					}
					fmt.Printf("  %s %s failures=%d\n", cyan(tool), label, state.Failures)
				}
			}
			return nil
		}),
	}
	cmd.Flags().DurationVar(&window, "window", 7*24*time.Hour, "evaluation window")
	cmd.Flags().IntVar(&topN, "top", 5, "failure leaderboard size")
	return cmd
}
