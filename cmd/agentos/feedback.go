package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record and aggregate operator feedback",
	}
	cmd.AddCommand(newFeedbackAddCmd(), newFeedbackStatsCmd())
	return cmd
}

func newFeedbackAddCmd() *cobra.Command {
	var (
		rating int
		note   string
	)
	cmd := &cobra.Command{
		Use:   "add <run-id>",
		Short: "Rate a completed run (+1 or -1)",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if flags.dryRun {
				fmt.Printf("dry-run: would record rating %+d for %s\n", rating, args[0])
				return nil
			}
			if err := app.Feedback.Add(cmd.Context(), args[0], rating, note); err != nil {
				return err
			}
			fmt.Printf("%s rating %+d recorded for %s\n", green("ok:"), rating, args[0])
			return nil
		}),
	}
	cmd.Flags().IntVar(&rating, "rating", 1, "+1 or -1")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	return cmd
}

func newFeedbackStatsCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate feedback over a window",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			stats, err := app.Feedback.StatsSince(cmd.Context(), window)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(stats)
			}
			fmt.Printf("%s window=%s total=%d %s=%d %s=%d noted=%d quality=%.2f\n",
				bold("feedback"), window, stats.Total,
				green("+"), stats.Positive, red("-"), stats.Negative,
				stats.WithNotes, stats.PositiveShare())
			return nil
		}),
	}
	cmd.Flags().DurationVar(&window, "window", 7*24*time.Hour, "aggregation window")
	return cmd
}
