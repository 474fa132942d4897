package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"agentos/internal/feedback"
)

func newRecommendCmd() *cobra.Command {
	var (
		planFile string
		serve    bool
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Evaluate strategies and propose policy overrides",
		Long:  "Aggregates the evidence window per strategy and emits override proposals.\nNothing is applied; use `agentos policy apply` to commit a plan.",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if serve {
				return serveScheduler(app, planFile)
			}

			records, err := app.Tuner.Evaluate(cmd.Context())
			if err != nil {
				return err
			}
			proposals, err := app.Tuner.Proposals(cmd.Context())
			if err != nil {
				return err
			}

			if flags.jsonOut {
				return printJSON(struct {
					Evaluations any                 `json:"evaluations"`
					Proposals   []feedback.Proposal `json:"proposals"`
				}{records, proposals})
			}

			fmt.Printf("%s\n", bold("evaluations:"))
			for _, rec := range records {
				fmt.Printf("  %s/%s samples=%d success=%.0f%% health=%.2f → %s\n",
					cyan(rec.StrategyID), rec.TaskKind, rec.Samples, rec.SuccessRate*100,
					rec.HealthScore, rec.Recommendation)
			}

			if len(proposals) == 0 {
				fmt.Println(green("no overrides proposed"))
				return nil
			}
			fmt.Printf("\n%s\n", bold("proposals:"))
			for i, p := range proposals {
				fmt.Printf("  %d. [%.2f] %s %s=%s — %s\n",
					i+1, p.Priority, p.Override.Scope, cyan(p.Override.Key), p.Override.Value, p.Reason)
			}

			if planFile != "" {
				if err := app.Tuner.WritePlan(proposals, planFile); err != nil {
					return err
				}
				fmt.Printf("plan written to %s; apply with: agentos policy apply --plan-file %s\n", planFile, planFile)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&planFile, "plan-file", "", "write proposals to a JSON plan file")
	cmd.Flags().BoolVar(&serve, "serve", false, "run the tuner on its configured cadence until interrupted")
	return cmd
}

// serveScheduler blocks on the cron cadence, writing plan files for review.
func serveScheduler(app *App, planFile string) error {
	if planFile == "" {
		planFile = filepath.Join(app.Cfg.StateRoot, "tuning-plan.json")
	}
	scheduler, err := feedback.NewScheduler(app.Tuner, app.Cfg.Tuner.Cadence, planFile, app.Logger)
	if err != nil {
		return err
	}
	scheduler.SetTracer(app.Tracer)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	fmt.Printf("tuner cadence %q active, plans land in %s (ctrl-c to stop)\n", app.Cfg.Tuner.Cadence, planFile)
	<-ctx.Done()
	scheduler.Stop()
	return nil
}
