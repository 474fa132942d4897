package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"agentos/internal/domain/run"
	"agentos/internal/kernel"
	"agentos/internal/observability"
	"agentos/internal/shared/errors"
)

func newSubmitCmd() *cobra.Command {
	var (
		profile string
		params  []string
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "submit <task text>",
		Short: "Submit a natural-language task",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &usageError{err: fmt.Errorf("task text is required")}
			}
			return nil
		},
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			explicit, err := parseParams(params)
			if err != nil {
				return &usageError{err: err}
			}

			ctx, span := app.Tracer.StartSpan(cmd.Context(), observability.SpanKernelSubmit,
				attribute.String(observability.AttrProfile, profile))
			defer span.End()

			started := time.Now()
			sub, err := app.Kernel.Submit(ctx, text, kernel.SubmitOptions{
				Profile: profile,
				Origin:  run.OriginCLI,
				Params:  explicit,
				Wait:    wait && !flags.dryRun,
				DryRun:  flags.dryRun,
			})
			if err != nil {
				return err
			}

			if flags.jsonOut {
				return printJSON(sub)
			}

			fmt.Printf("%s task=%s run=%s\n", bold("submitted"), sub.TaskID, sub.RunID)
			printPlan(sub.Plan)
			if flags.dryRun {
				fmt.Println(yellow("dry-run: nothing executed"))
				return nil
			}
			if sub.Summary == nil {
				fmt.Printf("queued; check progress with: agentos status %s\n", sub.RunID)
				return nil
			}

			app.Metrics.RecordRun(ctx, string(sub.Summary.Outcome), time.Since(started))
			printSummary(sub.Summary)
			return outcomeError(ctx, app, sub.Summary)
		}),
	}
	cmd.Flags().StringVar(&profile, "profile", "", "governance profile: strict | adaptive | auto")
	cmd.Flags().StringArrayVar(&params, "param", nil, "explicit input as key=value (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the run to seal")
	return cmd
}

func parseParams(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("param %q must be key=value", kv)
		}
		out[key] = value
	}
	return out, nil
}

func printPlan(plan *run.Plan) {
	if plan == nil || len(plan.Candidates) == 0 {
		fmt.Println(yellow("no eligible strategies"))
		return
	}
	fmt.Printf("plan (%d candidates%s):\n", len(plan.Candidates), ambiguityNote(plan))
	for i, cand := range plan.Candidates {
		fmt.Printf("  %d. %s composite=%.3f risk=%s maturity=%s\n",
			i+1, cyan(cand.StrategyID), cand.CompositeScore, cand.RiskLevel, cand.Maturity)
	}
}

func ambiguityNote(plan *run.Plan) string {
	if plan.Ambiguous {
		return ", ambiguous"
	}
	return ""
}

func printSummary(summary *run.Summary) {
	label := green(string(summary.Outcome))
	switch summary.Outcome {
	case run.OutcomeFailed, run.OutcomeAborted:
		label = red(string(summary.Outcome))
	case run.OutcomeDegraded, run.OutcomeClarification:
		label = yellow(string(summary.Outcome))
	}
	fmt.Printf("%s %s in %dms after %d attempts\n", bold("outcome:"), label, summary.TotalLatencyMS, summary.AttemptsCount)
	if summary.Bundle == nil {
		return
	}
	fmt.Printf("  %s\n", summary.Bundle.Headline)
	if summary.Bundle.WhyFailed != "" {
		fmt.Printf("  why: %s\n", summary.Bundle.WhyFailed)
	}
	for _, q := range summary.Bundle.ClarificationQuestions {
		fmt.Printf("  %s %s\n", yellow("?"), q)
	}
	for _, a := range summary.Bundle.Assumptions {
		fmt.Printf("  assuming: %s\n", a)
	}
	if ref := summary.Bundle.PrimaryArtifact; ref != nil {
		fmt.Printf("  artifact: %s (%s, %d bytes)\n", ref.URI, ref.Kind, ref.SizeBytes)
	}
	for _, ref := range summary.Bundle.SupportingArtifacts {
		fmt.Printf("  supporting: %s (%s)\n", ref.URI, ref.Kind)
	}
	if len(summary.Bundle.RetryOptions) > 0 {
		opts := make([]string, 0, len(summary.Bundle.RetryOptions))
		for _, o := range summary.Bundle.RetryOptions {
			opts = append(opts, string(o))
		}
		fmt.Printf("  retry options: %s\n", strings.Join(opts, ", "))
	}
}

// outcomeError maps a sealed non-success run onto the stable exit codes using
// the last attempt's error kind.
func outcomeError(ctx context.Context, app *App, summary *run.Summary) error {
	switch summary.Outcome {
	case run.OutcomeSucceeded:
		return nil
	case run.OutcomeClarification:
		return errors.New(run.ErrMissingInput, "run needs clarification; resubmit with --param answers")
	}

	kind := run.ErrInternal
	attempts, err := app.Store.Events.Attempts(ctx, summary.RunID)
	if err == nil {
		for _, a := range attempts {
			if a.ErrorKind != run.ErrNone {
				kind = a.ErrorKind
			}
		}
	}
	msg := "run did not succeed"
	if summary.Bundle != nil && summary.Bundle.WhyFailed != "" {
		msg = summary.Bundle.WhyFailed
	}
	return errors.New(kind, msg)
}
