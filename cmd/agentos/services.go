package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agentos/internal/domain/run"
	"agentos/internal/shared/id"
)

func newServicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List and exercise registered capability services",
	}
	cmd.AddCommand(newServicesListCmd(), newServicesCallCmd(), newServicesResetBreakerCmd())
	return cmd
}

func newServicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered services and connector tools",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			services := app.Services.List()
			tools := app.Tools.List()

			if flags.jsonOut {
				type toolView struct {
					Name        string `json:"name"`
					Description string `json:"description"`
				}
				views := make([]toolView, 0, len(tools))
				for _, t := range tools {
					views = append(views, toolView{t.Name, t.Description})
				}
				return printJSON(struct {
					Services any        `json:"services"`
					Tools    []toolView `json:"tools"`
				}{services, views})
			}

			fmt.Printf("%s\n", bold("services:"))
			for _, svc := range services {
				fmt.Printf("  %s v%s layer=%s mode=%s maturity=%s risk=%s\n",
					cyan(svc.Name), svc.Version, svc.Layer, svc.Mode, svc.Maturity, svc.RiskLevel)
				if len(svc.SideEffects) > 0 {
					fmt.Printf("    side effects: %s\n", strings.Join(svc.SideEffects, ", "))
				}
			}
			fmt.Printf("\n%s\n", bold("connector tools:"))
			for _, t := range tools {
				calls, successes, meanMS := app.Tools.Stats(t.Name)
				fmt.Printf("  %s — %s", cyan(t.Name), t.Description)
				if calls > 0 {
					fmt.Printf(" (calls=%d ok=%d mean=%dms)", calls, successes, meanMS)
				}
				fmt.Println()
			}
			return nil
		}),
	}
}

func newServicesCallCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "call <service>",
		Short: "Invoke one service directly through its contract",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			name := args[0]
			explicit, err := parseParams(params)
			if err != nil {
				return &usageError{err: err}
			}

			desc, ok := app.Services.Get(name)
			if !ok {
				return fmt.Errorf("service %s is not registered", name)
			}
			if flags.dryRun {
				fmt.Printf("dry-run: would call %s v%s with %d params\n", cyan(desc.Name), desc.Version, len(explicit))
				return nil
			}

			// direct calls run under an unrestricted adaptive context
			rctx := run.Context{
				RunID:        id.NewRunID(),
				Profile:      run.ProfileAdaptive,
				MaxRiskLevel: run.RiskHigh,
			}
			result, err := app.Services.Call(cmd.Context(), name, explicit, rctx)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(result)
			}
			fmt.Printf("%s %s\n", green("ok:"), result.Summary)
			for _, ref := range result.Artifacts {
				fmt.Printf("  artifact: %s (%s, %d bytes)\n", ref.URI, ref.Kind, ref.SizeBytes)
			}
			return nil
		}),
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "input as key=value (repeatable)")
	return cmd
}

func newServicesResetBreakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-breaker <tool>",
		Short: "Close a tool's circuit breaker",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if flags.dryRun {
				fmt.Printf("dry-run: would reset breaker for %s\n", args[0])
				return nil
			}
			app.Breakers.Reset(args[0])
			fmt.Printf("%s breaker for %s closed\n", green("ok:"), cyan(args[0]))
			return nil
		}),
	}
}
