package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentos/internal/diagnostics"
)

func newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Walk the runtime surface and report findings",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			report := app.Checker.Run(cmd.Context())
			if flags.jsonOut {
				return printJSON(report)
			}

			for _, f := range report.Findings {
				label := green(string(f.Severity))
				switch f.Severity {
				case diagnostics.SeverityError:
					label = red(string(f.Severity))
				case diagnostics.SeverityWarn:
					label = yellow(string(f.Severity))
				case diagnostics.SeverityInfo:
					label = cyan(string(f.Severity))
				}
				fmt.Printf("[%s] %s: %s\n", label, f.Check, f.Message)
				if f.Hint != "" {
					fmt.Printf("       hint: %s\n", f.Hint)
				}
			}

			if report.Worst() == diagnostics.SeverityError {
				return fmt.Errorf("diagnose found blocking problems")
			}
			return nil
		}),
	}
}
