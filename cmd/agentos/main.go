// Command agentos is the single-operator CLI for the agent runtime: submit
// tasks, inspect evidence, steer policy, and manage connectors. Exit codes
// are stable: 0 success, 2 usage, 10 governance_block, 11 missing_input,
// 12 service failure, 13 approval_required, 14 policy_violation,
// 15 backpressure; anything else exits 1.
package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agentos/internal/shared/errors"
)

// usageError marks operator mistakes (bad flags, wrong arg counts) so main
// can exit 2 instead of a kind-mapped code.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// exactArgs is cobra.ExactArgs with the usage exit code attached.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var uerr *usageError
		if stderrors.As(err, &uerr) {
			os.Exit(errors.ExitUsage)
		}
		os.Exit(errors.ExitCode(err))
	}
}
