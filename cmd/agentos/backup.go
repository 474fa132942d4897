package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentos/internal/store"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot, verify, and restore the state root",
	}
	cmd.AddCommand(newBackupCreateCmd(), newBackupVerifyCmd(), newBackupRestoreCmd())
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the state root",
		Args:  exactArgs(0),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if flags.dryRun {
				fmt.Printf("dry-run: would back up %s\n", app.Cfg.StateRoot)
				return nil
			}
			dir, err := store.Backup(app.Cfg.StateRoot)
			if err != nil {
				return err
			}
			fmt.Printf("%s backup written to %s\n", green("ok:"), dir)
			return nil
		}),
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-dir>",
		Short: "Check a backup against its manifest",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := store.Verify(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s schema=%d files=%d created=%s\n",
				green("ok:"), manifest.Schema, len(manifest.Files), manifest.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-dir>",
		Short: "Replace the state root contents from a verified backup",
		Args:  exactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if flags.dryRun {
				fmt.Printf("dry-run: would restore %s over %s\n", args[0], app.Cfg.StateRoot)
				return nil
			}
			// close the index before its file is replaced
			if err := app.Store.Close(); err != nil {
				return err
			}
			if err := store.Restore(app.Cfg.StateRoot, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s state root restored from %s\n", green("ok:"), args[0])
			return nil
		}),
	}
}
