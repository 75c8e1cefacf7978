package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/diff"
	"github.com/adamancini/wpguard/internal/interactive"
	"github.com/adamancini/wpguard/internal/types"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage activation-set backups",
		Long: `Manage backups of which plugins are active on the site.

A backup records the active and inactive plugin names. Batches take one
automatically before they start. Backups are stored in
~/.cache/wpguard/backups/ (or $XDG_CACHE_HOME/wpguard/backups/).

Examples:
  wpguard backup create --note "before update"
  wpguard backup list
  wpguard backup show latest
  wpguard backup prune --keep 10 --max-age 720h`,
	}

	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupShowCmd())
	cmd.AddCommand(newBackupDeleteCmd())
	cmd.AddCommand(newBackupPruneCmd())

	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Back up the current activation set",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			snap, err := e.sess.CreateBackup(cmd.Context(), note)
			if err != nil {
				return err
			}
			if e.out.Structured() {
				return e.out.Write(snap)
			}
			e.out.Printf("Backup created: %s\n", snap.ID)
			e.out.Printf("Active plugins: %d, inactive: %d\n", len(snap.ActivePlugins), len(snap.InactivePlugins))
			return nil
		}),
	}

	cmd.Flags().StringVarP(&note, "note", "m", "", "Note to attach to the backup")
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		Args:    cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			backups, err := e.sess.Backups().List()
			if err != nil {
				return err
			}
			return e.out.Write(backupList{Dir: e.sess.Backups().BackupDir(), Backups: backups})
		}),
	}
}

func newBackupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|latest>",
		Short: "Show the plugins recorded in a backup",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			snap, err := e.sess.ResolveBackup(args[0])
			if err != nil {
				return err
			}
			return e.out.Write(snapshotView(*snap))
		}),
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.sess.Backups().Delete(args[0]); err != nil {
				return err
			}
			e.out.Printf("Backup deleted: %s\n", args[0])
			return nil
		}),
	}
}

func newBackupPruneCmd() *cobra.Command {
	var (
		keep   int
		maxAge time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old backups",
		Long: `Remove backups beyond the newest --keep. With --max-age, backups older than
the age are removed as well, except the newest one.`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			result, err := e.sess.Backups().Prune(keep, maxAge)
			if err != nil {
				return err
			}
			if e.out.Structured() {
				return e.out.Write(result)
			}
			if len(result.Deleted) == 0 {
				e.out.Printf("No backups to prune. Keeping %d backups.\n", result.Kept)
				return nil
			}
			e.out.Printf("Pruned %d backup(s), keeping %d:\n", len(result.Deleted), result.Kept)
			for _, b := range result.Deleted {
				e.out.Printf("  - %s (%s)\n", b.ID, b.CreatedAt.Local().Format(timeFormat))
			}
			return nil
		}),
	}

	cmd.Flags().IntVar(&keep, "keep", backup.DefaultKeepCount, "Number of backups to keep")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Also remove backups older than this (e.g. 720h)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var (
		dryRun   bool
		commands bool
	)

	cmd := &cobra.Command{
		Use:   "restore <id|latest|current>",
		Short: "Return the site to a backed-up activation set",
		Long: `Restore deactivates plugins that are active now but were not in the backup,
then activates the plugins that were. Plugins installed since the backup
are left inactive.

The changes are shown before anything is touched; use --yes to skip the
confirmation. --dry-run only shows them, and --commands prints the WP-CLI
commands that perform the restore by hand.

Examples:
  wpguard restore latest
  wpguard restore 20260301-100000-abcd1234 --dry-run
  wpguard restore latest --commands`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			ctx := cmd.Context()
			snap, err := e.sess.ResolveBackup(args[0])
			if err != nil {
				return err
			}

			current, err := e.sess.Plugins(ctx, types.FilterAll)
			if err != nil {
				return fmt.Errorf("failed to read current plugins: %w", err)
			}
			preview := diff.Compute(snap, current)

			if commands {
				cmds := preview.GenerateCommands(e.cfg.Site.Path)
				if e.out.Structured() {
					return e.out.Write(cmds)
				}
				_, err := fmt.Fprint(cmd.OutOrStdout(), diff.FormatCommands(cmds, true))
				return err
			}
			if dryRun {
				if e.out.Structured() {
					return e.out.Write(preview)
				}
				prompter := interactive.NewPrompterWithIO(cmd.InOrStdin(), cmd.OutOrStdout())
				prompter.Preview(preview)
				return nil
			}

			if !preview.HasChanges() {
				e.out.Println("Site already matches the backup. Nothing to restore.")
				return nil
			}
			prompter := interactive.NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), assumeYes)
			if !prompter.ConfirmRestore(preview) {
				return nil
			}

			report, err := e.sess.Restore(ctx, snap)
			if report != nil {
				if werr := e.out.Write(restoreView(*report)); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("restore completed with %d failure(s)", len(report.Failures))
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the changes without applying them")
	cmd.Flags().BoolVar(&commands, "commands", false, "Print the WP-CLI commands instead of running them")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "commands")
	return cmd
}
