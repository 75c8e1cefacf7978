package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/config"
	"github.com/adamancini/wpguard/internal/logging"
	"github.com/adamancini/wpguard/internal/output"
	"github.com/adamancini/wpguard/internal/session"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	verbose      bool
	quiet        bool
	logLevel     string
	logFormat    string
	logFile      string
	assumeYes    bool

	wpguardVersion = "dev"
	wpguardCommit  = "none"
	wpguardDate    = "unknown"
)

// openSession builds the session a command works on.
var openSession = func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*session.Session, error) {
	return session.Open(ctx, cfg, log, session.WithVersion(wpguardVersion))
}

func Execute(version, commit, date string) error {
	wpguardVersion, wpguardCommit, wpguardDate = version, commit, date
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wpguard",
		Short: "Safety-test WordPress plugins with automatic rollback",
		Long: `wpguard activates WordPress plugins one at a time over WP-CLI, checks that the
site still answers, and rolls back the plugins that break it.

The site is reached over ssh, winrm or the local shell as configured in
wpguard.yaml. Run 'wpguard init' to create one.`,
		Version:      wpguardVersion,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to wpguard config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, off")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatAuto), "Log format: auto, console, json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to every confirmation")

	// Add subcommands
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newUpdatesCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newActivateCmd())
	rootCmd.AddCommand(newDeactivateCmd())
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUninstallCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newFlushCacheCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newTestCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newRestoreCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newUnresolveCmd())
	rootCmd.AddCommand(newResolvedCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "console", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd
}

// env is what a command needs to talk to the site.
type env struct {
	cfg  *config.Config
	log  *logging.Logger
	sess *session.Session
	out  *output.Writer
}

// newLogger builds the root logger from the global flags.
func newLogger(cmd *cobra.Command) (*logging.Logger, error) {
	return logging.New(logging.Options{
		Level:  logging.VerbosityLevel(logLevel, verbose, quiet),
		Format: logging.Format(logFormat),
		File:   logFile,
		Out:    cmd.ErrOrStderr(),
	})
}

// newWriter builds the output writer from the global flags.
func newWriter(cmd *cobra.Command) (*output.Writer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(cmd.OutOrStdout(), format), nil
}

// setup loads the config, builds the logger and opens a session. The caller
// must call close.
func setup(cmd *cobra.Command) (*env, error) {
	out, err := newWriter(cmd)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	if cfg.Path == "" {
		log.Debug().Msg("no config file found, using defaults")
	} else {
		log.Debug().Str("path", cfg.Path).Msg("loaded config")
	}

	sess, err := openSession(cmd.Context(), cfg, log.Logger)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return &env{cfg: cfg, log: log, sess: sess, out: out}, nil
}

func (e *env) close() {
	if err := e.sess.Close(); err != nil {
		e.log.Warn().Err(err).Msg("failed to close session")
	}
	_ = e.log.Close()
}

// withEnv wraps a command body with setup and close.
func withEnv(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd, e, args)
	}
}
