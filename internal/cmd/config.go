package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the wpguard configuration",
	}

	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use and the search path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path, err := config.Find(configPath)
			switch {
			case err == nil:
				_, _ = fmt.Fprintln(out, path)
				return nil
			case !errors.Is(err, config.ErrNotFound):
				return err
			}

			_, _ = fmt.Fprintln(out, "No config file found; using defaults. Searched:")
			dirs, err := config.SearchPaths()
			if err != nil {
				return err
			}
			for _, dir := range dirs {
				_, _ = fmt.Fprintf(out, "  %s\n", dir)
			}
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults and environment variables are
applied. Passwords are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			masked := *cfg
			if masked.Remote.Password != "" {
				masked.Remote.Password = "********"
			}
			if masked.Remote.Passphrase != "" {
				masked.Remote.Passphrase = "********"
			}

			var f config.Format
			switch format {
			case "yaml", "yml":
				f = config.FormatYAML
			case "toml":
				f = config.FormatTOML
			case "json":
				f = config.FormatJSON
			default:
				return fmt.Errorf("unknown config format: %s", format)
			}
			data, err := config.Marshal(&masked, f)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Format: yaml, toml, json")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a config file for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			path, err := config.Find(path)
			if err != nil {
				return err
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}
}
