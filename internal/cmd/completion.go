package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/templates"
)

func completionHelp() string {
	return fmt.Sprintf(`Print a completion script for wpguard.

Besides subcommands, the script completes flag values:
  init --template     %s
  test --rollback     auto, ask, none
  list --status       all, active, inactive
  --output            text, json, yaml
  --log-format        auto, console, json

Load it for the current shell:
  bash        source <(wpguard completion bash)
  zsh         source <(wpguard completion zsh)
  fish        wpguard completion fish | source
  powershell  wpguard completion powershell | Out-String | Invoke-Expression

To keep it, write the bash script to /etc/bash_completion.d/wpguard, the
zsh script to a directory on $fpath as _wpguard, or the fish script to
~/.config/fish/completions/wpguard.fish.
`, strings.Join(templates.List(), ", "))
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "completion bash|zsh|fish|powershell",
		Short:                 "Print a shell completion script",
		Long:                  completionHelp(),
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			root := cmd.Root()
			switch args[0] {
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(w)
			}
			return root.GenBashCompletionV2(w, true)
		},
	}
}
