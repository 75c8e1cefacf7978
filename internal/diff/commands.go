package diff

import (
	"fmt"
	"strings"

	"github.com/adamancini/wpguard/internal/remote"
)

// Command represents a WP-CLI command a restore runs.
type Command struct {
	Command     string `json:"command" yaml:"command"`
	Description string `json:"description" yaml:"description"`
}

// GenerateCommands lists the WP-CLI commands that reproduce the restore by
// hand. Deactivations come first, matching Restore.
func (r *Result) GenerateCommands(wpPath string) []Command {
	wp := "wp"
	if wpPath != "" {
		wp = "wp --path=" + remote.Quote(wpPath)
	}

	var deactivate, activate []Command
	for _, p := range r.Plugins {
		name := remote.Quote(p.Name)
		switch p.Action {
		case ActionDisable:
			deactivate = append(deactivate, Command{
				Command:     wp + " plugin deactivate " + name,
				Description: "Deactivate plugin not active in backup: " + p.Name,
			})
		case ActionActivate:
			activate = append(activate, Command{
				Command:     wp + " plugin activate " + name,
				Description: "Activate plugin: " + p.Name,
			})
		case ActionMissing:
			activate = append(activate, Command{
				Command:     "# " + wp + " plugin install " + name + " --activate",
				Description: fmt.Sprintf("Plugin %s is no longer installed; activation will fail", p.Name),
			})
		}
	}
	return append(deactivate, activate...)
}

// FormatCommands renders commands one per line, ready to paste into a
// shell on the WordPress host. With comments, each command follows its
// description and blocks are separated by a blank line.
func FormatCommands(commands []Command, includeComments bool) string {
	var b strings.Builder
	for i, c := range commands {
		if includeComments {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "# %s\n", c.Description)
		}
		b.WriteString(c.Command)
		b.WriteByte('\n')
	}
	return b.String()
}
