package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/config"
	"github.com/adamancini/wpguard/internal/templates"
)

func newInitCmd() *cobra.Command {
	var templateName string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a wpguard config file from a template",
		Long: `Create a wpguard config file from a built-in or custom template.

Available templates:
  local  - wpguard runs on the WordPress host
  ssh    - reach a Linux host over SSH
  winrm  - reach a Windows host over WinRM

Templates keep ${VAR:-default} placeholders; they are expanded each time the
config is loaded.

Examples:
  wpguard init                              # Interactive mode
  wpguard init --template=ssh               # Direct template selection
  wpguard init --template=https://...       # Custom template URL
  wpguard init --config ./wpguard.yaml      # Custom output location`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), templateName, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&templateName, "template", "t", "", "Template name or URL")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	_ = cmd.RegisterFlagCompletionFunc("template", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var completions []string
		for _, name := range templates.List() {
			completions = append(completions, name+"\t"+templates.Describe(name))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

const previewLines = 20

// runInit writes a template to outputPath, asking before it overwrites an
// existing file. An empty outputPath offers the default location.
func runInit(stdin io.Reader, stdout, stderr io.Writer, templateName, outputPath string, force bool) error {
	in := bufio.NewReader(stdin)
	askPath := outputPath == ""
	if askPath {
		outputPath = getDefaultConfigPath()
	}
	outputPath = expandHomePath(outputPath)

	if _, err := os.Stat(outputPath); err == nil && !force {
		_, _ = fmt.Fprintf(stderr, "Config already exists at %s\n", outputPath)
		answer, err := ask(in, stdout, "Overwrite? [y/N]: ")
		if err != nil && err != io.EOF {
			return err
		}
		if answer = strings.ToLower(answer); answer != "y" && answer != "yes" {
			_, _ = fmt.Fprintln(stdout, "Aborted.")
			return nil
		}
	}

	if templateName == "" {
		selected, err := selectTemplateInteractive(in, stdout)
		if err != nil {
			return err
		}
		templateName = selected
	}

	content, builtin, err := loadTemplate(templateName)
	if err != nil {
		return err
	}
	if err := validateTemplateContent(content); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	if builtin && !quiet {
		previewTemplate(stdout, templateName, content)
	}

	if askPath && !quiet {
		answer, err := ask(in, stdout, fmt.Sprintf("\nWhere should I create the config? [%s]: ", outputPath))
		if err != nil && err != io.EOF {
			return err
		}
		if answer != "" {
			outputPath = expandHomePath(answer)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(outputPath), err)
	}
	// The file may hold remote credentials.
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	_, _ = fmt.Fprintf(stdout, "\nCreated %s\n", outputPath)
	_, _ = fmt.Fprint(stdout, `
Next steps:
  1. Edit the config to point at your site
  2. Run 'wpguard status' to check the connection
  3. Run 'wpguard test <plugin>' to safety-test a plugin
`)
	return nil
}

// ask prints prompt and returns the trimmed answer. io.EOF is returned only
// when the input ended before any answer.
func ask(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	_, _ = fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	line = strings.TrimSpace(line)
	switch {
	case err == io.EOF && line == "":
		return "", io.EOF
	case err != nil && err != io.EOF:
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return line, nil
}

// loadTemplate resolves a built-in name or an http(s) URL.
func loadTemplate(name string) (content []byte, builtin bool, err error) {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		content, err = fetchRemoteTemplate(name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch template: %w", err)
		}
		return content, false, nil
	}
	tmpl, err := templates.Get(name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load template: %w", err)
	}
	return tmpl.Content, true, nil
}

func previewTemplate(w io.Writer, name string, content []byte) {
	rule := strings.Repeat("-", 40)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	_, _ = fmt.Fprintf(w, "\nPreview of '%s' template:\n%s\n", name, rule)
	if len(lines) > previewLines {
		_, _ = fmt.Fprintln(w, strings.Join(lines[:previewLines], "\n"))
		_, _ = fmt.Fprintf(w, "... (%d more lines)\n", len(lines)-previewLines)
	} else {
		_, _ = fmt.Fprintln(w, strings.Join(lines, "\n"))
	}
	_, _ = fmt.Fprintln(w, rule)
}

// selectTemplateInteractive offers the built-in templates plus a custom URL.
// A blank answer picks the default template.
func selectTemplateInteractive(in *bufio.Reader, stdout io.Writer) (string, error) {
	names := templates.List()
	custom := len(names) + 1

	_, _ = fmt.Fprintln(stdout, "\nSelect a config template:")
	for i, name := range names {
		_, _ = fmt.Fprintf(stdout, "  %d. %-8s - %s\n", i+1, name, templates.Describe(name))
	}
	_, _ = fmt.Fprintf(stdout, "  %d. %-8s - Provide custom template URL\n", custom, "custom")

	answer, err := ask(in, stdout, fmt.Sprintf("\nSelect [1-%d, default %s]: ", custom, templates.Default))
	if err != nil {
		return "", fmt.Errorf("no template selected: %w", err)
	}
	if answer == "" {
		return templates.Default, nil
	}

	num, err := strconv.Atoi(answer)
	switch {
	case err != nil || num < 1 || num > custom:
		return "", fmt.Errorf("invalid selection: %s", answer)
	case num < custom:
		return names[num-1], nil
	}

	url, err := ask(in, stdout, "Enter template URL: ")
	if err != nil {
		return "", fmt.Errorf("failed to read URL: %w", err)
	}
	return url, nil
}

// fetchRemoteTemplate downloads a template from a URL.
func fetchRemoteTemplate(url string) ([]byte, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return content, nil
}

// validateTemplateContent checks that content loads as a wpguard config.
func validateTemplateContent(content []byte) error {
	tmpFile, err := os.CreateTemp("", "wpguard-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmpFile.Write(content); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	_, err = config.Load(tmpName)
	return err
}

// getDefaultConfigPath returns the first config search location.
func getDefaultConfigPath() string {
	dirs, err := config.SearchPaths()
	if err != nil || len(dirs) == 0 {
		return "wpguard.yaml"
	}
	return filepath.Join(dirs[0], "wpguard.yaml")
}

// expandHomePath expands ~ to the user's home directory.
func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
