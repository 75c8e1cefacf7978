package cmd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInit_DirectTemplate(t *testing.T) {
	tmpDir := t.TempDir()
	outputPath := filepath.Join(tmpDir, "wpguard.yaml")

	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader("")

	err := runInit(stdin, &stdout, &stderr, "local", outputPath, false)
	if err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	if !strings.Contains(string(content), "transport: local") {
		t.Errorf("config missing transport")
	}
	if !strings.Contains(string(content), "${WPGUARD_SITE_PATH:-/var/www/html}") {
		t.Errorf("placeholders should be written unexpanded:\n%s", content)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	if !strings.Contains(stdout.String(), "Created") {
		t.Errorf("stdout missing 'Created' message")
	}
	if !strings.Contains(stdout.String(), "Next steps:") {
		t.Errorf("stdout missing 'Next steps' guidance")
	}
}

func TestRunInit_AllTemplates(t *testing.T) {
	for _, tmpl := range []string{"local", "ssh", "winrm"} {
		t.Run(tmpl, func(t *testing.T) {
			outputPath := filepath.Join(t.TempDir(), "wpguard.yaml")

			var stdout, stderr bytes.Buffer
			if err := runInit(strings.NewReader(""), &stdout, &stderr, tmpl, outputPath, false); err != nil {
				t.Fatalf("runInit(%s) failed: %v", tmpl, err)
			}

			content, err := os.ReadFile(outputPath)
			if err != nil {
				t.Fatalf("failed to read config: %v", err)
			}
			if !strings.Contains(string(content), "transport: "+tmpl) {
				t.Errorf("template %s: wrong transport:\n%s", tmpl, content)
			}
		})
	}
}

func TestRunInit_ExistingFile_Abort(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "wpguard.yaml")
	if err := os.WriteFile(outputPath, []byte("existing content"), 0o644); err != nil {
		t.Fatalf("failed to create existing file: %v", err)
	}

	var stdout, stderr bytes.Buffer
	err := runInit(strings.NewReader("n\n"), &stdout, &stderr, "local", outputPath, false)
	if err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "existing content" {
		t.Errorf("existing file was modified when user aborted")
	}
	if !strings.Contains(stdout.String(), "Aborted") {
		t.Errorf("stdout missing 'Aborted' message")
	}
}

func TestRunInit_ExistingFile_Overwrite(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "wpguard.yaml")
	if err := os.WriteFile(outputPath, []byte("existing content"), 0o644); err != nil {
		t.Fatalf("failed to create existing file: %v", err)
	}

	var stdout, stderr bytes.Buffer
	err := runInit(strings.NewReader("y\n"), &stdout, &stderr, "ssh", outputPath, false)
	if err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "transport: ssh") {
		t.Errorf("overwritten file does not contain the template:\n%s", content)
	}
}

func TestRunInit_ForceFlag(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "wpguard.yaml")
	if err := os.WriteFile(outputPath, []byte("existing content"), 0o644); err != nil {
		t.Fatalf("failed to create existing file: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if err := runInit(strings.NewReader(""), &stdout, &stderr, "local", outputPath, true); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) == "existing content" {
		t.Errorf("existing file was not overwritten with force flag")
	}
	if strings.Contains(stdout.String(), "Overwrite?") {
		t.Errorf("force must not prompt")
	}
}

func TestRunInit_InvalidTemplate(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "wpguard.yaml")

	var stdout, stderr bytes.Buffer
	err := runInit(strings.NewReader(""), &stdout, &stderr, "nonexistent", outputPath, false)
	if err == nil {
		t.Fatal("expected error for nonexistent template, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error message should mention 'not found', got: %v", err)
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Errorf("no file should be written for an unknown template")
	}
}

func TestRunInit_CreatesParentDirectories(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "nested", "dir", "wpguard.yaml")

	var stdout, stderr bytes.Buffer
	if err := runInit(strings.NewReader(""), &stdout, &stderr, "local", outputPath, false); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Errorf("config was not created in nested directory")
	}
}

func TestRunInit_DefaultPathPrompt(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	custom := filepath.Join(t.TempDir(), "site.yaml")

	var stdout, stderr bytes.Buffer
	if err := runInit(strings.NewReader(custom+"\n"), &stdout, &stderr, "local", "", false); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "Where should I create the config?") {
		t.Errorf("expected location prompt, got %q", stdout.String())
	}
	if _, err := os.Stat(custom); err != nil {
		t.Errorf("config not written to the answered path: %v", err)
	}
}

func TestExpandHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home directory: %v", err)
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"~/.config/wpguard/wpguard.yaml", filepath.Join(home, ".config/wpguard/wpguard.yaml")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"}, // Should not expand without trailing slash
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandHomePath(tt.input); got != tt.want {
				t.Errorf("expandHomePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "wpguard", "wpguard.yaml")
	if got := getDefaultConfigPath(); got != want {
		t.Errorf("getDefaultConfigPath() = %q, want %q", got, want)
	}
}

func TestSelectTemplateInteractive(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "select local (1)", input: "1\n", want: "local"},
		{name: "select ssh (2)", input: "2\n", want: "ssh"},
		{name: "select winrm (3)", input: "3\n", want: "winrm"},
		{name: "no trailing newline", input: "2", want: "ssh"},
		{name: "blank picks default", input: "\n", want: "local"},
		{name: "invalid selection", input: "999\n", wantErr: true},
		{name: "non-numeric input", input: "abc\n", wantErr: true},
		{name: "empty input", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			got, err := selectTemplateInteractive(bufio.NewReader(strings.NewReader(tt.input)), &stdout)

			if tt.wantErr {
				if err == nil {
					t.Errorf("selectTemplateInteractive() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("selectTemplateInteractive() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("selectTemplateInteractive() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectTemplateInteractive_CustomURL(t *testing.T) {
	var stdout bytes.Buffer
	stdin := strings.NewReader("4\nhttps://example.com/template.yaml\n")

	got, err := selectTemplateInteractive(bufio.NewReader(stdin), &stdout)
	if err != nil {
		t.Fatalf("selectTemplateInteractive() error: %v", err)
	}
	if got != "https://example.com/template.yaml" {
		t.Errorf("selectTemplateInteractive() = %q, want custom URL", got)
	}
}
