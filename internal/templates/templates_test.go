package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamancini/wpguard/internal/config"
)

func TestList(t *testing.T) {
	names := List()
	want := []string{"local", "ssh", "winrm"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v, want %v", names, want)
	}
}

// Every catalog entry must have an embedded file and every file an entry.
func TestCatalogMatchesFiles(t *testing.T) {
	entries, err := files.ReadDir(".")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(catalog) {
		t.Errorf("%d embedded files, %d catalog entries", len(entries), len(catalog))
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".yaml")
		if _, ok := lookup(name); !ok {
			t.Errorf("embedded %s has no catalog entry", e.Name())
		}
	}
}

func TestGet(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"local", false},
		{"ssh", false},
		{"winrm", false},
		{"nonexistent", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Get(tt.name)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Get(%s) expected error, got nil", tt.name)
				} else if !strings.Contains(err.Error(), "available:") {
					t.Errorf("error should list available templates: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Get(%s) unexpected error: %v", tt.name, err)
			}
			if tmpl.Name != tt.name {
				t.Errorf("Name = %q, want %q", tmpl.Name, tt.name)
			}
			if tmpl.Description == "Custom template" {
				t.Errorf("template %s has no description", tt.name)
			}
			if len(tmpl.Content) == 0 {
				t.Errorf("template %s is empty", tt.name)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe("unknown"); got != "Custom template" {
		t.Errorf("Describe(unknown) = %q", got)
	}
	if got := Describe("ssh"); !strings.Contains(got, "SSH") {
		t.Errorf("Describe(ssh) = %q", got)
	}
}

// Every template must load and validate as written.
func TestTemplateContentValidity(t *testing.T) {
	for _, name := range List() {
		t.Run(name, func(t *testing.T) {
			tmpl, err := Get(name)
			if err != nil {
				t.Fatalf("Get(%s) error: %v", name, err)
			}

			path := filepath.Join(t.TempDir(), "wpguard.yaml")
			if err := os.WriteFile(path, tmpl.Content, 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("template %s does not load: %v", name, err)
			}
			if cfg.Site.Path == "" {
				t.Errorf("template %s has no site path", name)
			}
		})
	}
}

func TestDefaultExists(t *testing.T) {
	if _, err := Get(Default); err != nil {
		t.Fatalf("default template missing: %v", err)
	}
}
