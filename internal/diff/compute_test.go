package diff

import (
	"strings"
	"testing"

	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
)

func plugin(name string, status types.PluginStatus) wpcli.Plugin {
	return wpcli.Plugin{Name: name, Status: status, Version: "1.0.0"}
}

func TestCompute(t *testing.T) {
	snap := &backup.Snapshot{
		ID:              "20260301-100000-abcd1234",
		ActivePlugins:   []string{"akismet", "contact-form", "gone-plugin"},
		InactivePlugins: []string{"hello-dolly", "broken-seo"},
	}
	current := []wpcli.Plugin{
		plugin("akismet", types.StatusActive),
		plugin("contact-form", types.StatusInactive),
		plugin("broken-seo", types.StatusActive),
		plugin("hello-dolly", types.StatusInactive),
		plugin("new-active", types.StatusActive),
		plugin("new-inactive", types.StatusInactive),
		plugin("object-cache", types.StatusMustUse),
	}

	result := Compute(snap, current)

	if result.SnapshotID != snap.ID {
		t.Errorf("SnapshotID = %q", result.SnapshotID)
	}

	want := map[string]Action{
		"akismet":      ActionNone,
		"contact-form": ActionActivate,
		"broken-seo":   ActionDisable,
		"hello-dolly":  ActionNone,
		"new-active":   ActionDisable,
		"new-inactive": ActionExtra,
		"gone-plugin":  ActionMissing,
	}
	if len(result.Plugins) != len(want) {
		t.Fatalf("Plugins count = %d, want %d", len(result.Plugins), len(want))
	}
	for i, p := range result.Plugins {
		if p.Action != want[p.Name] {
			t.Errorf("%s: Action = %s, want %s", p.Name, p.Action, want[p.Name])
		}
		if i > 0 && result.Plugins[i-1].Name > p.Name {
			t.Errorf("plugins not sorted at %s", p.Name)
		}
	}

	activate, disable, missing, extra := result.Summary()
	if activate != 1 || disable != 2 || missing != 1 || extra != 1 {
		t.Errorf("Summary() = %d, %d, %d, %d", activate, disable, missing, extra)
	}
	if !result.HasChanges() {
		t.Error("HasChanges() = false, want true")
	}
}

func TestComputeNoChanges(t *testing.T) {
	snap := &backup.Snapshot{ActivePlugins: []string{"akismet"}, InactivePlugins: []string{"hello-dolly"}}
	result := Compute(snap, []wpcli.Plugin{
		plugin("akismet", types.StatusActive),
		plugin("hello-dolly", types.StatusInactive),
	})
	if result.HasChanges() {
		t.Errorf("HasChanges() = true for identical state: %+v", result.Plugins)
	}
	if cmds := result.GenerateCommands(""); len(cmds) != 0 {
		t.Errorf("GenerateCommands() = %v, want none", cmds)
	}
}

func TestComputeNilSnapshot(t *testing.T) {
	result := Compute(nil, []wpcli.Plugin{plugin("akismet", types.StatusActive)})
	if len(result.Plugins) != 0 {
		t.Errorf("Plugins = %v, want empty", result.Plugins)
	}
}

func TestGenerateCommands(t *testing.T) {
	result := &Result{Plugins: []PluginDiff{
		{Name: "akismet", Action: ActionActivate},
		{Name: "broken-seo", Action: ActionDisable},
		{Name: "gone-plugin", Action: ActionMissing},
		{Name: "hello-dolly", Action: ActionNone},
	}}

	cmds := result.GenerateCommands("/srv/my site")
	if len(cmds) != 3 {
		t.Fatalf("got %d commands, want 3: %v", len(cmds), cmds)
	}
	if !strings.Contains(cmds[0].Command, "plugin deactivate broken-seo") {
		t.Errorf("first command = %q, want deactivation first", cmds[0].Command)
	}
	if !strings.Contains(cmds[0].Command, "--path='/srv/my site'") {
		t.Errorf("path not quoted: %q", cmds[0].Command)
	}
	if !strings.Contains(cmds[1].Command, "plugin activate akismet") {
		t.Errorf("second command = %q", cmds[1].Command)
	}
	if !strings.HasPrefix(cmds[2].Command, "#") {
		t.Errorf("missing plugin should be a comment: %q", cmds[2].Command)
	}

	text := FormatCommands(cmds, true)
	if !strings.Contains(text, "# Activate plugin: akismet\n") {
		t.Errorf("FormatCommands() = %q", text)
	}
	if plain := FormatCommands(cmds[:1], false); strings.Count(plain, "\n") != 1 {
		t.Errorf("FormatCommands(no comments) = %q", plain)
	}
}
