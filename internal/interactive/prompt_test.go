package interactive

import (
	"bytes"
	"strings"
	"testing"

	"github.com/adamancini/wpguard/internal/diff"
	"github.com/adamancini/wpguard/internal/safety"
)

var _ safety.Confirmer = (*Prompter)(nil)

func TestPrompterResponses(t *testing.T) {
	tests := []struct {
		input string
		want  Response
	}{
		{"y\n", ResponseYes},
		{"YES\n", ResponseYes},
		{"n\n", ResponseNo},
		{"q\n", ResponseQuit},
		{"maybe\n", ResponseNo},
		{"", ResponseQuit},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			p := NewPrompterWithIO(strings.NewReader(tt.input), &bytes.Buffer{})
			if got := p.prompt("Test prompt?"); got != tt.want {
				t.Errorf("prompt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrompterAllResponse(t *testing.T) {
	p := NewPrompterWithIO(strings.NewReader("a\n"), &bytes.Buffer{})

	if resp := p.prompt("First prompt?"); resp != ResponseYes {
		t.Errorf("expected ResponseYes after 'a', got %v", resp)
	}
	// Subsequent prompts should auto-approve without reading input
	if resp := p.prompt("Second prompt?"); resp != ResponseYes {
		t.Errorf("expected ResponseYes (auto-approve), got %v", resp)
	}
}

func TestPrompterQuitSticks(t *testing.T) {
	p := NewPrompterWithIO(strings.NewReader("q\ny\n"), &bytes.Buffer{})

	if p.Confirm("Roll back broken-seo?") {
		t.Error("q should decline")
	}
	if p.Confirm("Roll back other?") {
		t.Error("questions after q should be declined")
	}
}

func TestConfirm(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompterWithIO(strings.NewReader("y\nn\n"), out)

	if !p.Confirm("Roll back broken-seo?") {
		t.Error("first answer was yes")
	}
	if p.Confirm("Roll back contact-form?") {
		t.Error("second answer was no")
	}
	if !strings.Contains(out.String(), "Roll back broken-seo? [y/n/a/q]") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConfirmNonInteractive(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompterWithIO(strings.NewReader("y\n"), out)
	p.interactive = false

	if p.Confirm("Roll back?") {
		t.Error("non-interactive prompter must answer no")
	}
	if !strings.Contains(out.String(), "--yes") {
		t.Errorf("output should mention --yes: %q", out.String())
	}

	p.assumeYes = true
	if !p.Confirm("Roll back?") {
		t.Error("assumeYes must answer yes")
	}
}

func restorePreview() *diff.Result {
	return &diff.Result{
		SnapshotID: "20260301-100000-abcd1234",
		Plugins: []diff.PluginDiff{
			{Name: "akismet", Action: diff.ActionNone},
			{Name: "broken-seo", Action: diff.ActionDisable},
			{Name: "contact-form", Action: diff.ActionActivate, WasActive: true},
			{Name: "gone", Action: diff.ActionMissing, WasActive: true},
		},
	}
}

func TestConfirmRestore(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompterWithIO(strings.NewReader("y\n"), out)

	if !p.ConfirmRestore(restorePreview()) {
		t.Fatal("expected confirmation")
	}
	text := out.String()
	for _, want := range []string{
		"- broken-seo (will deactivate)",
		"+ contact-form (will activate)",
		"! gone",
		"Activate: 1, deactivate: 1, missing: 1",
		"Proceed with restore? [y/n]",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "akismet") {
		t.Error("unchanged plugins should not be listed")
	}
}

func TestConfirmRestoreDeclined(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompterWithIO(strings.NewReader("n\n"), out)
	if p.ConfirmRestore(restorePreview()) {
		t.Fatal("expected decline")
	}
	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConfirmRestoreNoChanges(t *testing.T) {
	p := NewPrompterWithIO(strings.NewReader(""), &bytes.Buffer{})
	if !p.ConfirmRestore(&diff.Result{Plugins: []diff.PluginDiff{{Name: "akismet", Action: diff.ActionNone}}}) {
		t.Error("no-op restore should not need confirmation")
	}
}

func TestNewPrompterWithoutTerminal(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompter(strings.NewReader("y\n"), out, false)
	if p.Confirm("Deactivate akismet?") {
		t.Error("non-terminal input must not confirm")
	}
	if !strings.Contains(out.String(), "use --yes") {
		t.Errorf("expected a --yes hint, got %q", out.String())
	}
	if p.ConfirmRestore(restorePreview()) {
		t.Error("non-terminal restore must not confirm")
	}
}

func TestNewPrompterAssumeYes(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompter(strings.NewReader(""), out, true)
	if !p.Confirm("Deactivate akismet?") {
		t.Error("assumeYes should confirm")
	}
	if !p.ConfirmRestore(restorePreview()) {
		t.Error("assumeYes should confirm the restore")
	}
	if strings.Contains(out.String(), "Aborted.") {
		t.Errorf("unexpected abort: %q", out.String())
	}
}
