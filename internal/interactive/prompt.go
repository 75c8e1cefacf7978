// Package interactive provides interactive prompts for user confirmation.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/adamancini/wpguard/internal/diff"
)

// Response represents the user's response to a prompt.
type Response int

const (
	ResponseYes  Response = iota // Proceed
	ResponseNo                   // Skip
	ResponseAll                  // Approve this and every later question
	ResponseQuit                 // Decline this and every later question
)

// Prompter asks yes/no questions. It satisfies safety.Confirmer.
type Prompter struct {
	in          io.Reader
	out         io.Writer
	scanner     *bufio.Scanner
	interactive bool
	assumeYes   bool
	approveAll  bool
	quit        bool
}

// NewPrompter creates a prompter that reads answers from in. assumeYes
// answers every question with yes; otherwise input that is not a terminal
// answers no.
func NewPrompter(in io.Reader, out io.Writer, assumeYes bool) *Prompter {
	p := NewPrompterWithIO(in, out)
	f, ok := in.(*os.File)
	p.interactive = ok && term.IsTerminal(int(f.Fd()))
	p.assumeYes = assumeYes
	return p
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
// It always reads answers from in.
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:          in,
		out:         out,
		scanner:     bufio.NewScanner(in),
		interactive: true,
	}
}

// prompt displays a question and reads the response.
func (p *Prompter) prompt(format string, args ...interface{}) Response {
	if p.approveAll {
		return ResponseYes
	}
	if p.quit {
		return ResponseQuit
	}

	_, _ = fmt.Fprintf(p.out, format, args...)
	_, _ = fmt.Fprint(p.out, " [y/n/a/q] ")

	if !p.scanner.Scan() {
		return ResponseQuit
	}

	input := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
	switch input {
	case "y", "yes":
		return ResponseYes
	case "n", "no":
		return ResponseNo
	case "a", "all":
		p.approveAll = true
		return ResponseYes
	case "q", "quit":
		p.quit = true
		return ResponseQuit
	default:
		// Default to no for invalid input
		_, _ = fmt.Fprintln(p.out, "Invalid response, treating as no.")
		return ResponseNo
	}
}

// Confirm asks question and reports a yes.
func (p *Prompter) Confirm(question string) bool {
	if p.assumeYes {
		return true
	}
	if !p.interactive {
		_, _ = fmt.Fprintf(p.out, "%s [no: not a terminal, use --yes]\n", question)
		return false
	}
	return p.prompt("%s", question) == ResponseYes
}

// confirmFinal asks for final confirmation before executing.
func (p *Prompter) confirmFinal(question string) bool {
	if p.assumeYes {
		return true
	}
	if !p.interactive {
		return false
	}
	_, _ = fmt.Fprintf(p.out, "\n%s [y/n] ", question)
	if !p.scanner.Scan() {
		return false
	}
	input := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
	return input == "y" || input == "yes"
}

// Symbols for output
const (
	activateSymbol = "+"
	disableSymbol  = "-"
	missingSymbol  = "!"
	extraSymbol    = "?"
)

// actionSymbolVerb returns the symbol and verb for a diff action.
func actionSymbolVerb(action diff.Action) (symbol, verb string) {
	switch action {
	case diff.ActionActivate:
		return activateSymbol, "activate"
	case diff.ActionDisable:
		return disableSymbol, "deactivate"
	case diff.ActionMissing:
		return missingSymbol, "fail to activate (not installed)"
	case diff.ActionExtra:
		return extraSymbol, "stay inactive"
	default:
		return " ", ""
	}
}

// Preview prints what restoring the snapshot changes.
func (p *Prompter) Preview(result *diff.Result) {
	if !result.HasChanges() {
		_, _ = fmt.Fprintln(p.out, "Site already matches the backup.")
		return
	}

	_, _ = fmt.Fprintf(p.out, "Restoring backup %s will:\n", result.SnapshotID)
	for _, pl := range result.Plugins {
		if pl.Action == diff.ActionNone {
			continue
		}
		symbol, verb := actionSymbolVerb(pl.Action)
		_, _ = fmt.Fprintf(p.out, "  %s %s (will %s)\n", symbol, pl.Name, verb)
	}

	activate, disable, missing, _ := result.Summary()
	_, _ = fmt.Fprintln(p.out, "\nSummary:")
	_, _ = fmt.Fprintf(p.out, "  Activate: %d, deactivate: %d", activate, disable)
	if missing > 0 {
		_, _ = fmt.Fprintf(p.out, ", missing: %d", missing)
	}
	_, _ = fmt.Fprintln(p.out)
}

// ConfirmRestore shows the preview and asks once. A restore without
// changes is confirmed without asking.
func (p *Prompter) ConfirmRestore(result *diff.Result) bool {
	p.Preview(result)
	if !result.HasChanges() {
		return true
	}
	if !p.confirmFinal("Proceed with restore?") {
		_, _ = fmt.Fprintln(p.out, "Aborted.")
		return false
	}
	return true
}
