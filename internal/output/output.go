// Package output handles formatting output in different formats.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Writer handles output in the specified format.
type Writer struct {
	format Format
	w      io.Writer
	styles *Styles
}

// NewWriter creates a new output writer. Colors are used only when w is a
// terminal.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w, styles: NewStyles(lipgloss.NewRenderer(w))}
}

// Format returns the configured format.
func (w *Writer) Format() Format {
	return w.format
}

// Structured reports whether output is JSON or YAML.
func (w *Writer) Structured() bool {
	return w.format == FormatJSON || w.format == FormatYAML
}

// Styles returns the text styles bound to the writer's terminal.
func (w *Writer) Styles() *Styles {
	return w.styles
}

// Write outputs the given value in the configured format.
func (w *Writer) Write(v interface{}) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		if r, ok := v.(TextRenderer); ok {
			_, err := fmt.Fprint(w.w, r.RenderText(w.styles))
			return err
		}
		if s, ok := v.(fmt.Stringer); ok {
			_, err := fmt.Fprintln(w.w, s.String())
			return err
		}
		_, err := fmt.Fprintf(w.w, "%+v\n", v)
		return err
	}
}

// Println writes a plain text line. It is a no-op for structured formats so
// that JSON and YAML output stays parseable.
func (w *Writer) Println(a ...interface{}) {
	if w.Structured() {
		return
	}
	_, _ = fmt.Fprintln(w.w, a...)
}

// Printf is Println with formatting.
func (w *Writer) Printf(format string, a ...interface{}) {
	if w.Structured() {
		return
	}
	_, _ = fmt.Fprintf(w.w, format, a...)
}

// TextRenderer is implemented by values with a custom text rendering.
type TextRenderer interface {
	RenderText(s *Styles) string
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// Styles holds the lipgloss styles used in text output.
type Styles struct {
	Heading lipgloss.Style
	Muted   lipgloss.Style
	Good    lipgloss.Style
	Warn    lipgloss.Style
	Bad     lipgloss.Style
}

// NewStyles builds styles for r.
func NewStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Heading: r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("245")),
		Good:    r.NewStyle().Foreground(lipgloss.Color("46")),
		Warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		Bad:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// Badge colors a status word: plugin status, test status or health.
func (s *Styles) Badge(status string) string {
	switch strings.ToLower(status) {
	case "active", "approved", "healthy", "ok", "passed", "restored":
		return s.Good.Render(status)
	case "warning", "must-use", "skipped", "stopped", "available":
		return s.Warn.Render(status)
	case "failed", "unhealthy", "unreachable", "error", "rollback-failed":
		return s.Bad.Render(status)
	default:
		return s.Muted.Render(status)
	}
}

// Table renders rows under headers with columns padded to the widest cell.
// Cells may contain styled text; width is measured without escape codes.
func (s *Styles) Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if i < len(widths)-1 {
				b.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		b.WriteString("\n")
	}

	writeRow(headers, &s.Heading)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}
