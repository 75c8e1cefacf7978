package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type sample struct {
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
}

type rendered struct{ sample }

func (r rendered) RenderText(s *Styles) string {
	return s.Table([]string{"NAME", "STATUS"}, [][]string{{r.Name, s.Badge(r.Status)}})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatJSON)
	if err := w.Write(sample{Name: "akismet", Status: "active"}); err != nil {
		t.Fatal(err)
	}
	var back sample
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if back.Name != "akismet" {
		t.Errorf("got %+v", back)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatYAML)
	if err := w.Write(sample{Name: "akismet", Status: "active"}); err != nil {
		t.Fatal(err)
	}
	var back sample
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("invalid YAML %q: %v", buf.String(), err)
	}
	if back.Status != "active" {
		t.Errorf("got %+v", back)
	}
}

func TestWriteTextRenderer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatText)
	if err := w.Write(rendered{sample{Name: "broken-seo", Status: "failed"}}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	// Buffers are not terminals, so no escape codes.
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("unexpected ANSI codes: %q", buf.String())
	}
	if strings.Index(lines[0], "STATUS") != strings.Index(lines[1], "failed") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestPrintlnSuppressedForStructured(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatJSON)
	w.Println("hello")
	w.Printf("%d\n", 1)
	if buf.Len() != 0 {
		t.Errorf("structured writer printed %q", buf.String())
	}

	text := NewWriter(&buf, FormatText)
	text.Println("hello")
	if buf.String() != "hello\n" {
		t.Errorf("text writer printed %q", buf.String())
	}
}

func TestTableShortRows(t *testing.T) {
	s := NewWriter(&bytes.Buffer{}, FormatText).Styles()
	out := s.Table([]string{"A", "B", "C"}, [][]string{{"1"}, {"22", "x", "long-cell"}})
	if strings.Count(out, "\n") != 3 {
		t.Errorf("Table() = %q", out)
	}
}
