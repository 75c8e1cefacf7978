package wpcli

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/adamancini/wpguard/internal/types"
)

// Plugin is one row of `wp plugin list`, with the latest test status
// overlaid by the state store.
type Plugin struct {
	Name          string             `json:"name" yaml:"name"`
	Status        types.PluginStatus `json:"status" yaml:"status"`
	Update        string             `json:"update" yaml:"update"`
	Version       string             `json:"version" yaml:"version"`
	UpdateVersion string             `json:"update_version,omitempty" yaml:"update_version,omitempty"`
	Title         string             `json:"title,omitempty" yaml:"title,omitempty"`
	Description   string             `json:"description,omitempty" yaml:"description,omitempty"`
	TestStatus    types.TestStatus   `json:"test_status" yaml:"test_status"`
}

// SearchResult is one row of `wp plugin search`.
type SearchResult struct {
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug" yaml:"slug"`
	Rating      string `json:"rating" yaml:"rating"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ParseError reports output that a parser strategy could not understand.
type ParseError struct {
	Tier string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %v", e.Tier, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errEmptyOutput = errors.New("empty output")

type rawPlugin struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Update        any    `json:"update"`
	Version       string `json:"version"`
	UpdateVersion string `json:"update_version"`
	Title         string `json:"title"`
	Description   string `json:"description"`
}

// parsePluginJSON parses `wp plugin list --format=json`.
func parsePluginJSON(raw string) ([]Plugin, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errEmptyOutput
	}
	// PHP notices can precede the payload when display_errors is on.
	if i := strings.Index(trimmed, "["); i > 0 {
		trimmed = trimmed[i:]
	}

	var rows []rawPlugin
	if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
		return nil, err
	}

	plugins := make([]Plugin, 0, len(rows))
	for _, r := range rows {
		if r.Name == "" {
			continue
		}
		plugins = append(plugins, Plugin{
			Name:          r.Name,
			Status:        types.NormalizePluginStatus(r.Status),
			Update:        stringOr(fmt.Sprint(orEmpty(r.Update)), "none"),
			Version:       stringOr(r.Version, "unknown"),
			UpdateVersion: r.UpdateVersion,
			Title:         r.Title,
			Description:   r.Description,
			TestStatus:    types.TestUntested,
		})
	}
	return plugins, nil
}

// parsePluginTable parses the human-readable table. Columns are read
// positionally as name, status, update, version.
func parsePluginTable(raw string) ([]Plugin, error) {
	rows, err := tableRows(raw, false)
	if err != nil {
		return nil, err
	}

	plugins := make([]Plugin, 0, len(rows))
	for _, cols := range rows {
		if len(cols) < 2 {
			continue
		}
		p := Plugin{
			Name:       cols[0],
			Status:     types.NormalizePluginStatus(cols[1]),
			Update:     "none",
			Version:    "unknown",
			TestStatus: types.TestUntested,
		}
		if len(cols) > 2 && cols[2] != "" {
			p.Update = cols[2]
		}
		if len(cols) > 3 && cols[3] != "" {
			p.Version = cols[3]
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

type rawSearch struct {
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Rating           any    `json:"rating"`
	Version          string `json:"version"`
	ShortDescription string `json:"short_description"`
}

// parseSearchJSON parses `wp plugin search --format=json`.
func parseSearchJSON(raw string) ([]SearchResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errEmptyOutput
	}
	if i := strings.Index(trimmed, "["); i > 0 {
		trimmed = trimmed[i:]
	}

	var rows []rawSearch
	if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		slug := stringOr(r.Slug, r.Name)
		results = append(results, SearchResult{
			Name:        stringOr(r.Name, slug),
			Slug:        slug,
			Rating:      stringOr(fmt.Sprint(orEmpty(r.Rating)), "N/A"),
			Version:     r.Version,
			Description: r.ShortDescription,
		})
	}
	return results, nil
}

// parseSearchTable parses the tab-separated search table: name, slug, rating.
func parseSearchTable(raw string) ([]SearchResult, error) {
	rows, err := tableRows(raw, true)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(rows))
	for _, cols := range rows {
		if len(cols) < 2 {
			continue
		}
		r := SearchResult{Name: cols[0], Slug: cols[1], Rating: "N/A"}
		if len(cols) > 2 && cols[2] != "" {
			r.Rating = cols[2]
		}
		if len(cols) > 3 {
			r.Description = cols[3]
		}
		results = append(results, r)
	}
	return results, nil
}

var wideSpace = regexp.MustCompile(`\s{2,}`)

// tableRows splits table output into trimmed columns. It understands the
// tab-separated form WP-CLI prints when piped and the boxed form it prints on
// a terminal. Border lines, "Success:" banners and the header row are skipped.
// spaced keeps single spaces inside cells (plugin display names).
func tableRows(raw string, spaced bool) ([][]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errEmptyOutput
	}

	var rows [][]string
	headerSeen := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, successMarker) {
			continue
		}

		cols := splitColumns(trimmed, spaced)
		if len(cols) == 0 {
			continue
		}
		if !headerSeen {
			headerSeen = true
			if strings.EqualFold(cols[0], "name") {
				continue
			}
		}
		rows = append(rows, cols)
	}
	return rows, nil
}

func splitColumns(line string, spaced bool) []string {
	var parts []string
	switch {
	case strings.Contains(line, "|"):
		parts = strings.Split(strings.Trim(line, "|"), "|")
	case strings.Contains(line, "\t"):
		parts = strings.Split(line, "\t")
	case spaced:
		parts = wideSpace.Split(line, -1)
	default:
		parts = strings.Fields(line)
	}

	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		cols = append(cols, strings.TrimSpace(p))
	}
	return cols
}

func stringOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
