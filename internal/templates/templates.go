// Package templates embeds the starter configs written by wpguard init.
package templates

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.yaml
var files embed.FS

// Default is the template used when init is given none.
const Default = "local"

// Template is a starter config for one kind of remote channel.
type Template struct {
	Name        string
	Description string
	Content     []byte
}

// catalog is ordered as presented by init, simplest channel first.
var catalog = []struct{ name, description string }{
	{"local", "wpguard runs on the WordPress host"},
	{"ssh", "Linux host over SSH, with a health watch"},
	{"winrm", "Windows/IIS host over WinRM"},
}

// List returns the built-in template names.
func List() []string {
	names := make([]string, 0, len(catalog))
	for _, t := range catalog {
		names = append(names, t.name)
	}
	return names
}

// Get returns a built-in template by name.
func Get(name string) (*Template, error) {
	desc, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("template '%s' not found (available: %s)", name, strings.Join(List(), ", "))
	}
	content, err := files.ReadFile(name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read template '%s': %w", name, err)
	}
	return &Template{Name: name, Description: desc, Content: content}, nil
}

// Describe returns the one-line summary shown by init and shell completion.
func Describe(name string) string {
	if desc, ok := lookup(name); ok {
		return desc
	}
	return "Custom template"
}

func lookup(name string) (string, bool) {
	for _, t := range catalog {
		if t.name == name {
			return t.description, true
		}
	}
	return "", false
}
