// Package types provides type-safe constants shared across wpguard.
//
// This package centralizes the enumerated values used by the plugin adapter,
// the safety orchestrator and the state store, replacing magic strings with
// typed constants that provide compile-time safety and validation methods.
//
// SYNC REQUIREMENT: PluginStatus values must match what WP-CLI prints in the
// status column of `wp plugin list`.
package types

import (
	"fmt"
	"strings"
)

// PluginStatus is the activation status reported by WP-CLI.
type PluginStatus string

const (
	// StatusActive indicates the plugin is active on the site.
	StatusActive PluginStatus = "active"
	// StatusInactive indicates the plugin is installed but not active.
	StatusInactive PluginStatus = "inactive"
	// StatusMustUse indicates a must-use plugin (always loaded, cannot be toggled).
	StatusMustUse PluginStatus = "must-use"
	// StatusUnknown is used when the status could not be determined.
	StatusUnknown PluginStatus = "unknown"
)

// AllPluginStatuses returns all valid plugin statuses.
func AllPluginStatuses() []PluginStatus {
	return []PluginStatus{StatusActive, StatusInactive, StatusMustUse, StatusUnknown}
}

// Validate checks if the PluginStatus is a valid value.
func (s PluginStatus) Validate() error {
	switch s {
	case StatusActive, StatusInactive, StatusMustUse, StatusUnknown:
		return nil
	case "":
		return fmt.Errorf("plugin status is required")
	default:
		return fmt.Errorf("invalid plugin status '%s' (must be active, inactive, must-use, or unknown)", s)
	}
}

// String returns the string representation of the PluginStatus.
func (s PluginStatus) String() string {
	return string(s)
}

// IsActive returns true if the plugin is active.
func (s PluginStatus) IsActive() bool {
	return s == StatusActive
}

// IsToggleable returns true if the plugin can be activated or deactivated.
func (s PluginStatus) IsToggleable() bool {
	return s == StatusActive || s == StatusInactive
}

// NormalizePluginStatus maps arbitrary WP-CLI status text to a PluginStatus.
// Unrecognized values (dropins, active-network, ...) map to StatusUnknown,
// except active-network which counts as active.
func NormalizePluginStatus(s string) PluginStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "active-network":
		return StatusActive
	case "inactive":
		return StatusInactive
	case "must-use", "mu":
		return StatusMustUse
	default:
		return StatusUnknown
	}
}

// TestStatus is the persisted outcome of the latest safety test of a plugin.
type TestStatus string

const (
	// TestUntested indicates the plugin has never been tested.
	TestUntested TestStatus = "untested"
	// TestApproved indicates the site stayed healthy after activation.
	TestApproved TestStatus = "approved"
	// TestWarning indicates the site stayed reachable but reported errors.
	TestWarning TestStatus = "warning"
	// TestFailed indicates the site became inaccessible or the test could not complete.
	TestFailed TestStatus = "failed"
)

// AllTestStatuses returns all valid test statuses.
func AllTestStatuses() []TestStatus {
	return []TestStatus{TestUntested, TestApproved, TestWarning, TestFailed}
}

// Validate checks if the TestStatus is a valid value.
// Empty is accepted and treated as untested.
func (s TestStatus) Validate() error {
	switch s {
	case TestUntested, TestApproved, TestWarning, TestFailed, "":
		return nil
	default:
		return fmt.Errorf("invalid test status '%s' (must be untested, approved, warning, or failed)", s)
	}
}

// String returns the string representation of the TestStatus.
func (s TestStatus) String() string {
	return string(s)
}

// Default returns TestUntested if empty, otherwise the current status.
func (s TestStatus) Default() TestStatus {
	if s == "" {
		return TestUntested
	}
	return s
}

// IsProblem returns true for warning and failed.
func (s TestStatus) IsProblem() bool {
	return s == TestWarning || s == TestFailed
}

// ParseTestStatus parses a string into a TestStatus.
func ParseTestStatus(s string) (TestStatus, error) {
	ts := TestStatus(strings.ToLower(s))
	if err := ts.Validate(); err != nil {
		return "", err
	}
	return ts.Default(), nil
}

// ListFilter selects which plugins `wp plugin list` returns.
type ListFilter string

const (
	// FilterAll lists every installed plugin.
	FilterAll ListFilter = "all"
	// FilterActive lists active plugins only.
	FilterActive ListFilter = "active"
	// FilterInactive lists inactive plugins only.
	FilterInactive ListFilter = "inactive"
	// FilterMustUse lists must-use plugins only.
	FilterMustUse ListFilter = "must-use"
)

// AllListFilters returns all valid list filters.
func AllListFilters() []ListFilter {
	return []ListFilter{FilterAll, FilterActive, FilterInactive, FilterMustUse}
}

// Validate checks if the ListFilter is a valid value.
// Empty is accepted and treated as all.
func (f ListFilter) Validate() error {
	switch f {
	case FilterAll, FilterActive, FilterInactive, FilterMustUse, "":
		return nil
	default:
		return fmt.Errorf("invalid filter '%s' (must be all, active, inactive, or must-use)", f)
	}
}

// String returns the string representation of the ListFilter.
func (f ListFilter) String() string {
	return string(f)
}

// Default returns FilterAll if empty, otherwise the current filter.
func (f ListFilter) Default() ListFilter {
	if f == "" {
		return FilterAll
	}
	return f
}

// Matches reports whether a plugin with the given status passes the filter.
func (f ListFilter) Matches(s PluginStatus) bool {
	switch f.Default() {
	case FilterAll:
		return true
	case FilterActive:
		return s == StatusActive
	case FilterInactive:
		return s == StatusInactive
	case FilterMustUse:
		return s == StatusMustUse
	default:
		return false
	}
}

// ParseListFilter parses a string into a ListFilter.
func ParseListFilter(s string) (ListFilter, error) {
	f := ListFilter(strings.ToLower(s))
	if err := f.Validate(); err != nil {
		return "", err
	}
	return f.Default(), nil
}

// Transport is the remote command-execution channel type.
type Transport string

const (
	// TransportSSH executes commands over SSH.
	TransportSSH Transport = "ssh"
	// TransportWinRM executes commands over Windows Remote Management.
	TransportWinRM Transport = "winrm"
	// TransportLocal executes commands with the local shell.
	TransportLocal Transport = "local"
)

// AllTransports returns all valid transports.
func AllTransports() []Transport {
	return []Transport{TransportSSH, TransportWinRM, TransportLocal}
}

// Validate checks if the Transport is a valid value.
func (t Transport) Validate() error {
	switch t {
	case TransportSSH, TransportWinRM, TransportLocal:
		return nil
	case "":
		return fmt.Errorf("transport is required")
	default:
		return fmt.Errorf("invalid transport '%s' (must be ssh, winrm, or local)", t)
	}
}

// String returns the string representation of the Transport.
func (t Transport) String() string {
	return string(t)
}

// IsRemote returns true if commands leave the local machine.
func (t Transport) IsRemote() bool {
	return t == TransportSSH || t == TransportWinRM
}

// ParseTransport parses a string into a Transport.
func ParseTransport(s string) (Transport, error) {
	t := Transport(strings.ToLower(s))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}
