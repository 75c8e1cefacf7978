package wpcli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// WordPress core and plugin versions: "6.4", "6.4.2", "v2.10.0", "6.5-RC1".
var versionPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)(?:\.(\d+))?(?:-([a-zA-Z0-9.-]+))?$`)

// Version is a parsed core, WP-CLI or plugin version.
type Version struct {
	Major, Minor, Patch int
	Prerelease          string
}

// ParseVersion reads a version as printed by `wp core version`,
// `wp --version` ("WP-CLI 2.10.0") or a plugin header.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "WP-CLI"))
	m := versionPattern.FindStringSubmatch(raw)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version format: %q", raw)
	}

	var v Version
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	v.Prerelease = m[4]
	return v, nil
}

func (v Version) String() string {
	if v.Prerelease == "" {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d.%d-%s", v.Major, v.Minor, v.Patch, v.Prerelease)
}

// Compare returns -1, 0 or 1. A release sorts after its release
// candidates; prerelease tags compare lexically.
func (v Version) Compare(o Version) int {
	if c := cmpInt(v.Major, o.Major); c != 0 {
		return c
	}
	if c := cmpInt(v.Minor, o.Minor); c != 0 {
		return c
	}
	if c := cmpInt(v.Patch, o.Patch); c != 0 {
		return c
	}
	switch {
	case v.Prerelease == o.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case o.Prerelease == "":
		return -1
	}
	return strings.Compare(v.Prerelease, o.Prerelease)
}

func cmpInt(a, b int) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// newerVersion reports whether candidate is a strictly later version than
// current. Unparseable input is never newer.
func newerVersion(candidate, current string) bool {
	cv, err := ParseVersion(candidate)
	if err != nil {
		return false
	}
	v, err := ParseVersion(current)
	if err != nil {
		return false
	}
	return cv.Compare(v) > 0
}
