package safety

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy is returned when a test, batch or restore is already running.
	ErrBusy = errors.New("another safety operation is in progress")

	// ErrSiteUnhealthy is returned when the pre-check finds the site broken;
	// no plugin is activated.
	ErrSiteUnhealthy = errors.New("site is unhealthy before the test")

	// ErrNoInitialPlugins is returned when a batch cannot read the plugin
	// list it starts from.
	ErrNoInitialPlugins = errors.New("could not read initial plugin list")
)

// AmbiguousHealthError reports a probe that failed outright, so the site's
// health is unknown.
type AmbiguousHealthError struct {
	Stage string
	Err   error
}

func (e *AmbiguousHealthError) Error() string {
	return fmt.Sprintf("site health unknown during %s: %v", e.Stage, e.Err)
}

func (e *AmbiguousHealthError) Unwrap() error {
	return e.Err
}

func unhealthy(details []string) error {
	if len(details) == 0 {
		return ErrSiteUnhealthy
	}
	return fmt.Errorf("%w: %s", ErrSiteUnhealthy, strings.Join(details, "; "))
}
