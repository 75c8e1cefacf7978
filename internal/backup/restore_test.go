package backup

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
	"github.com/adamancini/wpguard/internal/wpcli/wpclitest"
)

func TestCaptureAndRestoreRoundTrip(t *testing.T) {
	site := wpclitest.NewSite("+akismet", "+seo", "hello", "gallery", "!mu-loader")
	client := wpcli.New(site, "/var/www/html")
	manager := newTestManager(t)
	ctx := context.Background()

	snap, err := manager.Capture(ctx, client, "before tests")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !reflect.DeepEqual(snap.ActivePlugins, []string{"akismet", "seo"}) {
		t.Errorf("ActivePlugins = %v", snap.ActivePlugins)
	}
	if !reflect.DeepEqual(snap.InactivePlugins, []string{"gallery", "hello"}) {
		t.Errorf("InactivePlugins = %v, must-use excluded", snap.InactivePlugins)
	}

	// Drift: one active plugin switched off, two inactive ones switched on.
	site.SetStatus("seo", types.StatusInactive)
	site.SetStatus("hello", types.StatusActive)
	site.SetStatus("gallery", types.StatusActive)

	report, err := Restore(ctx, client, snap, zerolog.Nop())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !reflect.DeepEqual(site.Active(), snap.ActivePlugins) {
		t.Errorf("active after restore = %v, want %v", site.Active(), snap.ActivePlugins)
	}
	if !report.Complete(snap) {
		t.Errorf("report not complete: %+v", report)
	}
	if len(report.Deactivated) != 3 || len(report.Activated) != 2 || len(report.Failures) != 0 {
		t.Errorf("report = %+v", report)
	}
	if site.Status("mu-loader") != types.StatusMustUse {
		t.Error("must-use plugin should be untouched")
	}
}

func TestRestoreToleratesActivationFailure(t *testing.T) {
	site := wpclitest.NewSite("+akismet", "+seo")
	site.FailActivate["seo"] = "Plugin file does not exist."
	client := wpcli.New(site, "/var/www/html")
	manager := newTestManager(t)
	ctx := context.Background()

	snap := manager.New([]string{"akismet", "seo"}, nil, "")
	report, err := Restore(ctx, client, snap, zerolog.Nop())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].Plugin != "seo" || report.Failures[0].Operation != "activate" {
		t.Errorf("Failures = %+v", report.Failures)
	}
	if !reflect.DeepEqual(report.ActiveAfter, []string{"akismet"}) {
		t.Errorf("ActiveAfter = %v", report.ActiveAfter)
	}
	if report.Complete(snap) {
		t.Error("Complete() should be false when a plugin could not be reactivated")
	}
}

func TestCaptureEmptyList(t *testing.T) {
	site := wpclitest.NewSite()
	client := wpcli.New(site, "/var/www/html")
	manager := newTestManager(t)

	_, err := manager.Capture(context.Background(), client, "")
	if !errors.Is(err, ErrNoPlugins) {
		t.Errorf("Capture() error = %v, want ErrNoPlugins", err)
	}
}

func TestRestoreNilSnapshot(t *testing.T) {
	if _, err := Restore(context.Background(), wpcli.New(wpclitest.NewSite(), ""), nil, zerolog.Nop()); err == nil {
		t.Error("Restore(nil) expected error")
	}
}
