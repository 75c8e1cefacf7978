package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adamancini/wpguard/internal/types"
)

func TestValidateDefault(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "unknown transport",
			mutate:    func(c *Config) { c.Remote.Transport = "telnet" },
			wantField: "remote.transport",
		},
		{
			name: "ssh without host",
			mutate: func(c *Config) {
				c.Remote.Transport = types.TransportSSH
				c.Remote.User = "deploy"
				c.Remote.KeyFile = "~/.ssh/id_ed25519"
			},
			wantField: "remote.host",
		},
		{
			name: "ssh without credentials",
			mutate: func(c *Config) {
				c.Remote.Transport = types.TransportSSH
				c.Remote.Host = "wp.example.com"
				c.Remote.User = "deploy"
			},
			wantField: "remote.key_file",
		},
		{
			name: "winrm without password",
			mutate: func(c *Config) {
				c.Remote.Transport = types.TransportWinRM
				c.Remote.Host = "iis01"
				c.Remote.User = "Administrator"
			},
			wantField: "remote.password",
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Remote.Port = 70000 },
			wantField: "remote.port",
		},
		{
			name:      "missing site path",
			mutate:    func(c *Config) { c.Site.Path = "" },
			wantField: "site.path",
		},
		{
			name:      "bad site url",
			mutate:    func(c *Config) { c.Site.URL = "not a url" },
			wantField: "site.url",
		},
		{
			name:      "too many retries",
			mutate:    func(c *Config) { c.Safety.SettleRetries = 50 },
			wantField: "safety.settle_retries",
		},
		{
			name:      "negative settle delay",
			mutate:    func(c *Config) { c.Safety.SettleDelay = Duration(-time.Second) },
			wantField: "safety.settle_delay",
		},
		{
			name:      "unknown history driver",
			mutate:    func(c *Config) { c.History.Driver = "postgres" },
			wantField: "history.driver",
		},
		{
			name:      "bad cron schedule",
			mutate:    func(c *Config) { c.Watch.HealthSchedule = "every minute" },
			wantField: "watch.health_schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T, want *ValidationErrors", err)
			}
			var fields []string
			for _, e := range verrs.Errors {
				fields = append(fields, e.Field)
			}
			if !contains(fields, tt.wantField) {
				t.Errorf("fields = %v, want %s", fields, tt.wantField)
			}
		})
	}
}

func TestValidateValidRemotes(t *testing.T) {
	ssh := Default()
	ssh.Remote = Remote{Transport: types.TransportSSH, Host: "wp.example.com", User: "deploy", Password: "pw"}
	if err := Validate(ssh); err != nil {
		t.Errorf("ssh with password: %v", err)
	}

	winrm := Default()
	winrm.Remote = Remote{Transport: types.TransportWinRM, Host: "iis01", User: "Administrator", Password: "pw"}
	winrm.Watch = Watch{HealthSchedule: "@every 5m", BatchSchedule: "0 3 * * 0"}
	if err := Validate(winrm); err != nil {
		t.Errorf("winrm with schedules: %v", err)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	cfg := Default()
	cfg.Site.Path = ""
	cfg.Remote.Transport = "ftp"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"site.path: is required", "remote.transport: must be one of: ssh, winrm, local"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Path":        "path",
		"SettleDelay": "settle_delay",
		"key":         "key",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
