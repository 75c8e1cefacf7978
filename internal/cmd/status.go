package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/output"
	"github.com/adamancini/wpguard/internal/types"
	"github.com/adamancini/wpguard/internal/wpcli"
)

type statusView struct {
	Config    string          `json:"config" yaml:"config"`
	Transport string          `json:"transport" yaml:"transport"`
	Host      string          `json:"host,omitempty" yaml:"host,omitempty"`
	Path      string          `json:"path" yaml:"path"`
	WPCLI     bool            `json:"wp_cli" yaml:"wp_cli"`
	Site      *wpcli.SiteInfo `json:"site,omitempty" yaml:"site,omitempty"`
	Active    int             `json:"active" yaml:"active"`
	Inactive  int             `json:"inactive" yaml:"inactive"`
	Failed    []string        `json:"failed" yaml:"failed"`
	Resolved  int             `json:"resolved" yaml:"resolved"`
	Backups   int             `json:"backups" yaml:"backups"`
	Health    *health.Result  `json:"health,omitempty" yaml:"health,omitempty"`
	Errors    []string        `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func (v statusView) RenderText(s *output.Styles) string {
	var b strings.Builder
	config := v.Config
	if config == "" {
		config = "(defaults)"
	}
	field(&b, s, "Config", config)
	target := v.Transport
	if v.Host != "" {
		target += " " + v.Host
	}
	field(&b, s, "Remote", target)
	field(&b, s, "Path", v.Path)
	if v.WPCLI {
		field(&b, s, "WP-CLI", s.Good.Render("available"))
	} else {
		field(&b, s, "WP-CLI", s.Bad.Render("not found"))
	}
	if v.Site != nil {
		field(&b, s, "WordPress", v.Site.WPVersion)
		field(&b, s, "Site", fmt.Sprintf("%s (%s)", v.Site.SiteTitle, v.Site.SiteURL))
		field(&b, s, "WP_DEBUG", v.Site.DebugEnabled)
	}
	field(&b, s, "Plugins", fmt.Sprintf("%d active, %d inactive", v.Active, v.Inactive))
	if len(v.Failed) > 0 {
		field(&b, s, "Failed", s.Bad.Render(strings.Join(v.Failed, ", ")))
	}
	field(&b, s, "Resolved", fmt.Sprint(v.Resolved))
	field(&b, s, "Backups", fmt.Sprint(v.Backups))
	if v.Health != nil {
		verdict := "healthy"
		if !v.Health.Healthy() {
			verdict = "unhealthy"
		}
		field(&b, s, "Health", fmt.Sprintf("%s (%s in %s)", s.Badge(verdict), statusCode(v.Health.StatusCode), seconds(v.Health.ResponseTime)))
	}
	for _, e := range v.Errors {
		fmt.Fprintf(&b, "  %s %s\n", s.Warn.Render("!"), e)
	}
	return b.String()
}

func newStatusCmd() *cobra.Command {
	var skipHealth bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a summary of the site and wpguard state",
		Long: `Status shows the remote channel, WordPress version, plugin counts, plugins
that failed their last test, resolved markers, backups and the current
health of the site.`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			ctx := cmd.Context()
			v := statusView{
				Config:    e.cfg.Path,
				Transport: e.cfg.Remote.Transport.String(),
				Host:      e.cfg.Remote.Host,
				Path:      e.cfg.Site.Path,
				Failed:    []string{},
			}

			v.WPCLI, _ = e.sess.Available(ctx)
			if v.WPCLI {
				if info, err := e.sess.SiteInfo(ctx); err == nil {
					v.Site = &info
				} else {
					v.Errors = append(v.Errors, err.Error())
				}
			}

			if plugins, err := e.sess.Plugins(ctx, types.FilterAll); err == nil {
				for _, p := range plugins {
					switch p.Status {
					case types.StatusActive:
						v.Active++
					case types.StatusInactive:
						v.Inactive++
					}
					if p.TestStatus == types.TestFailed {
						v.Failed = append(v.Failed, p.Name)
					}
				}
			} else {
				v.Errors = append(v.Errors, err.Error())
			}

			if resolved, err := e.sess.Resolved(); err == nil {
				v.Resolved = len(resolved)
			}
			if backups, err := e.sess.Backups().List(); err == nil {
				v.Backups = len(backups)
			}

			if !skipHealth {
				if res, err := e.sess.Health(ctx, ""); err == nil {
					v.Health = &res
				} else {
					v.Errors = append(v.Errors, err.Error())
				}
			}

			return e.out.Write(v)
		}),
	}

	cmd.Flags().BoolVar(&skipHealth, "no-health", false, "Skip the health check")
	return cmd
}
