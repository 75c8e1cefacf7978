package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adamancini/wpguard/internal/backup"
	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/history"
	"github.com/adamancini/wpguard/internal/output"
	"github.com/adamancini/wpguard/internal/safety"
	"github.com/adamancini/wpguard/internal/state"
	"github.com/adamancini/wpguard/internal/wpcli"
)

const timeFormat = "2006-01-02 15:04:05"

type pluginList []wpcli.Plugin

func (l pluginList) RenderText(s *output.Styles) string {
	if len(l) == 0 {
		return "No plugins found.\n"
	}
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		update := p.Update
		if p.UpdateVersion != "" {
			update = p.UpdateVersion
		}
		rows = append(rows, []string{
			p.Name,
			s.Badge(p.Status.String()),
			p.Version,
			update,
			s.Badge(p.TestStatus.String()),
		})
	}
	return s.Table([]string{"NAME", "STATUS", "VERSION", "UPDATE", "TEST"}, rows)
}

type searchList []wpcli.SearchResult

func (l searchList) RenderText(s *output.Styles) string {
	if len(l) == 0 {
		return "No plugins found.\n"
	}
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{r.Slug, r.Name, r.Rating, r.Version})
	}
	return s.Table([]string{"SLUG", "NAME", "RATING", "VERSION"}, rows)
}

type detailsView wpcli.Details

func (d detailsView) RenderText(s *output.Styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.Heading.Render(d.Name))
	field(&b, s, "Title", d.Title)
	field(&b, s, "Version", d.Version)
	field(&b, s, "Author", d.Author)
	field(&b, s, "Status", s.Badge(d.Status.String()))
	field(&b, s, "Description", d.Description)
	return b.String()
}

func field(b *strings.Builder, s *output.Styles, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %s %s\n", s.Muted.Render(fmt.Sprintf("%-12s", name+":")), value)
}

type outcomeView struct {
	Plugin  string        `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Action  string        `json:"action" yaml:"action"`
	Outcome wpcli.Outcome `json:"outcome" yaml:"outcome"`
}

func (v outcomeView) RenderText(s *output.Styles) string {
	target := v.Plugin
	if target == "" {
		target = "site"
		if v.Action == "update" {
			target = "all plugins"
		}
	}
	switch v.Outcome.Kind {
	case wpcli.OutcomeOK:
		return fmt.Sprintf("%s %s: %s\n", s.Good.Render("✓"), v.Action, target)
	case wpcli.OutcomeAlreadyInState:
		return fmt.Sprintf("%s %s: %s (no change)\n", s.Muted.Render("="), v.Action, target)
	default:
		return fmt.Sprintf("%s %s: %s: %s\n", s.Bad.Render("✗"), v.Action, target, v.Outcome.Message)
	}
}

type outcomeList []outcomeView

func (l outcomeList) RenderText(s *output.Styles) string {
	var b strings.Builder
	for _, v := range l {
		b.WriteString(v.RenderText(s))
	}
	return b.String()
}

type healthView health.Result

func (h healthView) RenderText(s *output.Styles) string {
	r := health.Result(h)
	var b strings.Builder
	verdict := "healthy"
	if !r.Healthy() {
		verdict = "unhealthy"
		if !r.Accessible {
			verdict = "unreachable"
		}
	}
	fmt.Fprintf(&b, "%s %s\n", s.Heading.Render(r.URL), s.Badge(verdict))
	field(&b, s, "Status", statusCode(r.StatusCode))
	field(&b, s, "Response", seconds(r.ResponseTime))
	field(&b, s, "Checked", r.CheckedAt.Local().Format(timeFormat))
	writeDetails(&b, s, r.ErrorDetails)
	return b.String()
}

func writeDetails(b *strings.Builder, s *output.Styles, details []string) {
	if len(details) == 0 {
		return
	}
	fmt.Fprintf(b, "  %s\n", s.Muted.Render("Errors:"))
	for _, d := range details {
		fmt.Fprintf(b, "    - %s\n", d)
	}
}

func statusCode(code int) string {
	if code == 0 {
		return "-"
	}
	return strconv.Itoa(code)
}

func seconds(v float64) string {
	return fmt.Sprintf("%.2fs", v)
}

type testView safety.TestResult

func (t testView) RenderText(s *output.Styles) string {
	r := safety.TestResult(t)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", s.Heading.Render(r.PluginName), s.Badge(r.Classification.String()))
	activation := "activated"
	switch {
	case r.AlreadyActive:
		activation = "already active"
	case !r.ActivationSuccessful:
		activation = "activation failed"
	}
	field(&b, s, "Activation", activation)
	if r.ActivationSuccessful {
		field(&b, s, "Site", fmt.Sprintf("%s in %s", statusCode(r.StatusCode), seconds(r.ResponseTime)))
	}
	field(&b, s, "Rollback", rollbackText(s, r))
	if r.Escalated {
		field(&b, s, "Escalated", "yes")
	}
	field(&b, s, "Phase", r.Phase)
	field(&b, s, "Error", r.TestError)
	writeDetails(&b, s, r.ErrorDetails)
	return b.String()
}

func rollbackText(s *output.Styles, r safety.TestResult) string {
	if r.AutoRollbackSuccessful == nil {
		return ""
	}
	if *r.AutoRollbackSuccessful {
		return s.Good.Render("deactivated")
	}
	return s.Bad.Render("failed, plugin may still be active")
}

type batchView safety.BatchReport

func (v batchView) RenderText(s *output.Styles) string {
	r := safety.BatchReport(v)
	var b strings.Builder
	rows := make([][]string, 0, len(r.DetailedResults))
	for _, t := range r.DetailedResults {
		rows = append(rows, []string{
			t.PluginName,
			s.Badge(t.Classification.String()),
			statusCode(t.StatusCode),
			seconds(t.ResponseTime),
			rollbackText(s, t),
		})
	}
	if len(rows) > 0 {
		b.WriteString(s.Table([]string{"PLUGIN", "RESULT", "HTTP", "TIME", "ROLLBACK"}, rows))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Tested %d of %d plugins, %d passed", r.TotalTested, len(r.Requested), r.SuccessfulTests)
	if r.Stopped {
		fmt.Fprintf(&b, " (%s)", s.Badge("stopped"))
	}
	b.WriteString("\n")
	if len(r.ProblematicPlugins) > 0 {
		fmt.Fprintf(&b, "%s %s\n", s.Bad.Render("Problematic:"), strings.Join(r.ProblematicPlugins, ", "))
	}
	return b.String()
}

type backupList struct {
	Dir     string        `json:"dir" yaml:"dir"`
	Backups []backup.Info `json:"backups" yaml:"backups"`
}

func (l backupList) RenderText(s *output.Styles) string {
	if len(l.Backups) == 0 {
		return fmt.Sprintf("No backups found.\nBackup directory: %s\n", l.Dir)
	}
	rows := make([][]string, 0, len(l.Backups))
	for _, bk := range l.Backups {
		note := bk.Note
		if note == "" {
			note = "-"
		}
		rows = append(rows, []string{
			bk.ID,
			bk.CreatedAt.Local().Format(timeFormat),
			strconv.Itoa(bk.Active),
			strconv.Itoa(bk.Inactive),
			note,
			formatSize(bk.Size),
		})
	}
	return fmt.Sprintf("Backups stored in %s:\n\n", l.Dir) +
		s.Table([]string{"ID", "CREATED", "ACTIVE", "INACTIVE", "NOTE", "SIZE"}, rows)
}

type snapshotView backup.Snapshot

func (v snapshotView) RenderText(s *output.Styles) string {
	snap := backup.Snapshot(v)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.Heading.Render(snap.ID))
	field(&b, s, "Created", snap.CreatedAt.Local().Format(timeFormat))
	field(&b, s, "Note", snap.Note)
	field(&b, s, "Site", snap.Site)
	fmt.Fprintf(&b, "  %s %s\n", s.Muted.Render(fmt.Sprintf("%-12s", "Active:")), joinOrDash(snap.ActivePlugins))
	fmt.Fprintf(&b, "  %s %s\n", s.Muted.Render(fmt.Sprintf("%-12s", "Inactive:")), joinOrDash(snap.InactivePlugins))
	return b.String()
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

type restoreView backup.RestoreReport

func (v restoreView) RenderText(s *output.Styles) string {
	r := backup.RestoreReport(v)
	var b strings.Builder
	for _, name := range r.Deactivated {
		fmt.Fprintf(&b, "  - %s\n", name)
	}
	for _, name := range r.Activated {
		fmt.Fprintf(&b, "  + %s\n", name)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  %s %s %s: %s\n", s.Bad.Render("✗"), f.Operation, f.Plugin, f.Message)
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "\nRestore of %s completed with %d failure(s).\n", r.SnapshotID, len(r.Failures))
	} else {
		fmt.Fprintf(&b, "\nRestored %s: %d deactivated, %d activated.\n", r.SnapshotID, len(r.Deactivated), len(r.Activated))
	}
	return b.String()
}

type resolvedList []state.ResolvedEntry

func (l resolvedList) RenderText(s *output.Styles) string {
	if len(l) == 0 {
		return "No resolved plugins.\n"
	}
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		rows = append(rows, []string{e.PluginName, e.Timestamp.Local().Format(timeFormat), reason, strconv.Itoa(len(e.ErrorDetails))})
	}
	return s.Table([]string{"PLUGIN", "RESOLVED", "REASON", "ERRORS"}, rows)
}

type batchHistory []history.BatchEntry

func (l batchHistory) RenderText(s *output.Styles) string {
	if len(l) == 0 {
		return "No batches recorded.\n"
	}
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		result := fmt.Sprintf("%d/%d passed", e.Passed, e.Tested)
		if e.Stopped {
			result += " (stopped)"
		}
		rows = append(rows, []string{
			e.ID,
			e.StartedAt.Local().Format(timeFormat),
			e.FinishedAt.Sub(e.StartedAt).Round(time.Second).String(),
			result,
			joinOrDash(e.Problematic),
		})
	}
	return s.Table([]string{"ID", "STARTED", "DURATION", "RESULT", "PROBLEMATIC"}, rows)
}

type testHistory []history.TestEntry

func (l testHistory) RenderText(s *output.Styles) string {
	if len(l) == 0 {
		return "No tests recorded.\n"
	}
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rollback := e.Rollback
		if rollback == "" {
			rollback = "-"
		}
		rows = append(rows, []string{
			e.StartedAt.Local().Format(timeFormat),
			e.Plugin,
			s.Badge(e.Classification.String()),
			statusCode(e.StatusCode),
			rollback,
		})
	}
	return s.Table([]string{"STARTED", "PLUGIN", "RESULT", "HTTP", "ROLLBACK"}, rows)
}

type healthHistory []history.HealthEntry

func (l healthHistory) RenderText(s *output.Styles) string {
	if len(l) == 0 {
		return "No health checks recorded.\n"
	}
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		verdict := "healthy"
		if !e.Result.Healthy() {
			verdict = "unhealthy"
		}
		rows = append(rows, []string{
			e.Result.CheckedAt.Local().Format(timeFormat),
			e.Result.URL,
			s.Badge(verdict),
			statusCode(e.Result.StatusCode),
			seconds(e.Result.ResponseTime),
		})
	}
	return s.Table([]string{"CHECKED", "URL", "RESULT", "HTTP", "TIME"}, rows)
}

// formatSize formats a byte size as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
