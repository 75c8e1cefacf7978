// Package history keeps a sqlite journal of batch runs, plugin tests and
// health probes so results survive the process that produced them.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/adamancini/wpguard/internal/health"
	"github.com/adamancini/wpguard/internal/safety"
	"github.com/adamancini/wpguard/internal/types"
)

//go:embed schema.sql
var schema string

// ErrDisabled is returned by every method of a nil Journal.
var ErrDisabled = errors.New("history is disabled")

// Fixed-width UTC timestamps so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Journal is the run journal. A nil *Journal is valid and disabled.
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the journal at path.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug().Err(err).Str("pragma", pragma).Msg("pragma not applied")
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordBatch stores a batch report together with its per-plugin results.
func (j *Journal) RecordBatch(ctx context.Context, r safety.BatchReport) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches(id, started_at, finished_at, requested, tested, passed, problematic, auto_rollback, stopped)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), len(r.Requested), r.TotalTested,
		r.SuccessfulTests, encodeList(r.ProblematicPlugins), r.AutoRollback, r.Stopped,
	)
	if err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}
	for _, res := range r.DetailedResults {
		if err := insertTest(ctx, tx, r.ID, res); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordTest stores a single test run outside any batch.
func (j *Journal) RecordTest(ctx context.Context, res safety.TestResult) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	return insertTest(ctx, j.db, "", res)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTest(ctx context.Context, db execer, batchID string, res safety.TestResult) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO tests(batch_id, plugin, classification, passed, status_code, response_time,
		                   error_details, rollback, escalated, test_error, started_at, duration_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullStr(batchID), res.PluginName, string(res.Classification.Default()), res.TestPassed,
		res.StatusCode, res.ResponseTime, encodeList(res.ErrorDetails), nullStr(rollbackState(res)),
		res.Escalated, nullStr(res.TestError), formatTime(res.StartedAt), res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record test of %s: %w", res.PluginName, err)
	}
	return nil
}

// RecordHealth stores a probe result.
func (j *Journal) RecordHealth(ctx context.Context, r health.Result) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO health(checked_at, url, status_code, response_time, accessible, has_errors, error_details)
		 VALUES(?,?,?,?,?,?,?)`,
		formatTime(r.CheckedAt), r.URL, r.StatusCode, r.ResponseTime, r.Accessible, r.HasErrors,
		encodeList(r.ErrorDetails),
	)
	if err != nil {
		return fmt.Errorf("failed to record health check: %w", err)
	}
	return nil
}

// BatchEntry is a journaled batch.
type BatchEntry struct {
	ID           string    `json:"id" yaml:"id"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
	Requested    int       `json:"requested" yaml:"requested"`
	Tested       int       `json:"tested" yaml:"tested"`
	Passed       int       `json:"passed" yaml:"passed"`
	Problematic  []string  `json:"problematic" yaml:"problematic"`
	AutoRollback bool      `json:"auto_rollback" yaml:"auto_rollback"`
	Stopped      bool      `json:"stopped" yaml:"stopped"`
}

// TestEntry is a journaled plugin test.
type TestEntry struct {
	ID             int64            `json:"id" yaml:"id"`
	BatchID        string           `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Plugin         string           `json:"plugin" yaml:"plugin"`
	Classification types.TestStatus `json:"classification" yaml:"classification"`
	Passed         bool             `json:"passed" yaml:"passed"`
	StatusCode     int              `json:"status_code" yaml:"status_code"`
	ResponseTime   float64          `json:"response_time" yaml:"response_time"`
	ErrorDetails   []string         `json:"error_details" yaml:"error_details"`
	Rollback       string           `json:"rollback,omitempty" yaml:"rollback,omitempty"`
	Escalated      bool             `json:"escalated,omitempty" yaml:"escalated,omitempty"`
	TestError      string           `json:"test_error,omitempty" yaml:"test_error,omitempty"`
	StartedAt      time.Time        `json:"started_at" yaml:"started_at"`
	Duration       time.Duration    `json:"duration" yaml:"duration"`
}

// HealthEntry is a journaled probe.
type HealthEntry struct {
	ID     int64         `json:"id" yaml:"id"`
	Result health.Result `json:"result" yaml:"result"`
}

// TestQuery filters Tests. Zero values match everything.
type TestQuery struct {
	Plugin  string
	BatchID string
	Limit   int
}

const defaultLimit = 20

// Batches returns the most recent batches first.
func (j *Journal) Batches(ctx context.Context, limit int) ([]BatchEntry, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, requested, tested, passed, problematic, auto_rollback, stopped
		 FROM batches ORDER BY started_at DESC LIMIT ?`, orDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []BatchEntry{}
	for rows.Next() {
		var (
			e                 BatchEntry
			started, finished string
			problematic       string
		)
		if err := rows.Scan(&e.ID, &started, &finished, &e.Requested, &e.Tested, &e.Passed,
			&problematic, &e.AutoRollback, &e.Stopped); err != nil {
			return nil, err
		}
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		e.Problematic = decodeList(problematic)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tests returns matching tests, most recent first.
func (j *Journal) Tests(ctx context.Context, q TestQuery) ([]TestEntry, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}

	query := `SELECT id, COALESCE(batch_id, ''), plugin, classification, passed, status_code, response_time,
	                 error_details, COALESCE(rollback, ''), escalated, COALESCE(test_error, ''), started_at, duration_ms
	          FROM tests`
	var (
		where []string
		args  []any
	)
	if q.Plugin != "" {
		where = append(where, "plugin = ?")
		args = append(args, q.Plugin)
	}
	if q.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, q.BatchID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, orDefault(q.Limit))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TestEntry{}
	for rows.Next() {
		var (
			e              TestEntry
			classification string
			details        string
			started        string
			durationMS     int64
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Plugin, &classification, &e.Passed, &e.StatusCode,
			&e.ResponseTime, &details, &e.Rollback, &e.Escalated, &e.TestError, &started, &durationMS); err != nil {
			return nil, err
		}
		e.Classification = types.TestStatus(classification)
		e.ErrorDetails = decodeList(details)
		e.StartedAt = parseTime(started)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// HealthChecks returns the most recent probes first.
func (j *Journal) HealthChecks(ctx context.Context, limit int) ([]HealthEntry, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, checked_at, url, status_code, response_time, accessible, has_errors, error_details
		 FROM health ORDER BY checked_at DESC, id DESC LIMIT ?`, orDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []HealthEntry{}
	for rows.Next() {
		var (
			e                HealthEntry
			checked, details string
		)
		r := &e.Result
		if err := rows.Scan(&e.ID, &checked, &r.URL, &r.StatusCode, &r.ResponseTime, &r.Accessible,
			&r.HasErrors, &details); err != nil {
			return nil, err
		}
		r.CheckedAt = parseTime(checked)
		r.ErrorDetails = decodeList(details)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many rows
// went away. Tests that belong to a pruned batch go with it.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrDisabled
	}
	c := formatTime(cutoff)
	var total int64
	for _, q := range []string{
		`DELETE FROM tests WHERE started_at < ?`,
		`DELETE FROM batches WHERE started_at < ?`,
		`DELETE FROM health WHERE checked_at < ?`,
	} {
		res, err := j.db.ExecContext(ctx, q, c)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	j.log.Debug().Int64("rows", total).Time("cutoff", cutoff).Msg("history pruned")
	return total, nil
}

func rollbackState(res safety.TestResult) string {
	switch {
	case res.AutoRollbackSuccessful == nil:
		return ""
	case *res.AutoRollbackSuccessful:
		return "ok"
	default:
		return "failed"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(s string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
