// Package health probes the live site over HTTP and scans the WordPress
// debug log for recent errors.
package health

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamancini/wpguard/internal/remote"
)

const (
	// DefaultTimeout bounds one GET of the site.
	DefaultTimeout = 30 * time.Second
	// DefaultLogTimeout bounds one tail of the debug log.
	DefaultLogTimeout = 15 * time.Second
	// DefaultTail is how many debug log lines are read.
	DefaultTail = 20
	// MaxRecentErrors caps LogCheck.RecentErrors.
	MaxRecentErrors = 10

	maxBody = 2 << 20
)

// ErrNoSiteURL is returned when no URL is given, configured or discoverable.
var ErrNoSiteURL = errors.New("no site URL available")

// ConnectivityError reports that the site could not be reached at all.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("site %s unreachable: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Signatures are matched case-insensitively against the response body.
var Signatures = []string{
	"fatal error",
	"parse error",
	"syntax error",
	"database connection error",
	"error establishing a database connection",
	"white screen of death",
	"internal server error",
	"memory limit exceeded",
	"allowed memory size",
	"plugin could not be activated",
	"plugin generated",
}

var logKeywords = []string{"fatal", "error", "warning"}

// Result is the outcome of one probe.
type Result struct {
	URL          string    `json:"url" yaml:"url"`
	StatusCode   int       `json:"status_code" yaml:"status_code"`
	ResponseTime float64   `json:"response_time" yaml:"response_time"`
	Accessible   bool      `json:"accessible" yaml:"accessible"`
	HasErrors    bool      `json:"has_errors" yaml:"has_errors"`
	ErrorDetails []string  `json:"error_details" yaml:"error_details"`
	CheckedAt    time.Time `json:"checked_at" yaml:"checked_at"`
}

// Healthy reports an accessible site without errors.
func (r Result) Healthy() bool {
	return r.Accessible && !r.HasErrors
}

// LogCheck is the outcome of scanning the debug log.
type LogCheck struct {
	HasRecentErrors bool     `json:"has_recent_errors" yaml:"has_recent_errors"`
	RecentErrors    []string `json:"recent_errors" yaml:"recent_errors"`
	LogPath         string   `json:"log_path" yaml:"log_path"`
}

// SiteURLResolver discovers the site URL, typically via `wp option get siteurl`.
type SiteURLResolver interface {
	SiteURL(ctx context.Context) (string, error)
}

// LineFilter drops log lines that should not count as errors.
type LineFilter interface {
	FilterLines(lines []string) []string
}

// Prober checks site health.
type Prober struct {
	client     *http.Client
	exec       remote.Executor
	resolver   SiteURLResolver
	filter     LineFilter
	siteURL    string
	debugLog   string
	tail       int
	logTimeout time.Duration
	log        zerolog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithSiteURL sets the configured URL used when Check gets none.
func WithSiteURL(url string) Option {
	return func(p *Prober) { p.siteURL = url }
}

// WithResolver sets the fallback URL resolver.
func WithResolver(r SiteURLResolver) Option {
	return func(p *Prober) { p.resolver = r }
}

// WithDebugLog enables the debug log scan through exec.
func WithDebugLog(exec remote.Executor, path string) Option {
	return func(p *Prober) {
		p.exec = exec
		p.debugLog = path
	}
}

// WithLineFilter suppresses log lines, e.g. those of resolved plugins.
func WithLineFilter(f LineFilter) Option {
	return func(p *Prober) { p.filter = f }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithInsecureTLS disables certificate verification.
func WithInsecureTLS(insecure bool) Option {
	return func(p *Prober) {
		if !insecure {
			return
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed staging sites
		p.client.Transport = tr
	}
}

// WithTail sets the number of debug log lines read.
func WithTail(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.tail = n
		}
	}
}

// WithLogger sets the prober logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Prober) { p.log = log }
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		client:     &http.Client{Timeout: DefaultTimeout},
		tail:       DefaultTail,
		logTimeout: DefaultLogTimeout,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ResolveURL picks the explicit url, the configured one, or asks the resolver.
func (p *Prober) ResolveURL(ctx context.Context, url string) (string, error) {
	if url != "" {
		return url, nil
	}
	if p.siteURL != "" {
		return p.siteURL, nil
	}
	if p.resolver == nil {
		return "", ErrNoSiteURL
	}
	resolved, err := p.resolver.SiteURL(ctx)
	if err != nil || resolved == "" {
		return "", fmt.Errorf("%w: %v", ErrNoSiteURL, err)
	}
	return resolved, nil
}

// Check GETs the site and classifies the response. A transport failure
// returns *ConnectivityError; an HTTP error status is a Result with
// Accessible false.
func (p *Prober) Check(ctx context.Context, url string) (Result, error) {
	target, err := p.ResolveURL(ctx, url)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}, fmt.Errorf("invalid site URL %q: %w", target, err)
	}
	req.Header.Set("User-Agent", "wpguard-health/1.0")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("url", target).Msg("site unreachable")
		return Result{}, &ConnectivityError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, &ConnectivityError{URL: target, Err: err}
	}

	res := Classify(target, resp.StatusCode, body)
	res.ResponseTime = math.Round(elapsed.Seconds()*100) / 100
	res.CheckedAt = start

	if p.debugLog != "" && p.exec != nil {
		lc, err := p.CheckErrorLogs(ctx, p.debugLog, p.tail)
		if err != nil {
			p.log.Debug().Err(err).Str("path", p.debugLog).Msg("debug log unavailable")
		} else if lc.HasRecentErrors {
			res.HasErrors = true
			res.ErrorDetails = append(res.ErrorDetails, lc.RecentErrors...)
		}
	}

	p.log.Debug().
		Str("url", target).
		Int("status", res.StatusCode).
		Float64("response_time", res.ResponseTime).
		Bool("has_errors", res.HasErrors).
		Msg("health probe")
	return res, nil
}

// Classify builds a Result from a status code and body. It is pure.
func Classify(url string, status int, body []byte) Result {
	res := Result{
		URL:          url,
		StatusCode:   status,
		Accessible:   status == http.StatusOK || status == http.StatusMovedPermanently || status == http.StatusFound,
		HasErrors:    status >= 400,
		ErrorDetails: []string{},
	}

	switch {
	case status == http.StatusInternalServerError:
		res.ErrorDetails = append(res.ErrorDetails, "Internal server error (500)")
	case status == http.StatusNotFound:
		res.ErrorDetails = append(res.ErrorDetails, "Page not found (404)")
	case status == http.StatusForbidden:
		res.ErrorDetails = append(res.ErrorDetails, "Access forbidden (403)")
	case status >= 400:
		res.ErrorDetails = append(res.ErrorDetails, fmt.Sprintf("HTTP error %d", status))
	}

	content := strings.ToLower(string(body))
	for _, sig := range Signatures {
		if strings.Contains(content, sig) {
			res.HasErrors = true
			res.ErrorDetails = append(res.ErrorDetails, sig)
		}
	}
	return res
}

// CheckErrorLogs tails the debug log and collects lines mentioning fatal,
// error or warning, keeping the last MaxRecentErrors. A missing log file is
// not an error.
func (p *Prober) CheckErrorLogs(ctx context.Context, path string, tail int) (LogCheck, error) {
	lc := LogCheck{LogPath: path, RecentErrors: []string{}}
	if p.exec == nil {
		return lc, fmt.Errorf("no executor configured for log scan")
	}
	if tail <= 0 {
		tail = p.tail
	}

	out, err := p.exec.Execute(ctx, fmt.Sprintf("tail -n %d %s 2>/dev/null || true", tail, remote.Quote(path)), p.logTimeout)
	if err != nil {
		return lc, err
	}

	lines := ErrorLines(out)
	if p.filter != nil {
		lines = p.filter.FilterLines(lines)
	}
	if len(lines) > MaxRecentErrors {
		lines = lines[len(lines)-MaxRecentErrors:]
	}
	lc.RecentErrors = lines
	lc.HasRecentErrors = len(lines) > 0
	return lc, nil
}

// ErrorLines returns trimmed lines containing fatal, error or warning.
func ErrorLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range logKeywords {
			if strings.Contains(lower, kw) {
				out = append(out, strings.TrimSpace(line))
				break
			}
		}
	}
	return out
}

// Tail returns the last n raw lines of a log file.
func (p *Prober) Tail(ctx context.Context, path string, n int) ([]string, error) {
	if p.exec == nil {
		return nil, fmt.Errorf("no executor configured for log scan")
	}
	out, err := p.exec.Execute(ctx, fmt.Sprintf("tail -n %d %s", n, remote.Quote(path)), p.logTimeout)
	if err != nil {
		return nil, err
	}
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return []string{}, nil
	}
	return strings.Split(out, "\n"), nil
}

// ClearLog truncates the debug log, creating it when missing.
func (p *Prober) ClearLog(ctx context.Context, path string) error {
	if p.exec == nil {
		return fmt.Errorf("no executor configured for log scan")
	}
	_, err := p.exec.Execute(ctx, fmt.Sprintf(": > %s", remote.Quote(path)), p.logTimeout)
	return err
}
