package remote

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttled wraps an Executor with a token-bucket limit on command starts.
// Shared hosts tend to kill sessions that fire many PHP processes at once.
type Throttled struct {
	next    Executor
	limiter *rate.Limiter
}

// NewThrottled limits next to perSecond commands. A non-positive rate
// returns next unchanged.
func NewThrottled(next Executor, perSecond float64) Executor {
	if perSecond <= 0 {
		return next
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Execute waits for a token, then delegates.
func (t *Throttled) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.next.Execute(ctx, command, timeout)
}

// Close closes the wrapped executor when it supports closing.
func (t *Throttled) Close() error {
	if c, ok := t.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
