package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"recap/internal/services"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Policy bounds how often and how quickly failed steps are re-attempted.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Decision is the outcome of classifying a step failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// DefaultPolicy returns the repository default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p Policy) normalized() Policy {
	q := p
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = defaultMaxAttempts
	}
	if q.BaseDelay < 0 {
		q.BaseDelay = defaultBaseDelay
	}
	if q.MaxDelay <= 0 {
		q.MaxDelay = defaultMaxDelay
	}
	if q.MaxDelay < q.BaseDelay {
		q.MaxDelay = q.BaseDelay
	}
	return q
}

// Decide classifies err after the given 1-based attempt and returns whether
// another attempt should be made and how long to wait first.
//
// Retryable kinds are transient and timeout failures from adapters. Validation,
// configuration, and not-found failures give up immediately regardless of the
// remaining budget, as does context cancellation.
func (p Policy) Decide(err error, attempt int) Decision {
	if err == nil {
		return Decision{}
	}
	q := p.normalized()
	if attempt >= q.MaxAttempts {
		return Decision{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Decision{}
	}
	if services.IsFatal(err) {
		return Decision{}
	}
	if retryable(err) {
		return Decision{Retry: true, Delay: q.backoff(attempt)}
	}
	return Decision{}
}

func retryable(err error) bool {
	if errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout) || errors.Is(err, services.ErrExternalTool) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}

// backoff doubles the base delay per attempt: attempt 1 -> base,
// attempt 2 -> base*2, attempt 3 -> base*4, capped at MaxDelay.
func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
