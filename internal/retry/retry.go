// Package retry implements the provider-aware retry policy: throttling
// signals wait out the provider-suggested delay, everything else backs off
// exponentially.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/runtheworld/internal/domain"
)

const (
	// DefaultBaseDelay seeds the exponential backoff for generic failures.
	DefaultBaseDelay = time.Second
	// DefaultThrottleDelay is used when a throttling response carries no
	// retry-after hint. Fifteen minutes matches the provider's quota window.
	DefaultThrottleDelay = 15 * time.Minute
)

// Policy controls retry behaviour. The zero value is not usable; use New.
type Policy struct {
	maxAttempts   int
	baseDelay     time.Duration
	throttleDelay time.Duration
	logger        zerolog.Logger
}

// Option tweaks a Policy.
type Option func(*Policy)

// WithBaseDelay overrides the exponential backoff base. Tests use this to
// keep waits short.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) { p.baseDelay = d }
}

// WithThrottleDelay overrides the fallback wait for throttling responses
// that carry no retry-after hint.
func WithThrottleDelay(d time.Duration) Option {
	return func(p *Policy) { p.throttleDelay = d }
}

// New builds a Policy with the given attempt bound.
func New(maxAttempts int, logger zerolog.Logger, opts ...Option) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p := Policy{
		maxAttempts:   maxAttempts,
		baseDelay:     DefaultBaseDelay,
		throttleDelay: DefaultThrottleDelay,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Do invokes op, retrying on failure until the attempt bound is exhausted.
// A *domain.ThrottledError waits the provider-suggested delay; any other
// error waits baseDelay * 2^attempt. Waits are cancellable through ctx; a
// cancelled context returns ctx.Err immediately.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var err error
	backoff := p.baseDelay

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = op()
		if err == nil {
			return nil
		}

		if attempt == p.maxAttempts-1 {
			break
		}

		delay := backoff
		if retryAfter, throttled := domain.IsThrottled(err); throttled {
			delay = retryAfter
			if delay <= 0 {
				delay = p.throttleDelay
			}
			p.logger.Warn().
				Dur("delay", delay).
				Int("attempt", attempt+1).
				Int("max_attempts", p.maxAttempts).
				Msg("provider throttled, waiting before retry")
		} else {
			backoff *= 2
			p.logger.Warn().
				Err(err).
				Dur("delay", delay).
				Int("attempt", attempt+1).
				Int("max_attempts", p.maxAttempts).
				Msg("retrying after failure")
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}
