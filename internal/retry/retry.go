// Package retry executes operations with bounded exponential backoff. Failures
// are classified by apperr: only transient errors are retried.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

// Config holds the policy knobs. Zero values fall back to the defaults.
type Config struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// NotifyFunc observes each scheduled retry.
type NotifyFunc func(attempt int, delay time.Duration, err error)

// Policy retries transient failures, waiting BaseDelay * 2^attempt before
// attempt n (1-based).
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
	notify     NotifyFunc
}

type Option func(*Policy)

// WithNotify registers a hook called before every retry sleep.
func WithNotify(fn NotifyFunc) Option {
	return func(p *Policy) { p.notify = fn }
}

func New(cfg Config, logger zerolog.Logger, opts ...Option) *Policy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 && cfg.BaseDelay == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	p := &Policy{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		logger:     logger.With().Str("component", "retry").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) MaxRetries() int          { return p.maxRetries }
func (p *Policy) BaseDelay() time.Duration { return p.baseDelay }

// Delay returns the wait before the given retry attempt (1-based).
func (p *Policy) Delay(attempt int) time.Duration {
	return p.baseDelay * time.Duration(int64(1)<<attempt)
}

func (p *Policy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay(1)
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = p.Delay(p.maxRetries + 1)
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.maxRetries)), ctx)
}

// Run executes op under the policy. Non-retryable errors return immediately;
// once retries are exhausted the last transient error is returned.
func (p *Policy) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is Run for operations that produce a value.
func Do[T any](ctx context.Context, p *Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			// the caller gave up; its own cancellation is never retried
			return v, backoff.Permanent(err)
		}
		if !apperr.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.newBackOff(ctx), func(err error, delay time.Duration) {
		attempt++
		p.logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying after transient failure")
		if p.notify != nil {
			p.notify(attempt, delay, err)
		}
	})
}
