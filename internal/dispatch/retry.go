package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	transportRetryBase = 1 * time.Second
	transportRetryMax  = 30 * time.Second
	rateLimitRetryMax  = 5 * time.Minute
)

// exponential returns a jitter-free schedule of initial * 2^n capped at max
func exponential(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryPolicy keeps separate budgets for transport failures and rate limits.
// The kind of the most recent failure picks the schedule the next delay is
// drawn from. A nil schedule means that kind is never retried.
type retryPolicy struct {
	transport backoff.BackOff
	rateLimit backoff.BackOff
	last      Kind
}

var _ backoff.BackOff = (*retryPolicy)(nil)

func newRetryPolicy(cfg Config, idempotent bool) *retryPolicy {
	p := &retryPolicy{}
	if idempotent && cfg.MaxTransportRetries > 0 {
		p.transport = backoff.WithMaxRetries(
			exponential(transportRetryBase, transportRetryMax), uint64(cfg.MaxTransportRetries))
	}
	if cfg.RetryRateLimited && cfg.MaxRateLimitRetries > 0 {
		p.rateLimit = backoff.WithMaxRetries(
			exponential(cfg.RateLimitBackoff, rateLimitRetryMax), uint64(cfg.MaxRateLimitRetries))
	}
	return p
}

func (p *retryPolicy) schedule(kind Kind) backoff.BackOff {
	switch kind {
	case KindConnection, KindTimeout:
		return p.transport
	case KindRateLimited:
		return p.rateLimit
	}
	return nil
}

// retryable reports whether a failure of kind may be retried at all
func (p *retryPolicy) retryable(kind Kind) bool {
	return p.schedule(kind) != nil
}

// failed records the kind of the attempt that just failed
func (p *retryPolicy) failed(kind Kind) {
	p.last = kind
}

func (p *retryPolicy) NextBackOff() time.Duration {
	if b := p.schedule(p.last); b != nil {
		return b.NextBackOff()
	}
	return backoff.Stop
}

func (p *retryPolicy) Reset() {
	p.last = ""
	for _, b := range []backoff.BackOff{p.transport, p.rateLimit} {
		if b != nil {
			b.Reset()
		}
	}
}
