// Package retry holds the bounded exponential retry policy shared by every
// network-facing adapter.
package retry

import (
	"context"
	"time"

	sretry "github.com/sethvargo/go-retry"
)

const (
	DefaultAttempts = 5
	DefaultBase     = time.Second
)

// Policy retries an operation up to Attempts times, waiting Base, 2*Base,
// 4*Base, ... between attempts, plus up to Jitter.
type Policy struct {
	Attempts int
	Base     time.Duration
	Jitter   time.Duration
}

func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Base: DefaultBase}
}

func (p Policy) backoff() sretry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := sretry.NewExponential(base)
	if p.Jitter > 0 {
		b = sretry.WithJitter(p.Jitter, b)
	}
	return sretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns an error not marked Retryable, the
// attempts run out, or ctx is done. The last underlying error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return sretry.Do(ctx, p.backoff(), fn)
}

// Retryable marks err as transient. A nil err stays nil.
func Retryable(err error) error {
	return sretry.RetryableError(err)
}
