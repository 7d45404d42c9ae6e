// Package retry is the shared bounded exponential-random backoff helper
// used by the Store, the Price Provider, and the chain-submission path.
// Generalizes dca/utils.py's retry loop (duplicated across
// price_data_provider.py, miner_data_handler.py, and forward.py in the
// original source) into one place, in the style of
// explorer/indexer/internal/subscriber/subscriber.go's reconnectWithRetry.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds attempts and backoff growth.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultDBPolicy is the store's bounded retry (§4.A "bounded retry").
func DefaultDBPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// DefaultPricePolicy is the price provider's bounded retry (§4.E, up to 5 attempts).
func DefaultPricePolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// DefaultChainPolicy bounds chain-submission retries (§5, "≤8 for HTTPX"
// in the original maps to the transport layer; chain calls themselves
// follow the DB/price provider's ≤5 discipline since they are logical
// RPCs, not raw HTTP fan-out).
func DefaultChainPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Retryable lets callers mark an error as non-transient so Do stops early;
// logical errors (bad input, validation failures) must not retry (§4.A).
type Retryable interface {
	Retryable() bool
}

// Permanent wraps an error to signal Do must not retry it.
type Permanent struct{ Err error }

func (p Permanent) Error() string   { return p.Err.Error() }
func (p Permanent) Unwrap() error   { return p.Err }
func (p Permanent) Retryable() bool { return false }

// Do runs fn up to p.MaxAttempts times with exponential-random backoff
// between attempts, stopping immediately if fn returns an error whose
// Retryable() reports false (such as Permanent) or ctx is cancelled.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var r Retryable
		if errors.As(err, &r) && !r.Retryable() {
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		jittered := delay + time.Duration(rand.Int63n(int64(delay)+1))
		if jittered > p.MaxDelay {
			jittered = p.MaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
