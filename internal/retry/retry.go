// Package retry runs an operation a bounded number of times with randomized
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"fab/enumerator/internal/metrics"

	log "github.com/sirupsen/logrus"
)

var ErrExhausted = errors.New("retries exhausted")

// Policy bounds the attempts of one operation
type Policy struct {
	// MaxAttempts counts the initial attempt; values below 1 mean 1.
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// FromRetries builds a policy allowing the initial attempt plus maxRetries.
func FromRetries(maxRetries int, minBackoff, maxBackoff time.Duration) Policy {
	return Policy{
		MaxAttempts: maxRetries + 1,
		MinBackoff:  minBackoff,
		MaxBackoff:  maxBackoff,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff returns the randomized wait before the given retry (1-based).
func (p Policy) Backoff(retry int) time.Duration {
	if p.MinBackoff <= 0 {
		return 0
	}

	backoff := p.MinBackoff
	for i := 1; i < retry; i++ {
		backoff *= 2
		if p.MaxBackoff > 0 && backoff >= p.MaxBackoff {
			backoff = p.MaxBackoff
			break
		}
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	// Jitter in [50%, 100%] of the nominal backoff
	return backoff/2 + time.Duration(rand.Int64N(int64(backoff/2)+1))
}

// Do calls fn until it succeeds, returns a permanent error, ctx is done or
// the attempts are used up. The last error is wrapped in ErrExhausted in the
// latter case.
func Do(ctx context.Context, p Policy, operation string, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Debugf("✅ %s succeeded after %d attempts", operation, attempt)
			}
			return nil
		}
		lastErr = err

		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		metrics.Retries.WithLabelValues(operation).Inc()
		wait := p.Backoff(attempt)
		log.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"backoff":   wait.Round(time.Millisecond),
		}).Warnf("🔄 Attempt failed, retrying: %v", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	metrics.RetriesExhausted.WithLabelValues(operation).Inc()
	return fmt.Errorf("%s: %w after %d attempts: %w", operation, ErrExhausted, attempts, lastErr)
}
