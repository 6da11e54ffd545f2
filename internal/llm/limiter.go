package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/persona-labs/persona/internal/memerr"
)

// Limiter bounds pressure on the shared LLM capability: a token-bucket rate
// limit, a cap on in-flight calls, and bounded exponential-backoff retries for
// transient failures. Exhausted retries surface as ProviderError.
type Limiter struct {
	rate        *rate.Limiter
	inflight    *semaphore.Weighted
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// NewLimiter creates a limiter allowing rps requests per second with the given
// burst, at most maxInFlight concurrent calls, and maxAttempts tries per call.
func NewLimiter(rps float64, burst, maxInFlight, maxAttempts int, logger *slog.Logger) *Limiter {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Limiter{
		rate:        rate.NewLimiter(rate.Limit(rps), burst),
		inflight:    semaphore.NewWeighted(int64(maxInFlight)),
		maxAttempts: maxAttempts,
		baseDelay:   500 * time.Millisecond,
		logger:      logger,
	}
}

// Do runs fn under the rate and concurrency limits, retrying transient
// failures with exponential backoff until attempts are exhausted.
func (l *Limiter) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := l.inflight.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.inflight.Release(1)

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := l.rate.Wait(ctx); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return &memerr.ProviderError{Op: op, Err: lastErr}
		}
		if attempt == l.maxAttempts {
			break
		}

		delay := l.baseDelay << (attempt - 1)
		l.logger.Warn("provider call failed, backing off",
			"op", op, "attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return &memerr.ProviderError{Op: op, Err: lastErr}
}
