package indexer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRetryBase = 100 * time.Millisecond
	maxRetryDelay    = 30 * time.Second
)

// backoff yields exponentially growing waits capped at maxRetryDelay.
type backoff struct {
	base time.Duration
}

// delay returns the wait before retry number attempt, counting from zero.
func (b backoff) delay(attempt int) time.Duration {
	d := b.base
	if d <= 0 {
		d = defaultRetryBase
	}
	for i := 0; i < attempt; i++ {
		if d >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		d *= 2
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// retrier runs chain calls for the runner, counting and logging each failure.
type retrier struct {
	attempts int
	wait     backoff
	metrics  *Metrics
	logger   *zap.Logger
}

func newRetrier(maxRetries int, base time.Duration, metrics *Metrics, logger *zap.Logger) retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return retrier{attempts: maxRetries + 1, wait: backoff{base: base}, metrics: metrics, logger: logger}
}

// do calls fn until it succeeds or the attempts run out. Cancellation of ctx
// ends the loop without another attempt.
func (r retrier) do(ctx context.Context, call string, fn func(context.Context) error, fields ...zap.Field) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, r.wait.delay(attempt-1)); werr != nil {
				return werr
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.metrics.observeRetry(call)
		r.logger.Warn("chain call failed", append(fields, zap.String("call", call), zap.Int("attempt", attempt+1), zap.Error(err))...)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
