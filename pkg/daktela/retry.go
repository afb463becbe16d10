package daktela

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/keboola/component-daktela/pkg/errors"
	"github.com/keboola/component-daktela/pkg/metrics"
	stringpool "github.com/keboola/component-daktela/pkg/strings"
)

// RetryPolicy retries failed requests with a linear backoff: the wait after
// attempt n is n times the base delay. There is no wait after the final
// attempt. Non-retryable errors abort immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Execute runs fn until it succeeds, a non-retryable error occurs, the
// attempts are exhausted or the context is canceled. The endpoint label is
// used for logging and metrics only.
func (p RetryPolicy) Execute(ctx context.Context, logger *zap.Logger, endpoint string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "request canceled")
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !errors.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		wait := time.Duration(attempt) * p.BaseDelay
		logger.Warn("request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(lastErr))
		metrics.RetriesTotal.WithLabelValues(endpoint).Inc()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "request canceled during backoff")
		}
	}

	return errors.Wrap(lastErr, errors.ErrorTypeAPI,
		stringpool.Sprintf("request failed after %d attempts", attempts))
}
