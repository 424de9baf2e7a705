package engine

import "context"

// maxUpgradeAttempts bounds the package operation retry loop. Retries are
// cheap and idempotent at the package-manager level, so there is no backoff.
const maxUpgradeAttempts = 3

// withRetry runs op up to attempts times, stopping on the first success.
// onRetry is called between attempts with the attempt number and its error.
// After exhaustion the last error is returned.
func withRetry(ctx context.Context, attempts int, op func(context.Context) error, onRetry func(attempt int, err error)) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts && onRetry != nil {
			onRetry(attempt, lastErr)
		}
	}
	return lastErr
}
