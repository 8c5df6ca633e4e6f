package artifact

import (
	"context"
	"time"

	"github.com/jvreagan/fabric-deploy/pkg/fabric"
	"github.com/jvreagan/fabric-deploy/pkg/logging"
)

// withRetry runs op under the upload retry policy:
//
//   - invalid content, conflicts, and other permanent failures are returned
//     immediately
//   - auth expiry invalidates the cached credential and retries exactly
//     once; a second expiry is returned
//   - rate-limited failures wait the service-mandated delay when present,
//     else the current backoff
//   - transient failures wait the current backoff, doubling per attempt
//
// Rate-limited and transient failures share the bounded attempt budget.
func (u *Uploader) withRetry(ctx context.Context, name string, op func() error) error {
	backoff := u.initialBackoff
	authRetried := false

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		switch fabric.ErrorKind(err) {
		case fabric.KindAuthExpired:
			if authRetried {
				return err
			}
			authRetried = true
			logging.Warn("credential rejected, refreshing and retrying", "artifact", name)
			u.creds.Invalidate()
			// Does not consume a transient attempt.
			attempt--

		case fabric.KindRateLimited:
			if attempt >= u.maxAttempts {
				return err
			}
			delay := fabric.RetryAfter(err)
			if delay <= 0 {
				delay = backoff
				backoff *= 2
			}
			logging.Warn("rate limited, waiting", "artifact", name, "delay", delay.String(), "attempt", attempt)
			if err := sleep(ctx, delay); err != nil {
				return err
			}

		case fabric.KindTransient:
			if attempt >= u.maxAttempts {
				return err
			}
			logging.Warn("transient failure, retrying", "artifact", name, "delay", backoff.String(), "attempt", attempt, "error", err.Error())
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2

		default:
			return err
		}
	}
}

// sleep waits for d or until the context is done.
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
