// pkg/execute/retry.go

package execute

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Retry runs cmd through r until it succeeds or attempts are exhausted,
// waiting delay between attempts. The runner itself never retries; this
// sits on top for callers wrapping flaky backends.
//
// Validation failures and cancellations return immediately; retrying
// cannot change either. After exhaustion the last failure is returned
// with the attempt count attached, and the typed error stays reachable
// through the chain.
func Retry(ctx context.Context, r *Runner, cmd Command, attempts int, delay time.Duration) (Result, error) {
	if attempts < 1 {
		attempts = 1
	}

	var res Result
	var err error
	for i := 1; i <= attempts; i++ {
		res, err = r.Run(ctx, cmd)
		if err == nil {
			if i > 1 {
				r.log.Info("Command succeeded after retry",
					zap.String("command", cmd.Name),
					zap.Int("attempt", i))
			}
			return res, nil
		}
		if IsKind(err, KindValidation) || IsKind(err, KindCancelled) {
			return res, err
		}
		if i == attempts {
			break
		}

		r.log.Warn("Command failed, will retry",
			zap.String("command", cmd.Name),
			zap.Int("attempt", i),
			zap.Int("remaining", attempts-i),
			zap.Error(err))

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return res, err
			}
		}
	}

	if attempts == 1 {
		return res, err
	}
	return res, cerr.Wrapf(err, "all %d attempts failed", attempts)
}
