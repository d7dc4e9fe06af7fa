package retry

import (
	"context"
	"time"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/classify"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/cenkalti/backoff/v4"
)

// RunManager is the subset of internal/runmanager's contract that the
// retrier reports retry bookkeeping to (§4.2, §4.5).
type RunManager interface {
	AddRetryAttempt(ctx context.Context, stage domain.StageName, attempt int, delay time.Duration, reason string) error
	RecordStageFailure(ctx context.Context, stage domain.StageName, attempt int, classified *domain.ClassifiedError, elapsed time.Duration) error
	RecordRecovery(ctx context.Context, stage domain.StageName, attempts int) error
}

// newBackOff builds an exponential backoff generator matching policy:
// doubling delay, capped at MaxDelay, jittered by ±Jitter.
func newBackOff(policy Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = policy.Jitter
	b.MaxElapsedTime = 0 // attempts are capped by policy.MaxAttempts, not elapsed time
	b.Reset()
	return b
}

// RetryStage executes attemptFn under policy, classifying every failure
// (C1) and reporting retry bookkeeping to rm (§4.2). It returns the
// attempt's result, the number of attempts made, and — on exhaustion or a
// non-retryable failure — the classified error.
func RetryStage[T any](
	ctx context.Context,
	stage domain.StageName,
	attemptFn func(ctx context.Context) (T, error),
	rm RunManager,
	policy Policy,
) (T, int, error) {
	b := newBackOff(policy)
	started := time.Now()

	attempts := 0
	for {
		attempts++
		result, err := attemptFn(ctx)
		if err == nil {
			if attempts > 1 {
				_ = rm.RecordRecovery(ctx, stage, attempts)
			}
			return result, attempts, nil
		}

		classified := classify.Classify(err, stage)
		if !classified.Retryable || attempts >= policy.MaxAttempts {
			_ = rm.RecordStageFailure(ctx, stage, attempts, classified, time.Since(started))
			var zero T
			return zero, attempts, classified
		}

		delay := b.NextBackOff()
		_ = rm.AddRetryAttempt(ctx, stage, attempts, delay, classified.UserMessage)

		select {
		case <-ctx.Done():
			var zero T
			cancelled := classify.Classify(ctx.Err(), stage)
			_ = rm.RecordStageFailure(ctx, stage, attempts, cancelled, time.Since(started))
			return zero, attempts, cancelled
		case <-time.After(delay):
		}
	}
}
