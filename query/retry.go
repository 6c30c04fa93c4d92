package query

import (
	"context"
	"errors"

	"github.com/erpc/contractreads/common"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

func createRetryPolicy(cfg *common.RetryPolicyConfig) failsafe.Policy[any] {
	builder := retrypolicy.Builder[any]()

	if cfg.MaxAttempts > 0 {
		builder = builder.WithMaxAttempts(cfg.MaxAttempts)
	}
	if cfg.Delay > 0 {
		if cfg.BackoffMaxDelay > 0 {
			if cfg.BackoffFactor > 0 {
				builder = builder.WithBackoffFactor(cfg.Delay.Duration(), cfg.BackoffMaxDelay.Duration(), cfg.BackoffFactor)
			} else {
				builder = builder.WithBackoff(cfg.Delay.Duration(), cfg.BackoffMaxDelay.Duration())
			}
		} else {
			builder = builder.WithDelay(cfg.Delay.Duration())
		}
	}
	if cfg.Jitter > 0 {
		builder = builder.WithJitter(cfg.Jitter.Duration())
	}

	builder.HandleIf(func(_ failsafe.ExecutionAttempt[any], _ any, err error) bool {
		return isRetryable(err)
	})

	return builder.Build()
}

// isRetryable is false for failures that would fail the same way on the next attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !common.HasErrorCode(
		err,
		common.ErrCodeCallReverted,
		common.ErrCodeCallDecodeFailed,
		common.ErrCodeCallEncodeFailed,
		common.ErrCodeInvalidConfig,
		common.ErrCodeChainClientNotFound,
		common.ErrCodeQueryCancelled,
	)
}

func translateRetryError(err error) error {
	var exceeded retrypolicy.ExceededError
	if errors.As(err, &exceeded) && exceeded.LastError != nil {
		return exceeded.LastError
	}
	return err
}
