// Package orchestrator implements the durable workflow runtime: it
// sequences Activity Set calls with explicit retry and timeout policies,
// under deterministic workflow ids that make client retries idempotent.
// Grounded on the teacher's internal/orchestrator.HandleCommandMessage
// (the transient-vs-permanent error split that decides retry-vs-DLQ, and
// per-correlation-id dedupe) and internal/orchestrator.dedupe.go's
// DedupeStore (reused here, generalized, as the serialization lock per
// business key), with the Kafka transport itself dropped: this service's
// workflows are invoked in-process by the Document Service rather than off
// a queue.
package orchestrator

import (
	"context"
	"time"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/config"
)

// RetryPolicy controls how a failed activity call is retried.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaxInterval        time.Duration
	MaxAttempts        int
}

// DefaultRetryPolicy mirrors the spec defaults: 1s initial, x2 backoff, 60s
// cap, 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    1 * time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        60 * time.Second,
		MaxAttempts:        5,
	}
}

// RetryPolicyFromConfig builds a RetryPolicy from loaded OrchestratorConfig.
func RetryPolicyFromConfig(cfg config.OrchestratorConfig) RetryPolicy {
	return RetryPolicy{
		InitialInterval:    cfg.RetryInitialInterval,
		BackoffCoefficient: cfg.RetryBackoffCoefficient,
		MaxInterval:        cfg.RetryMaxInterval,
		MaxAttempts:        cfg.RetryMaxAttempts,
	}
}

// TimeoutPolicy bounds a workflow's total run time and each activity's
// individual run time.
type TimeoutPolicy struct {
	ScheduleToClose time.Duration
	ActivityStartToClose time.Duration
}

// DefaultTimeoutPolicy mirrors the spec defaults: 300s schedule-to-close,
// 30s per-activity start-to-close.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{ScheduleToClose: 300 * time.Second, ActivityStartToClose: 30 * time.Second}
}

// TimeoutPolicyFromConfig builds a TimeoutPolicy from loaded OrchestratorConfig.
func TimeoutPolicyFromConfig(cfg config.OrchestratorConfig) TimeoutPolicy {
	return TimeoutPolicy{
		ScheduleToClose:      cfg.ScheduleToCloseTimeout,
		ActivityStartToClose: cfg.ActivityStartToClose,
	}
}

// RunActivity executes fn under the given retry policy, bounding each
// attempt by the policy's activity start-to-close timeout and retrying only
// when the failure's apperr.Kind is retryable. It mirrors the teacher's
// transient/permanent split in HandleCommandMessage, generalized from a
// string heuristic (isTransientError) to the apperr taxonomy shared across
// this service.
func RunActivity[T any](ctx context.Context, retry RetryPolicy, activityTimeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	interval := retry.InitialInterval
	if interval <= 0 {
		interval = DefaultRetryPolicy().InitialInterval
	}
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy().MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if activityTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, activityTimeout)
		}
		result, err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !apperr.KindOf(err).Retryable() || attempt == maxAttempts {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}
		interval *= time.Duration(retry.BackoffCoefficient)
		if interval > retry.MaxInterval && retry.MaxInterval > 0 {
			interval = retry.MaxInterval
		}
	}
	return zero, lastErr
}
