// Package retry runs cache and database writes with bounded exponential backoff.
// Calls to the generation provider never go through here.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceswap-gateway/internal/logging"
)

// Policy bounds the number of attempts and the backoff between them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is used for Redis and database writes.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// Do calls fn until it succeeds, returns a non-transient error, or runs out of attempts.
// Any returned error is a *logging.OperationError.
func Do(ctx context.Context, logger *zap.Logger, policy Policy, operation, requestID string, fn func() error) error {
	if policy.Attempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := policy.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, requestID)
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= policy.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == policy.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: attempt + 1, Err: err}
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: policy.Attempts, Err: err}
}

// IsTransient reports whether err looks like a timeout or a temporary network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
