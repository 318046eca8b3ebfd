package provider

import (
	"context"
	"errors"
	"time"
)

// Default per-call deadlines.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultUploadTimeout = 60 * time.Second
)

// WithTimeout runs fn under its own deadline. The call is detached from the
// caller's cancellation so an attempt runs to completion or timeout. Deadline
// expiry becomes KindTimeout; other untyped failures become KindNetwork.
func WithTimeout[T any](ctx context.Context, provider string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		d = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d)
	defer cancel()

	val, err := fn(callCtx)
	if err == nil {
		return val, nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return val, err
	}
	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
		return val, NewError(KindTimeout, provider, "request exceeded "+d.String(), err)
	}
	return val, NewError(KindNetwork, provider, "", err)
}
