package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
	"github.com/capitalize-ai/unified-inbox/internal/store"
)

var (
	ErrNotFound          = store.ErrNotFound
	ErrConflict          = store.ErrConflict
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotRetryable      = errors.New("message is not in a failed state")
	ErrReconnectRequired = errors.New("reconnect required")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrSendFailed        = errors.New("send failed")
	ErrUpstreamTransient = errors.New("upstream transient error")
	ErrUnavailable       = errors.New("feature unavailable")
	ErrNotConnected      = errors.New("channel is not connected")
)

// ReconnectRequiredError means a channel credential is unusable until the
// tenant authorizes the platform again.
type ReconnectRequiredError struct {
	Platform model.Channel
	Cause    error
}

func (e *ReconnectRequiredError) Error() string {
	return fmt.Sprintf("%s connection expired; reconnect %s to continue", e.Platform.DisplayName(), e.Platform.DisplayName())
}

func (e *ReconnectRequiredError) Unwrap() []error { return []error{ErrReconnectRequired, e.Cause} }

// QuotaExceededError means a metered resource is exhausted for the window.
type QuotaExceededError struct {
	Status model.UsageStatus
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d of %d used, resets at %s",
		e.Status.Resource, e.Status.Used, e.Status.Limit, e.Status.ResetAt.UTC().Format(time.RFC3339))
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// SendFailedError means the platform rejected an outbound message.
type SendFailedError struct {
	MessageID string
	Reason    string
	Cause     error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("message %s could not be delivered: %s", e.MessageID, e.Reason)
}

func (e *SendFailedError) Unwrap() []error { return []error{ErrSendFailed, e.Cause} }

// UpstreamTransientError is a refresh failure absorbed while the current
// token is still valid.
type UpstreamTransientError struct {
	Platform model.Channel
	Cause    error
}

func (e *UpstreamTransientError) Error() string {
	return fmt.Sprintf("%s token refresh failed, using current token: %v", e.Platform, e.Cause)
}

func (e *UpstreamTransientError) Unwrap() []error { return []error{ErrUpstreamTransient, e.Cause} }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
