package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// StatusOverloaded is the non-standard status Anthropic uses for overload.
const StatusOverloaded = 529

// UpstreamError reports a failure of the remote model service. Retryable is
// decided from the status code or transport condition, never from message text.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s upstream unavailable: status=%d retryable=%t: %s", e.Provider, e.StatusCode, e.Retryable, e.Message)
	}
	return fmt.Sprintf("%s upstream unavailable: retryable=%t: %s", e.Provider, e.Retryable, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is an upstream failure worth retrying.
func IsRetryable(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retryable
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		StatusOverloaded:
		return true
	default:
		return false
	}
}

// NewStatusError classifies a non-2xx response.
func NewStatusError(provider string, statusCode int, message string, err error) *UpstreamError {
	return &UpstreamError{
		Provider:   provider,
		StatusCode: statusCode,
		Retryable:  retryableStatus(statusCode),
		Message:    augmentProviderError(provider, statusCode, message),
		Err:        err,
	}
}

// classifyTransportError wraps errors that never produced a response. A
// deadline or network timeout is retryable; caller cancellation is not.
func classifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return err
	}
	retryable := false
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		retryable = false
	case errors.Is(err, context.DeadlineExceeded):
		retryable = true
	case errors.As(err, &netErr) && netErr.Timeout():
		retryable = true
	}
	return &UpstreamError{
		Provider:  provider,
		Retryable: retryable,
		Message:   err.Error(),
		Err:       err,
	}
}
