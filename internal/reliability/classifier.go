package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
)

// ProviderError reports a non-success status from an upstream provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Detail     string
}

func (e *ProviderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Detail)
}

// Retryable reports whether the caller could reasonably try again later.
func (e *ProviderError) Retryable() bool {
	return IsRetryableHTTPStatus(e.StatusCode)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies retryable upstream realtime errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// IsRetryable classifies an arbitrary upstream error. It is advisory only and
// surfaces to clients; nothing in the turn pipeline retries on it.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Code returns a short machine-readable label for metrics.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return fmt.Sprintf("http_%d", pe.StatusCode)
	}
	return "error"
}

// WrapAWS converts an AWS SDK response error into a ProviderError so callers
// can classify it like any HTTP provider failure.
func WrapAWS(provider string, err error) error {
	if err == nil {
		return nil
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %w", &ProviderError{Provider: provider, StatusCode: re.HTTPStatusCode()}, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}
