package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
		{529, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableUnwrapsProviderError(t *testing.T) {
	wrapped := fmt.Errorf("generate: %w", &ProviderError{Provider: "anthropic", StatusCode: 529})
	if !IsRetryable(wrapped) {
		t.Fatalf("IsRetryable(529) = false, want true")
	}
	if IsRetryable(&ProviderError{Provider: "anthropic", StatusCode: 400}) {
		t.Fatalf("IsRetryable(400) = true, want false")
	}
	if !IsRetryable(fmt.Errorf("x: %w", context.DeadlineExceeded)) {
		t.Fatalf("IsRetryable(deadline) = false, want true")
	}
	if IsRetryable(errors.New("boom")) {
		t.Fatalf("IsRetryable(plain) = true, want false")
	}
}

func TestCode(t *testing.T) {
	if got := Code(&ProviderError{Provider: "openai", StatusCode: 502}); got != "http_502" {
		t.Fatalf("Code() = %q, want http_502", got)
	}
	if got := Code(context.DeadlineExceeded); got != "timeout" {
		t.Fatalf("Code() = %q, want timeout", got)
	}
}
