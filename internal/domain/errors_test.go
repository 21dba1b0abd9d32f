package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"timeout", NewTimeoutError("openai", nil), true},
		{"provider 500", NewProviderError("openai", 500, "upstream", nil), true},
		{"provider 429", NewProviderError("openai", 429, "slow down", nil), true},
		{"provider transport", NewProviderError("openai", 0, "conn reset", nil), true},
		{"provider 400", NewProviderError("openai", 400, "bad prompt", nil), false},
		{"validation", NewValidationError("missing model"), false},
		{"quota", NewQuotaError("monthly tokens", 100, 120), false},
		{"rate limit", NewRateLimitError(60, time.Minute), false},
		{"not supported", NewNotSupportedError("local", OperationImage), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewProviderError("anthropic", 502, "bad gateway", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}

	wrapped := fmt.Errorf("invoke: %w", err)
	var ge *Error
	if !errors.As(wrapped, &ge) {
		t.Fatal("expected errors.As to find *Error through wrapping")
	}
	if ge.Code != ErrCodeProvider || ge.Provider != "anthropic" {
		t.Errorf("unexpected error: %+v", ge)
	}
}

func TestAsError(t *testing.T) {
	ge := AsError(NewAuthError("no user"))
	if ge.Code != ErrCodeAuth || ge.StatusCode != 401 {
		t.Errorf("unexpected: %+v", ge)
	}

	foreign := errors.New("disk full")
	ge = AsError(foreign)
	if ge.Code != ErrCodeInternal {
		t.Errorf("foreign errors must normalize to INTERNAL, got %s", ge.Code)
	}
	if !errors.Is(ge, foreign) {
		t.Error("normalized error must keep the cause")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("lookup: %w", NewRateLimitError(10, time.Second))); got != ErrCodeRateLimited {
		t.Errorf("CodeOf = %s, want RATE_LIMITED", got)
	}
	if got := CodeOf(errors.New("whatever")); got != ErrCodeInternal {
		t.Errorf("CodeOf = %s, want INTERNAL", got)
	}
}

func TestErrorString(t *testing.T) {
	err := NewProviderError("google", 503, "overloaded", nil)
	if got := err.Error(); got != "PROVIDER_ERROR (google): overloaded" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewValidationError("bad").Error(); got != "VALIDATION: bad" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCapabilitiesSupports(t *testing.T) {
	caps := Capabilities{Chat: true, Embedding: true}

	if !caps.Supports(OperationChat) || !caps.Supports(OperationEmbedding) {
		t.Error("declared capabilities must be supported")
	}
	if caps.Supports(OperationImage) || caps.Supports(OperationTranscription) {
		t.Error("undeclared capabilities must not be supported")
	}
}
