package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrierRunStopsOnSuccess(t *testing.T) {
	r := NewRetrier(3, time.Millisecond)
	calls := 0
	err := r.Run(context.Background(), func(error) bool { return true }, func() error {
		calls++
		if calls == 2 {
			return nil
		}
		return errors.New("rate limit")
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetrierRunStopsOnNonRetryable(t *testing.T) {
	r := NewRetrier(5, time.Millisecond)
	calls := 0
	err := r.Run(context.Background(), func(error) bool { return false }, func() error {
		calls++
		return errors.New("invalid request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestRetrierRunRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(5, 50*time.Millisecond)
	calls := 0
	cancel()
	err := r.Run(ctx, func(error) bool { return true }, func() error {
		calls++
		return errors.New("rate limit")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetryableErrorClassifiesTransientFailures(t *testing.T) {
	cases := map[string]bool{
		"429 rate limit exceeded":     true,
		"received 503 from upstream":  true,
		"context deadline exceeded":   true,
		"dial tcp: connection reset":  true,
		"invalid api key":             false,
		"schema validation failed":    false,
	}
	for msg, want := range cases {
		if got := isRetryableError(errors.New(msg)); got != want {
			t.Errorf("isRetryableError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestProviderErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := wrapProviderError("anthropic", "claude-sonnet-4", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to unwrap to cause")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected non-empty error message")
	}
}
