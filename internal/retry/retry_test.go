package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return New(errors.New("temporary error"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad token")
	attempts := 0
	err := Do(context.Background(), testPolicy(), func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testPolicy(), func() error {
		attempts++
		return New(errors.New("still down"))
	})
	if err == nil {
		t.Fatal("expected error after max retries")
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, testPolicy(), func() error {
		return WithDelay(errors.New("slow down"), time.Hour)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	policy := testPolicy()
	if got := Backoff(policy, 0); got != 5*time.Millisecond {
		t.Errorf("attempt 0 backoff = %v, want 5ms", got)
	}
	if got := Backoff(policy, 10); got != policy.MaxBackoff {
		t.Errorf("attempt 10 backoff = %v, want %v", got, policy.MaxBackoff)
	}

	policy.Jitter = true
	for i := 0; i < 20; i++ {
		got := Backoff(policy, 1)
		if got < 9*time.Millisecond || got > 11*time.Millisecond {
			t.Fatalf("jittered backoff %v outside +/-10%% of 10ms", got)
		}
	}
}

func TestFromResponse(t *testing.T) {
	base := errors.New("status")
	tests := []struct {
		status     int
		retryAfter string
		retryable  bool
		delay      time.Duration
	}{
		{status: http.StatusTooManyRequests, retryAfter: "7", retryable: true, delay: 7 * time.Second},
		{status: http.StatusBadGateway, retryable: true},
		{status: http.StatusUnauthorized, retryable: false},
		{status: http.StatusNotFound, retryable: false},
	}

	for _, tc := range tests {
		resp := &http.Response{StatusCode: tc.status, Header: http.Header{}}
		if tc.retryAfter != "" {
			resp.Header.Set("Retry-After", tc.retryAfter)
		}
		err := FromResponse(resp, base)
		if IsRetryable(err) != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, IsRetryable(err), tc.retryable)
		}
		var re *RetryableError
		if tc.delay > 0 && (!errors.As(err, &re) || re.RetryAfter != tc.delay) {
			t.Errorf("status %d: expected retry after %v", tc.status, tc.delay)
		}
	}
}
