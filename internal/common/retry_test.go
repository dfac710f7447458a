package common

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func testPacer(policy RetryConfig) (*Pacer, *[]time.Duration) {
	p := NewPacer(policy, NewSilentLogger())
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func TestCallWithRetry_TransientRetried(t *testing.T) {
	p, slept := testPacer(RetryConfig{MaxRetries: 2, Backoff: "1s"})

	calls := 0
	got, err := CallWithRetry(context.Background(), p, "test", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &APIError{StatusCode: http.StatusServiceUnavailable}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("CallWithRetry failed: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
	// One backoff sleep per failed attempt, doubling each time.
	if len(*slept) != 2 {
		t.Fatalf("slept %v, want 2 backoffs", *slept)
	}
	if (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("backoffs = %v, want 1s then 2s", *slept)
	}
}

func TestCallWithRetry_BackoffCapped(t *testing.T) {
	p, slept := testPacer(RetryConfig{MaxRetries: 3, Backoff: "40s"})

	_, err := CallWithRetry(context.Background(), p, "test", func(ctx context.Context) (int, error) {
		return 0, &APIError{StatusCode: http.StatusBadGateway}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	want := []time.Duration{40 * time.Second, 60 * time.Second, 60 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestCallWithRetry_Exhausted(t *testing.T) {
	p, _ := testPacer(RetryConfig{MaxRetries: 2, Backoff: "1s"})

	calls := 0
	_, err := CallWithRetry(context.Background(), p, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, &APIError{StatusCode: http.StatusBadGateway}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want MaxRetries+1 = 3", calls)
	}
}

func TestCallWithRetry_PermanentNotRetried(t *testing.T) {
	p, _ := testPacer(RetryConfig{MaxRetries: 2, Backoff: "1s"})

	cases := []error{
		&LookupError{SecurityID: "X", Reason: "no listings"},
		&StructuralError{Source: "timeline", Detail: "event without id"},
		&APIError{StatusCode: http.StatusUnauthorized},
	}
	for _, failure := range cases {
		calls := 0
		_, err := CallWithRetry(context.Background(), p, "test", func(ctx context.Context) (int, error) {
			calls++
			return 0, failure
		})
		if !errors.Is(err, failure) && err != failure {
			t.Errorf("err = %v, want %v", err, failure)
		}
		if calls != 1 {
			t.Errorf("%T retried %d times, want 1 call", failure, calls)
		}
	}
}

func TestCallWithRetry_PacingPause(t *testing.T) {
	p, slept := testPacer(RetryConfig{PaceEvery: 2, PacePause: "1s"})

	for i := 0; i < 4; i++ {
		if _, err := CallWithRetry(context.Background(), p, "test", func(ctx context.Context) (int, error) {
			return 0, nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Requests 2 and 4 owe a pause.
	if len(*slept) != 2 {
		t.Errorf("slept %v, want 2 pacing pauses", *slept)
	}
}

func TestCallWithRetry_EscalatedPause(t *testing.T) {
	p, slept := testPacer(RetryConfig{FailureThreshold: 2, EscalatedPause: "30s"})

	failing := func(ctx context.Context) (int, error) {
		return 0, &StructuralError{Source: "test", Detail: "boom"}
	}
	// Two failures reach the threshold; the third call owes the long pause.
	CallWithRetry(context.Background(), p, "test", failing)
	CallWithRetry(context.Background(), p, "test", failing)
	CallWithRetry(context.Background(), p, "test", failing)

	want := 30 * time.Second
	found := false
	for _, d := range *slept {
		if d == want {
			found = true
		}
	}
	if !found {
		t.Errorf("slept %v, want an escalated %v pause", *slept, want)
	}
}

func TestCallWithRetry_ContextCancelled(t *testing.T) {
	p, _ := testPacer(RetryConfig{MaxRetries: 5, Backoff: "1s"})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := CallWithRetry(ctx, p, "test", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, &APIError{StatusCode: http.StatusInternalServerError}
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after cancel", calls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{StatusCode: 500}, true},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 404}, false},
		{&APIError{StatusCode: 401}, false},
		{&LookupError{SecurityID: "X"}, false},
		{&StructuralError{Source: "x"}, false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsPermanentLookup(t *testing.T) {
	if !IsPermanentLookup(&LookupError{SecurityID: "X"}) {
		t.Error("LookupError not recognized")
	}
	if IsPermanentLookup(&APIError{StatusCode: 404}) {
		t.Error("APIError misclassified as lookup failure")
	}
}
