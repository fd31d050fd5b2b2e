package retry

import (
	"context"
	"testing"
	"time"

	"pharmascraper/pkg/config"
	errs "pharmascraper/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		MinDelay:     100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{0, 0, "No attempt"},
		{1, 100 * time.Millisecond, "First retry"},
		{2, 200 * time.Millisecond, "Second retry"},
		{3, 400 * time.Millisecond, "Third retry"},
		{4, 800 * time.Millisecond, "Fourth retry"},
		{5, 1 * time.Second, "Fifth retry (capped at max)"},
		{9, 1 * time.Second, "Ninth retry (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if delay := backoff.NextDelay(test.attempt); delay != test.expected {
				t.Errorf("Expected delay %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestExponentialBackoffJitterStaysInWindow(t *testing.T) {
	backoff := NewExponentialBackoff(2*time.Second, 4*time.Second, 2.0)

	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		r := r
		backoff.Rand = func() float64 { return r }
		for attempt := 1; attempt <= 5; attempt++ {
			delay := backoff.NextDelay(attempt)
			if delay < 2*time.Second || delay > 4*time.Second {
				t.Errorf("attempt %d rand %.3f: delay %v outside [2s, 4s]", attempt, r, delay)
			}
		}
	}

	// jitter actually varies the first delay above the lower bound
	backoff.Rand = func() float64 { return 0.999 }
	if d := backoff.NextDelay(1); d <= 2*time.Second {
		t.Errorf("expected positive jitter above the minimum, got %v", d)
	}
}

func TestPolicyDecide(t *testing.T) {
	policy := &Policy{MaxAttempts: 3, Backoff: &ConstantBackoff{Delay: 50 * time.Millisecond}}

	tests := []struct {
		name    string
		attempt int
		kind    errs.Kind
		retry   bool
	}{
		{"first timeout", 1, errs.KindTimeout, true},
		{"second navigation", 2, errs.KindNavigation, true},
		{"third timeout exhausts", 3, errs.KindTimeout, false},
		{"parse never retried", 1, errs.KindParse, false},
		{"fatal never retried", 1, errs.KindFatal, false},
		{"unknown never retried", 1, errs.KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Decide(tt.attempt, tt.kind)
			if d.ShouldRetry() != tt.retry {
				t.Fatalf("Decide(%d, %s) = %s (%s), want retry=%v", tt.attempt, tt.kind, d.Action, d.Reason, tt.retry)
			}
			if d.ShouldRetry() && d.Delay != 50*time.Millisecond {
				t.Errorf("expected backoff delay, got %v", d.Delay)
			}
			if !d.ShouldRetry() && d.Delay != 0 {
				t.Errorf("give up should carry no delay, got %v", d.Delay)
			}
		})
	}
}

// With MaxAttempts r, r-1 transient failures still leave one attempt.
func TestPolicyAttemptBound(t *testing.T) {
	for r := 1; r <= 5; r++ {
		policy := &Policy{MaxAttempts: r}
		retries := 0
		for attempt := 1; ; attempt++ {
			if !policy.Decide(attempt, errs.KindTimeout).ShouldRetry() {
				break
			}
			retries++
		}
		if retries != r-1 {
			t.Errorf("MaxAttempts=%d: got %d retries, want %d", r, retries, r-1)
		}
	}
}

func TestNewPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Crawl
	policy := NewPolicy(cfg)

	if policy.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", policy.MaxAttempts)
	}
	d := policy.Decide(1, errs.KindOf(errs.Timeout("fetch", context.DeadlineExceeded)))
	if !d.ShouldRetry() || d.Delay < cfg.MinWait || d.Delay > cfg.MaxWait {
		t.Errorf("unexpected decision %+v", d)
	}
}

func TestWait(t *testing.T) {
	if err := Wait(context.Background(), 10*time.Millisecond); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Wait(ctx, time.Minute); err != context.Canceled {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait() did not return promptly on cancellation")
	}
}
