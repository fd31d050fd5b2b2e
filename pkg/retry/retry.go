package retry

import (
	"fmt"
	"time"

	"pharmascraper/pkg/config"
	errs "pharmascraper/pkg/errors"
)

// Action is the outcome of a retry decision
type Action int

const (
	// GiveUp stops retrying the operation
	GiveUp Action = iota
	// Retry schedules another attempt after Decision.Delay
	Retry
)

func (a Action) String() string {
	if a == Retry {
		return "retry"
	}
	return "give_up"
}

// Decision is returned by Policy.Decide
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// ShouldRetry reports whether another attempt is scheduled
func (d Decision) ShouldRetry() bool {
	return d.Action == Retry
}

// Policy decides whether a failed page fetch is attempted again.
// MaxAttempts bounds the total number of attempts, the first one included.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
}

// NewPolicy builds the policy from the crawl settings. Backoff delays share the
// [MinWait, MaxWait] window used for the politeness delay.
func NewPolicy(cfg config.CrawlConfig) *Policy {
	return &Policy{
		MaxAttempts: cfg.MaxRetries,
		Backoff:     NewExponentialBackoff(cfg.MinWait, cfg.MaxWait, cfg.BackoffMultiplier),
	}
}

// Decide maps a failed attempt (1-based) and its error kind to a decision.
// Only transient kinds are retried.
func (p *Policy) Decide(attempt int, kind errs.Kind) Decision {
	if !errs.IsTransient(kind) {
		return Decision{Action: GiveUp, Reason: fmt.Sprintf("%s errors are not retried", kind)}
	}
	if attempt >= p.MaxAttempts {
		return Decision{Action: GiveUp, Reason: fmt.Sprintf("exhausted %d attempts", p.MaxAttempts)}
	}

	var delay time.Duration
	if p.Backoff != nil {
		delay = p.Backoff.NextDelay(attempt)
	}
	return Decision{Action: Retry, Delay: delay, Reason: string(kind)}
}
