package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pharmascraper/pkg/config"
)

// Pacer blocks between requests
type Pacer interface {
	// Pause waits for the next request slot or until ctx is cancelled
	Pause(ctx context.Context) error
}

// PolitePacer waits a random delay in [min, max] and honours an optional rate cap
type PolitePacer struct {
	min     time.Duration
	max     time.Duration
	limiter *rate.Limiter

	mu   sync.Mutex
	rand *rand.Rand

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
	total time.Duration
}

// NewPacer creates a pacer from the crawl and rate limit settings
func NewPacer(crawl config.CrawlConfig, rl config.RateLimitConfig) *PolitePacer {
	p := &PolitePacer{
		min:   crawl.MinWait,
		max:   crawl.MaxWait,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
	if rl.RequestsPerMinute > 0 {
		burst := rl.BurstSize
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.RequestsPerMinute)), burst)
	}
	return p
}

// Delay draws the next politeness delay
func (p *PolitePacer) Delay() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min + time.Duration(p.rand.Int63n(int64(p.max-p.min)+1))
}

// Pause waits for the rate cap, then for a random politeness delay
func (p *PolitePacer) Pause(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	d := p.Delay()
	if err := p.sleep(ctx, d); err != nil {
		return err
	}
	p.mu.Lock()
	p.total += d
	p.mu.Unlock()
	return nil
}

// TotalDelay returns the time spent in politeness delays so far
func (p *PolitePacer) TotalDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
