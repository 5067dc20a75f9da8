package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter spaces outbound search requests
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time)
	UpdateLimit(remaining int, resetTime time.Time)
}

// Clock abstracts time so that request spacing can be tested deterministically
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Governor guarantees that no two governed calls start less than
// minInterval apart. The slot is held while sleeping, so concurrent
// callers are serialized as well.
type Governor struct {
	slot        chan struct{}
	clock       Clock
	minInterval time.Duration
	logger      zerolog.Logger

	lastStart time.Time
	started   bool

	mu        sync.Mutex
	remaining int // -1 until the API reports a value
	resetTime time.Time
}

// NewGovernor creates a governor with the given minimum interval
func NewGovernor(minInterval time.Duration, clock Clock, logger zerolog.Logger) *Governor {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Governor{
		slot:        make(chan struct{}, 1),
		clock:       clock,
		minInterval: minInterval,
		logger:      logger,
		remaining:   -1,
	}
}

// Wait blocks until it is safe to start another request
func (g *Governor) Wait(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()

	begin := g.clock.Now()
	now := begin

	// Quota exhausted: wait for the window to reset
	remaining, resetTime := g.CheckLimit()
	if remaining == 0 && now.Before(resetTime) {
		wait := resetTime.Sub(now)
		g.logger.Warn().
			Dur("wait", wait).
			Time("reset_at", resetTime).
			Msg("Search quota exhausted, waiting for reset")
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		g.mu.Lock()
		g.remaining = -1
		g.mu.Unlock()
		now = g.clock.Now()
	}

	// Ensure minimum interval since the previous start
	if g.started {
		if elapsed := now.Sub(g.lastStart); elapsed < g.minInterval {
			if err := g.clock.Sleep(ctx, g.minInterval-elapsed); err != nil {
				return err
			}
			now = g.clock.Now()
		}
	}

	g.lastStart = now
	g.started = true
	governorWaitSeconds.Observe(now.Sub(begin).Seconds())
	return nil
}

// CheckLimit returns the last quota reported by the API
func (g *Governor) CheckLimit() (remaining int, resetTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining, g.resetTime
}

// UpdateLimit records the quota from API response headers
func (g *Governor) UpdateLimit(remaining int, resetTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = remaining
	g.resetTime = resetTime
}
