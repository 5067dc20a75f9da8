package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// fakeClock advances only when slept on
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// countingLimiter counts Wait calls and records quota updates
type countingLimiter struct {
	mu        sync.Mutex
	waits     int
	remaining int
	resetTime time.Time
	updates   int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return nil
}

func (l *countingLimiter) CheckLimit() (int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining, l.resetTime
}

func (l *countingLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = remaining
	l.resetTime = resetTime
	l.updates++
}

func (l *countingLimiter) Waits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waits
}

func makeItems(start, n int) []domain.RawRecord {
	items := make([]domain.RawRecord, n)
	for i := range items {
		items[i] = domain.RawRecord(fmt.Sprintf(`{"id":%d}`, start+i))
	}
	return items
}

func day(s string) domain.Partition {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return domain.DayPartition(t)
}

func testQuery(date string) domain.Query {
	return domain.Query{
		Filters:   domain.NewFilters(domain.Predicate{Qualifier: "stars", Value: ">=1"}),
		Partition: day(date),
	}
}
