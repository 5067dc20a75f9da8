package collector

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_FirstCallDoesNotWait(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(2100*time.Millisecond, clock, zerolog.Nop())

	require.NoError(t, g.Wait(context.Background()))
	assert.Empty(t, clock.Sleeps())
}

func TestGovernor_SpacesConsecutiveStarts(t *testing.T) {
	interval := 2100 * time.Millisecond
	clock := newFakeClock()
	g := NewGovernor(interval, clock, zerolog.Nop())
	rng := rand.New(rand.NewSource(42))

	var starts []time.Time
	for i := 0; i < 500; i++ {
		require.NoError(t, g.Wait(context.Background()))
		starts = append(starts, clock.Now())

		// Simulated request latency between 0 and 3s
		clock.Advance(time.Duration(rng.Int63n(int64(3 * time.Second))))
	}

	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, interval, "starts %d and %d are %v apart", i-1, i, gap)
	}
}

func TestGovernor_NoWaitWhenIntervalElapsed(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(time.Second, clock, zerolog.Nop())

	require.NoError(t, g.Wait(context.Background()))
	clock.Advance(5 * time.Second)
	require.NoError(t, g.Wait(context.Background()))

	assert.Empty(t, clock.Sleeps())
}

func TestGovernor_SleepsRemainder(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(2*time.Second, clock, zerolog.Nop())

	require.NoError(t, g.Wait(context.Background()))
	clock.Advance(500 * time.Millisecond)
	require.NoError(t, g.Wait(context.Background()))

	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, clock.Sleeps())
}

func TestGovernor_ConcurrentCallers(t *testing.T) {
	interval := time.Second
	clock := newFakeClock()
	g := NewGovernor(interval, clock, zerolog.Nop())
	begin := clock.Now()

	const callers, perCaller = 4, 5
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				assert.NoError(t, g.Wait(context.Background()))
			}
		}()
	}
	wg.Wait()

	// The last of n serialized starts is at least (n-1) intervals after the first
	assert.GreaterOrEqual(t, clock.Now().Sub(begin), time.Duration(callers*perCaller-1)*interval)
}

func TestGovernor_Cancelled(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(time.Second, clock, zerolog.Nop())
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, g.Wait(ctx), context.Canceled)
}

func TestGovernor_WaitsForQuotaReset(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(time.Second, clock, zerolog.Nop())
	reset := clock.Now().Add(30 * time.Second)

	g.UpdateLimit(0, reset)
	require.NoError(t, g.Wait(context.Background()))

	assert.False(t, clock.Now().Before(reset))
	remaining, _ := g.CheckLimit()
	assert.Equal(t, -1, remaining)
}

func TestGovernor_IgnoresQuotaWithHeadroom(t *testing.T) {
	clock := newFakeClock()
	g := NewGovernor(time.Second, clock, zerolog.Nop())

	g.UpdateLimit(12, clock.Now().Add(30*time.Second))
	require.NoError(t, g.Wait(context.Background()))

	assert.Empty(t, clock.Sleeps())
}

func TestSystemClock_Sleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, SystemClock{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SystemClock{}.Sleep(context.Background(), time.Millisecond))
}
