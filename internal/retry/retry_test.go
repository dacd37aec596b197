package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/awsdecomm/internal/diag"
)

// fakeClock fires every wait immediately and counts the waits.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.record(d)
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return ch
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.record(d)
	go f()
	return newFiredTimer()
}

func (c *fakeClock) NewTimer(d time.Duration) clock.Timer {
	c.record(d)
	return newFiredTimer()
}

func (c *fakeClock) record(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type firedTimer struct {
	ch chan time.Time
}

func newFiredTimer() *firedTimer {
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return &firedTimer{ch: ch}
}

func (t *firedTimer) Chan() <-chan time.Time   { return t.ch }
func (t *firedTimer) Reset(time.Duration) bool { return false }
func (t *firedTimer) Stop() bool               { return false }

var errBoom = errors.New("boom")

func TestPolicy_SustainedTransientFailure(t *testing.T) {
	clk := &fakeClock{}
	p := NewPolicy(2, 3*time.Second, WithClock(clk))
	log := diag.New()

	calls := 0
	err := p.Do(context.Background(), log, "lookup host1", func(context.Context) error {
		calls++
		return Transient(errBoom)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{3 * time.Second}, clk.Sleeps())

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0], "retrying")
	assert.Contains(t, entries[1], "failed permanently after 2 attempt(s)")
}

func TestPolicy_SucceedsOnSecondAttempt(t *testing.T) {
	clk := &fakeClock{}
	p := NewPolicy(2, time.Second, WithClock(clk))
	log := diag.New()

	calls := 0
	err := p.Do(context.Background(), log, "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return Transient(errBoom)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, clk.Sleeps(), 1)
	assert.Equal(t, 1, log.Len())
}

func TestPolicy_SucceedsFirstAttempt(t *testing.T) {
	clk := &fakeClock{}
	p := NewPolicy(2, time.Second, WithClock(clk))
	log := diag.New()

	calls := 0
	err := p.Do(context.Background(), log, "op", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
	assert.Equal(t, 0, log.Len())
}

func TestPolicy_NonTransientSkipsBudget(t *testing.T) {
	clk := &fakeClock{}
	p := NewPolicy(5, time.Second, WithClock(clk))
	log := diag.New()

	calls := 0
	err := p.Do(context.Background(), log, "op", func(context.Context) error {
		calls++
		return errBoom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
	require.Equal(t, 1, log.Len())
	assert.Contains(t, log.Entries()[0], "failed permanently")
}

func TestPolicy_SingleAttempt(t *testing.T) {
	clk := &fakeClock{}
	p := NewPolicy(1, time.Second, WithClock(clk))
	log := diag.New()

	calls := 0
	err := p.Do(context.Background(), log, "op", func(context.Context) error {
		calls++
		return Transient(errBoom)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
	require.Equal(t, 1, log.Len())
	assert.Contains(t, log.Entries()[0], "failed permanently after 1 attempt(s)")
}

func TestPolicy_RetryHook(t *testing.T) {
	var ops []string
	p := NewPolicy(3, time.Second,
		WithClock(&fakeClock{}),
		WithRetryHook(func(_ context.Context, op string) { ops = append(ops, op) }),
	)

	_ = p.Do(context.Background(), diag.New(), "purge", func(context.Context) error {
		return Transient(errBoom)
	})

	assert.Equal(t, []string{"purge", "purge"}, ops)
}

// stuckClock never fires, so only the stop channel can end a delay.
type stuckClock struct {
	fakeClock
}

func (c *stuckClock) After(d time.Duration) <-chan time.Time {
	c.record(d)
	return make(chan time.Time)
}

func TestPolicy_InterruptedDelayLogsNoRetry(t *testing.T) {
	var hooked int
	clk := &stuckClock{}
	p := NewPolicy(3, time.Minute, WithClock(clk),
		WithRetryHook(func(context.Context, string) { hooked++ }))
	log := diag.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := p.Do(ctx, log, "lookup host1", func(context.Context) error {
		calls++
		cancel()
		return Transient(errBoom)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Zero(t, hooked)
	assert.Len(t, clk.Sleeps(), 1)

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0], "retrying")
	assert.Contains(t, entries[0], "lookup host1 interrupted")
}

func TestPolicy_RetryLineNamesStartedAttempt(t *testing.T) {
	p := NewPolicy(3, time.Second, WithClock(&fakeClock{}))
	log := diag.New()

	_ = p.Do(context.Background(), log, "op", func(context.Context) error {
		return Transient(errBoom)
	})

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "op failed: boom; retrying (attempt 2 of 3).", entries[0])
	assert.Equal(t, "op failed: boom; retrying (attempt 3 of 3).", entries[1])
	assert.Contains(t, entries[2], "failed permanently after 3 attempt(s)")
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0)
	assert.Equal(t, DefaultAttempts, p.attempts)
	assert.Equal(t, DefaultDelay, p.delay)
}

func TestTransient(t *testing.T) {
	assert.Nil(t, Transient(nil))
	assert.False(t, IsTransient(errBoom))

	wrapped := Transient(errBoom)
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, errBoom)
	assert.Equal(t, "boom", wrapped.Error())
}
