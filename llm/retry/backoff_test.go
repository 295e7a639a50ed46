package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/o3willard-AI/alcs-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fakeClock advances only when Sleep is called or a test moves it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
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
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBackoffRetryer_Success(t *testing.T) {
	clock := newFakeClock()
	retryer := NewBackoffRetryer(PolicyWithCeiling(time.Minute), zap.NewNop(), WithClock(clock))

	callCount := 0
	err := retryer.Do(context.Background(), "generate", func(ctx context.Context) error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
	assert.Empty(t, clock.sleeps)
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	clock := newFakeClock()
	retryer := NewBackoffRetryer(PolicyWithCeiling(time.Minute), zap.NewNop(), WithClock(clock))

	callCount := 0
	err := retryer.Do(context.Background(), "generate", func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.sleeps)
}

func TestBackoffRetryer_CeilingSchedule(t *testing.T) {
	clock := newFakeClock()
	retryer := NewBackoffRetryer(PolicyWithCeiling(6000*time.Millisecond), zap.NewNop(), WithClock(clock))

	callCount := 0
	cause := errors.New("503 service unavailable")
	err := retryer.Do(context.Background(), "review", func(ctx context.Context) error {
		callCount++
		return cause
	})

	require.Error(t, err)
	// attempts at t=0, t=1s, t=3s; the next sleep of 4s would end at 7s.
	assert.Equal(t, 3, callCount)
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}, clock.sleeps)

	assert.True(t, types.IsCode(err, types.ErrEndpointUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "review")
}

func TestBackoffRetryer_SlowAttemptsCountAgainstCeiling(t *testing.T) {
	clock := newFakeClock()
	retryer := NewBackoffRetryer(PolicyWithCeiling(10*time.Second), zap.NewNop(), WithClock(clock))

	callCount := 0
	err := retryer.Do(context.Background(), "generate", func(ctx context.Context) error {
		callCount++
		clock.Advance(4 * time.Second)
		return errors.New("timeout")
	})

	require.Error(t, err)
	// t=4 fail, sleep 1 -> t=5, t=9 fail, 9+2 >= 10 stop.
	assert.Equal(t, 2, callCount)
	assert.Equal(t, []time.Duration{time.Second}, clock.sleeps)
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	clock := newFakeClock()
	retryer := NewBackoffRetryer(PolicyWithCeiling(time.Minute), zap.NewNop(), WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0
	err := retryer.Do(ctx, "generate", func(ctx context.Context) error {
		callCount++
		cancel()
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, callCount)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, types.IsCode(err, types.ErrEndpointUnavailable))
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	clock := newFakeClock()
	var seen []int
	policy := PolicyWithCeiling(time.Minute)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop(), WithClock(clock))

	callCount := 0
	_ = retryer.Do(context.Background(), "x", func(ctx context.Context) error {
		callCount++
		if callCount < 4 {
			return errors.New("fail")
		}
		return nil
	})

	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestCalculateDelay_CapsAtMax(t *testing.T) {
	r := NewBackoffRetryer(nil, nil).(*ceilingRetryer)

	assert.Equal(t, 1*time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(2))
	assert.Equal(t, 128*time.Second, r.calculateDelay(8))
	assert.Equal(t, 256*time.Second, r.calculateDelay(9))
	assert.Equal(t, 256*time.Second, r.calculateDelay(40))
}

func TestNewBackoffRetryer_Defaults(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{}, nil)
	p := r.Policy()
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 256*time.Second, p.MaxDelay)
	assert.Equal(t, 10*time.Minute, p.Ceiling)
}

func TestDoWithResultTyped(t *testing.T) {
	clock := newFakeClock()
	retryer := NewBackoffRetryer(PolicyWithCeiling(time.Minute), zap.NewNop(), WithClock(clock))

	calls := 0
	got, err := DoWithResultTyped(retryer, context.Background(), "typed", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first fails")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	got, err = DoWithResultTyped(retryer, context.Background(), "typed", func(ctx context.Context) (string, error) {
		clock.Advance(2 * time.Minute)
		return "", errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, "", got)
}

// Property: total sleep never reaches the ceiling and every sleep follows
// the doubling schedule.
func TestProperty_SleepsStayUnderCeiling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ceilingMS := rapid.IntRange(1, 3_600_000).Draw(t, "ceiling_ms")
		ceiling := time.Duration(ceilingMS) * time.Millisecond

		clock := newFakeClock()
		retryer := NewBackoffRetryer(PolicyWithCeiling(ceiling), zap.NewNop(), WithClock(clock))

		attempts := 0
		err := retryer.Do(context.Background(), "p", func(ctx context.Context) error {
			attempts++
			return errors.New("down")
		})
		if !types.IsCode(err, types.ErrEndpointUnavailable) {
			t.Fatalf("expected ENDPOINT_UNAVAILABLE, got %v", err)
		}

		var total time.Duration
		expected := time.Second
		for _, d := range clock.sleeps {
			if d != expected {
				t.Fatalf("sleep %s, want %s", d, expected)
			}
			total += d
			expected *= 2
			if expected > 256*time.Second {
				expected = 256 * time.Second
			}
		}
		if total >= ceiling {
			t.Fatalf("slept %s with ceiling %s", total, ceiling)
		}
		if attempts != len(clock.sleeps)+1 {
			t.Fatalf("attempts %d, sleeps %d", attempts, len(clock.sleeps))
		}
	})
}
