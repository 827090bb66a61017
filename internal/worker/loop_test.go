package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoop_Validation(t *testing.T) {
	_, err := NewLoop(&LoopConfig{Interval: time.Second})
	assert.Error(t, err)

	_, err = NewLoop(&LoopConfig{Tick: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestLoop_TicksUntilStopped(t *testing.T) {
	var count atomic.Int32
	loop, err := NewLoop(&LoopConfig{
		Name:     "TestLoop",
		Interval: 5 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			count.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, loop.Start(context.Background()))
	assert.True(t, loop.Running())
	assert.Error(t, loop.Start(context.Background()), "second start must fail")

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, loop.Stop(context.Background()))
	assert.False(t, loop.Running())

	after := count.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, count.Load(), "no ticks after stop")
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	loop, err := NewLoop(&LoopConfig{
		Interval: time.Hour,
		Tick:     func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)

	// never started
	assert.NoError(t, loop.Stop(context.Background()))

	require.NoError(t, loop.Start(context.Background()))
	assert.NoError(t, loop.Stop(context.Background()))
	assert.NoError(t, loop.Stop(context.Background()))

	// restart after stop
	require.NoError(t, loop.Start(context.Background()))
	assert.NoError(t, loop.Stop(context.Background()))
}

func TestLoop_FailingTickKeepsRunning(t *testing.T) {
	var count atomic.Int32
	loop, err := NewLoop(&LoopConfig{
		Interval: 2 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			n := count.Add(1)
			if n == 1 {
				panic("boom")
			}
			return errors.New("tick failed")
		},
	})
	require.NoError(t, err)
	require.NoError(t, loop.Start(context.Background()))
	defer func() { _ = loop.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)

	ticks, failures, last := loop.Stats()
	assert.GreaterOrEqual(t, ticks, int64(3))
	assert.GreaterOrEqual(t, failures, int64(2))
	assert.False(t, last.IsZero())
}

func TestLoop_RunImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	loop, err := NewLoop(&LoopConfig{
		Interval:       time.Hour,
		RunImmediately: true,
		Tick: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, loop.Start(context.Background()))
	defer func() { _ = loop.Stop(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("tick did not run on start")
	}
}

func TestLoop_DoIsSerialisedWithTicks(t *testing.T) {
	var active atomic.Int32
	var overlap atomic.Bool
	work := func(ctx context.Context) error {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	}

	loop, err := NewLoop(&LoopConfig{Interval: time.Millisecond, Tick: work})
	require.NoError(t, err)
	require.NoError(t, loop.Start(context.Background()))
	defer func() { _ = loop.Stop(context.Background()) }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, loop.Do(context.Background(), work))
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "ticks and requests must not overlap")
}

func TestLoop_DoReturnsError(t *testing.T) {
	loop, err := NewLoop(&LoopConfig{Interval: time.Hour, Tick: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)

	want := errors.New("conflict")

	// inline when not running
	assert.Equal(t, want, loop.Do(context.Background(), func(ctx context.Context) error { return want }))

	require.NoError(t, loop.Start(context.Background()))
	defer func() { _ = loop.Stop(context.Background()) }()
	assert.Equal(t, want, loop.Do(context.Background(), func(ctx context.Context) error { return want }))
}

func TestLoop_ContextCancelStopsLoop(t *testing.T) {
	loop, err := NewLoop(&LoopConfig{Interval: time.Millisecond, Tick: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !loop.Running() }, time.Second, time.Millisecond)
	assert.NoError(t, loop.Stop(context.Background()))
}

func TestLoop_NoTickStartsAfterStop(t *testing.T) {
	var late atomic.Int32
	for i := 0; i < 50; i++ {
		var loop *Loop
		loop, err := NewLoop(&LoopConfig{
			Interval: time.Millisecond,
			Tick: func(ctx context.Context) error {
				loop.mu.Lock()
				stopCh := loop.stopCh
				loop.mu.Unlock()

				select {
				case <-stopCh:
					late.Add(1)
				default:
				}
				time.Sleep(3 * time.Millisecond)
				return nil
			},
		})
		require.NoError(t, err)

		require.NoError(t, loop.Start(context.Background()))
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, loop.Stop(context.Background()))
	}

	assert.Equal(t, int32(0), late.Load(), "ticks started after Stop")
}

func TestLoop_TickTimeoutCancelsBlockedTick(t *testing.T) {
	var ticks atomic.Int32
	loop, err := NewLoop(&LoopConfig{
		Interval:       5 * time.Millisecond,
		TickTimeout:    10 * time.Millisecond,
		RunImmediately: true,
		Tick: func(ctx context.Context) error {
			ticks.Add(1)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond,
		"a blocked tick must be cancelled so later ticks run")
	require.NoError(t, loop.Stop(context.Background()))

	_, failures, _ := loop.Stats()
	assert.GreaterOrEqual(t, failures, int64(2))
}
