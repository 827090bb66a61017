// Package worker runs fixed-interval jobs on a single goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrStopped is returned by Do when the loop stops before running the request
var ErrStopped = errors.New("worker loop stopped")

// TickFunc is one unit of periodic work
type TickFunc func(ctx context.Context) error

// LoopConfig holds configuration for a Loop
type LoopConfig struct {
	Name           string
	Interval       time.Duration
	Tick           TickFunc
	RunImmediately bool          // run one tick as soon as the loop starts
	TickTimeout    time.Duration // 0 means the tick inherits the loop context unchanged
}

type request struct {
	fn     TickFunc
	result chan error
}

// Loop calls Tick every Interval. Ticks and requests submitted through Do
// run one at a time on the loop goroutine, so they never overlap.
type Loop struct {
	name           string
	interval       time.Duration
	tick           TickFunc
	runImmediately bool
	tickTimeout    time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	requests chan request

	// execMu serialises work executed outside the loop goroutine
	execMu sync.Mutex

	lastTick time.Time
	ticks    int64
	failures int64
}

// NewLoop creates a loop; it does nothing until Start
func NewLoop(cfg *LoopConfig) (*Loop, error) {
	if cfg.Tick == nil {
		return nil, fmt.Errorf("tick function cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}

	name := cfg.Name
	if name == "" {
		name = "Loop"
	}

	return &Loop{
		name:           name,
		interval:       cfg.Interval,
		tick:           cfg.Tick,
		runImmediately: cfg.RunImmediately,
		tickTimeout:    cfg.TickTimeout,
		requests:       make(chan request),
	}, nil
}

// Start launches the loop goroutine. The loop runs until Stop or until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("%s is already running", l.name)
	}

	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	log.Printf("[%s] Starting with interval %v", l.name, l.interval)
	go l.run(ctx, l.stopCh, l.doneCh)
	return nil
}

// Stop signals the loop and waits for the in-flight tick to finish.
// Calling Stop on a loop that is not running is a no-op.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	stopCh, doneCh := l.stopCh, l.doneCh
	l.running = false
	close(stopCh)
	l.mu.Unlock()

	select {
	case <-doneCh:
		log.Printf("[%s] Stopped", l.name)
		return nil
	case <-ctx.Done():
		log.Printf("[%s] Stop timed out", l.name)
		return ctx.Err()
	}
}

// Running reports whether the loop goroutine is active
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Do runs fn serialised with ticks and returns its error. While the loop is
// running fn executes on the loop goroutine between ticks; otherwise it runs
// inline on the caller's goroutine.
func (l *Loop) Do(ctx context.Context, fn TickFunc) error {
	l.mu.Lock()
	running := l.running
	stopCh := l.stopCh
	l.mu.Unlock()

	if !running {
		l.execMu.Lock()
		defer l.execMu.Unlock()
		return fn(ctx)
	}

	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of ticks run, how many failed and when the last one started
func (l *Loop) Stats() (ticks, failures int64, lastTick time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks, l.failures, l.lastTick
}

func (l *Loop) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.runImmediately && !stopping(ctx, stopCh) {
		l.runTick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] Context cancelled", l.name)
			l.mu.Lock()
			if l.stopCh == stopCh {
				l.running = false
			}
			l.mu.Unlock()
			return
		case <-stopCh:
			return
		case req := <-l.requests:
			if stopping(ctx, stopCh) {
				req.result <- ErrStopped
				continue
			}
			req.result <- l.execute(ctx, req.fn)
		case <-ticker.C:
			if stopping(ctx, stopCh) {
				continue
			}
			l.runTick(ctx)
		}
	}
}

// stopping reports whether Stop was called or ctx ended. select picks randomly
// among ready cases, so a tick or request can win over a closed stopCh.
func stopping(ctx context.Context, stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (l *Loop) runTick(ctx context.Context) {
	l.mu.Lock()
	l.lastTick = time.Now()
	l.ticks++
	l.mu.Unlock()

	if err := l.execute(ctx, l.tick); err != nil {
		l.mu.Lock()
		l.failures++
		l.mu.Unlock()
		log.Printf("[%s] Tick failed: %v", l.name, err)
	}
}

// execute runs fn with the tick timeout applied; a panic is converted to an error
func (l *Loop) execute(ctx context.Context, fn TickFunc) (err error) {
	l.execMu.Lock()
	defer l.execMu.Unlock()

	if l.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.tickTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", l.name, r)
		}
	}()

	return fn(ctx)
}
