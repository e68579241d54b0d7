package breaktimer

import (
	"context"
	"sync"
	"time"
)

// Loop drives a timer's display at a fixed interval while it is running.
// It holds no count of its own; every tick re-reads the timer.
type Loop struct {
	timer    *Timer
	interval time.Duration
	onTick   func(Snapshot)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a one-second loop for timer. onTick may be nil and must
// not call Stop.
func NewLoop(timer *Timer, onTick func(Snapshot)) *Loop {
	return &Loop{timer: timer, interval: time.Second, onTick: onTick}
}

// WithInterval overrides the tick interval.
func (l *Loop) WithInterval(d time.Duration) *Loop {
	if d > 0 {
		l.interval = d
	}
	return l
}

// Start begins ticking, replacing any previous run. The loop exits by itself
// once the timer leaves the running phase.
func (l *Loop) Start(ctx context.Context) {
	l.Stop()

	if l.timer.Disabled() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, _ := l.timer.Tick()
				if l.onTick != nil {
					l.onTick(snap)
				}
				if snap.Phase != PhaseRunning {
					return
				}
			}
		}
	}()
}

// Stop clears the loop and waits for it to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Refresh restarts the loop from the timer's current state. Called whenever
// the pause state or start instant changes.
func (l *Loop) Refresh(ctx context.Context) {
	l.Start(ctx)
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
