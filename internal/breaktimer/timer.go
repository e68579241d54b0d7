// Package breaktimer tracks one break instance on the worker side: elapsed and
// remaining time through a single pause, and the confirmation required to end it.
//
// Elapsed time is always derived from absolute instants,
//
//	elapsed = (now - originalStart) - pausedTotal
//
// so delayed or dropped ticks never make the timer drift.
package breaktimer

import (
	"errors"
	"sync"
	"time"

	"breakwatch/internal/events"
	"breakwatch/internal/models"
)

var (
	ErrDisabled        = errors.New("break timer is disabled")
	ErrNotActive       = errors.New("break has already ended")
	ErrPauseUsed       = errors.New("pause already used for this break")
	ErrNotRunning      = errors.New("break is not running")
	ErrNotPaused       = errors.New("break is not paused")
	ErrNotAwaiting     = errors.New("break is not awaiting return confirmation")
	ErrEndNotRequested = errors.New("end was not requested")
)

// Phase is the lifecycle state of a timer.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhasePaused   Phase = "paused"
	PhaseAwaiting Phase = "awaiting_return_confirmation"
	PhaseEnded    Phase = "ended"
)

// End control labels.
const (
	LabelEndBreak       = "end break"
	LabelEndPermanently = "end permanently"
)

// Params describe the break a timer is built for.
type Params struct {
	BreakID  int64
	Type     models.BreakType
	Duration time.Duration
}

// Valid reports whether a timer can run for p.
func (p Params) Valid() bool {
	return p.BreakID > 0 && p.Duration > 0 && p.Type.Valid()
}

// Snapshot is a read-only view for rendering.
type Snapshot struct {
	Disabled       bool
	BreakID        int64
	Type           models.BreakType
	Phase          Phase
	Duration       time.Duration
	Elapsed        time.Duration
	Remaining      time.Duration
	OriginalStart  time.Time
	PausedTotal    time.Duration
	PauseAvailable bool
	EndRequested   bool
	EndLabel       string
}

// Outcome describes how a break left the timer.
type Outcome struct {
	BreakID     int64
	Reason      events.EndReason
	StartedAt   time.Time
	EndedAt     time.Time
	Elapsed     time.Duration
	PausedTotal time.Duration
	Overrun     time.Duration // time past the expected return; zero when ended early
	Late        bool
}

// Timer is the state machine for one break instance. It is safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	params Params
	clock  func() time.Time

	lateGrace  time.Duration
	onAwaiting func(Snapshot)

	disabled      bool
	phase         Phase
	originalStart time.Time
	pausedTotal   time.Duration
	pauseBegan    time.Time
	pauseUsed     bool
	frozen        time.Duration
	endRequested  bool
	pending       *Snapshot // awaiting transition not yet reported
}

// Option customises a Timer.
type Option func(*Timer)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(t *Timer) { t.clock = clock }
}

// WithLateGrace sets how far past the expected return a confirmation may come
// before the return counts as late. Default one minute.
func WithLateGrace(d time.Duration) Option {
	return func(t *Timer) { t.lateGrace = d }
}

// OnAwaitingReturn registers fn to run once when the duration elapses.
func OnAwaitingReturn(fn func(Snapshot)) Option {
	return func(t *Timer) { t.onAwaiting = fn }
}

// New starts a timer for p at startedAt. Invalid params yield a disabled timer.
func New(p Params, startedAt time.Time, opts ...Option) *Timer {
	t := &Timer{
		params:    p,
		clock:     time.Now,
		lateGrace: time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	if !p.Valid() || startedAt.IsZero() {
		t.disabled = true
		t.phase = PhaseEnded
		return t
	}
	t.phase = PhaseRunning
	t.originalStart = startedAt
	return t
}

// Disabled reports whether the timer was built from unusable break data.
func (t *Timer) Disabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disabled
}

// Snapshot returns the current state, transitioning to awaiting confirmation
// if the duration has elapsed.
func (t *Timer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.unlock()

	now := t.clock()
	t.advanceLocked(now)
	return t.snapshotLocked(now)
}

// Tick is called by the loop; it reports whether this call made the
// transition to awaiting confirmation.
func (t *Timer) Tick() (Snapshot, bool) {
	t.mu.Lock()
	defer t.unlock()

	now := t.clock()
	fired := t.advanceLocked(now)
	return t.snapshotLocked(now), fired
}

// Pause freezes elapsed time. Each break may be paused once.
func (t *Timer) Pause() (Snapshot, error) {
	t.mu.Lock()
	defer t.unlock()

	if err := t.activeLocked(); err != nil {
		return Snapshot{}, err
	}
	now := t.clock()
	t.advanceLocked(now)
	if t.phase != PhaseRunning {
		return t.snapshotLocked(now), ErrNotRunning
	}
	if t.pauseUsed {
		return t.snapshotLocked(now), ErrPauseUsed
	}

	t.frozen = t.elapsedLocked(now)
	t.pauseBegan = now
	t.pauseUsed = true
	t.endRequested = false
	t.phase = PhasePaused
	return t.snapshotLocked(now), nil
}

// Resume adds the pause to the paused total and continues from the formula.
func (t *Timer) Resume() (Snapshot, error) {
	t.mu.Lock()
	defer t.unlock()

	if err := t.activeLocked(); err != nil {
		return Snapshot{}, err
	}
	now := t.clock()
	if t.phase != PhasePaused {
		return t.snapshotLocked(now), ErrNotPaused
	}

	if d := now.Sub(t.pauseBegan); d > 0 {
		t.pausedTotal += d
	}
	t.pauseBegan = time.Time{}
	t.frozen = 0
	t.endRequested = false
	t.phase = PhaseRunning
	return t.snapshotLocked(now), nil
}

// RequestEnd arms the manual end and returns the label to confirm with.
func (t *Timer) RequestEnd() (string, error) {
	t.mu.Lock()
	defer t.unlock()

	if err := t.activeLocked(); err != nil {
		return "", err
	}
	now := t.clock()
	t.advanceLocked(now)
	if t.phase == PhaseAwaiting {
		return "", ErrNotRunning
	}
	t.endRequested = true
	return endLabel(t.phase), nil
}

// CancelEnd disarms a pending manual end.
func (t *Timer) CancelEnd() {
	t.mu.Lock()
	t.endRequested = false
	t.mu.Unlock()
}

// ConfirmEnd ends a running or paused break after RequestEnd.
func (t *Timer) ConfirmEnd() (Outcome, error) {
	t.mu.Lock()
	defer t.unlock()

	if err := t.activeLocked(); err != nil {
		return Outcome{}, err
	}
	if !t.endRequested {
		return Outcome{}, ErrEndNotRequested
	}
	now := t.clock()
	t.advanceLocked(now)
	if t.phase == PhaseAwaiting {
		return Outcome{}, ErrNotRunning
	}
	return t.endLocked(now, events.EndManual), nil
}

// ConfirmReturn ends a break awaiting confirmation. The confirmation instant
// is the authoritative return time.
func (t *Timer) ConfirmReturn() (Outcome, error) {
	t.mu.Lock()
	defer t.unlock()

	if err := t.activeLocked(); err != nil {
		return Outcome{}, err
	}
	now := t.clock()
	t.advanceLocked(now)
	if t.phase != PhaseAwaiting {
		return Outcome{}, ErrNotAwaiting
	}
	return t.endLocked(now, events.EndConfirmedReturn), nil
}

func (t *Timer) activeLocked() error {
	if t.disabled {
		return ErrDisabled
	}
	if t.phase == PhaseEnded {
		return ErrNotActive
	}
	return nil
}

func (t *Timer) elapsedLocked(now time.Time) time.Duration {
	switch t.phase {
	case PhaseRunning:
		e := now.Sub(t.originalStart) - t.pausedTotal
		if e < 0 {
			return 0
		}
		return e
	case PhasePaused:
		return t.frozen
	case PhaseAwaiting:
		return t.params.Duration
	}
	return 0
}

// advanceLocked moves a running timer to awaiting once elapsed reaches the
// duration. It returns true only on the call that made the move.
func (t *Timer) advanceLocked(now time.Time) bool {
	if t.disabled || t.phase != PhaseRunning {
		return false
	}
	if t.elapsedLocked(now) < t.params.Duration {
		return false
	}
	t.phase = PhaseAwaiting
	t.endRequested = false
	snap := t.snapshotLocked(now)
	t.pending = &snap
	return true
}

// unlock releases the mutex and then runs the awaiting callback if a
// transition happened while it was held.
func (t *Timer) unlock() {
	pending := t.pending
	t.pending = nil
	cb := t.onAwaiting
	t.mu.Unlock()

	if pending != nil && cb != nil {
		cb(*pending)
	}
}

func (t *Timer) endLocked(now time.Time, reason events.EndReason) Outcome {
	out := Outcome{
		BreakID:     t.params.BreakID,
		Reason:      reason,
		StartedAt:   t.originalStart,
		EndedAt:     now,
		Elapsed:     t.elapsedLocked(now),
		PausedTotal: t.pausedTotal,
	}
	if t.phase == PhasePaused {
		out.PausedTotal += now.Sub(t.pauseBegan)
	}
	if reason == events.EndConfirmedReturn {
		expected := t.originalStart.Add(t.pausedTotal + t.params.Duration)
		if over := now.Sub(expected); over > 0 {
			out.Overrun = over
		}
		out.Late = out.Overrun > t.lateGrace
	}

	t.phase = PhaseEnded
	t.originalStart = time.Time{}
	t.pausedTotal = 0
	t.pauseBegan = time.Time{}
	t.pauseUsed = false
	t.frozen = 0
	t.endRequested = false
	return out
}

func (t *Timer) snapshotLocked(now time.Time) Snapshot {
	if t.disabled {
		return Snapshot{Disabled: true, Phase: PhaseEnded}
	}
	elapsed := t.elapsedLocked(now)
	remaining := t.params.Duration - elapsed
	if remaining < 0 || t.phase == PhaseEnded {
		remaining = 0
	}
	return Snapshot{
		BreakID:        t.params.BreakID,
		Type:           t.params.Type,
		Phase:          t.phase,
		Duration:       t.params.Duration,
		Elapsed:        elapsed,
		Remaining:      remaining,
		OriginalStart:  t.originalStart,
		PausedTotal:    t.pausedTotal,
		PauseAvailable: t.phase == PhaseRunning && !t.pauseUsed,
		EndRequested:   t.endRequested,
		EndLabel:       endLabel(t.phase),
	}
}

func endLabel(p Phase) string {
	switch p {
	case PhaseRunning:
		return LabelEndBreak
	case PhasePaused:
		return LabelEndPermanently
	}
	return ""
}
