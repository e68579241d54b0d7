// Package agent is the worker-side client: it identifies to the hub, turns
// auto-start triggers into running break timers and relays every break
// lifecycle action back through the hub.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"breakwatch/internal/breaktimer"
	"breakwatch/internal/events"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrNoActiveBreak  = errors.New("no active break")
	ErrInvalidTrigger = errors.New("invalid auto-start trigger")
)

// Conn is the subset of a websocket connection the agent needs.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dial opens a websocket connection to the hub.
func Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Config identifies the worker the agent acts for.
type Config struct {
	WorkerID     string
	Name         string
	TickInterval time.Duration
	LateGrace    time.Duration
}

// Callbacks let a front end render timer state. All are optional.
type Callbacks struct {
	OnStarted  func(events.AutoStartTrigger, breaktimer.Snapshot)
	OnTick     func(breaktimer.Snapshot)
	OnAwaiting func(breaktimer.Snapshot)
	OnEnded    func(breaktimer.Outcome)
	OnEvent    func(events.Envelope)
}

type activeBreak struct {
	trigger events.AutoStartTrigger
	timer   *breaktimer.Timer
	loop    *breaktimer.Loop
}

// Agent drives break timers for one worker connection.
type Agent struct {
	conn      Conn
	config    Config
	callbacks Callbacks
	logger    zerolog.Logger
	clock     func() time.Time

	writeMu sync.Mutex

	mu     sync.Mutex
	active *activeBreak
	ctx    context.Context
}

// Option customises an Agent.
type Option func(*Agent)

// WithClock replaces time.Now for the agent and its timers.
func WithClock(clock func() time.Time) Option {
	return func(a *Agent) { a.clock = clock }
}

// WithCallbacks sets rendering hooks.
func WithCallbacks(cb Callbacks) Option {
	return func(a *Agent) { a.callbacks = cb }
}

func New(conn Conn, cfg Config, logger zerolog.Logger, opts ...Option) *Agent {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.LateGrace <= 0 {
		cfg.LateGrace = time.Minute
	}
	a := &Agent{
		conn:   conn,
		config: cfg,
		logger: logger.With().Str("component", "agent").Str("worker_id", cfg.WorkerID).Logger(),
		clock:  time.Now,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run identifies and then processes inbound events until ctx is done or the
// connection fails.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	if err := a.Identify(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = a.conn.Close() })
	defer stop()
	defer a.stopLoop()

	for {
		var env events.Envelope
		if err := a.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		a.handle(env)
	}
}

// Identify binds the connection to the configured worker.
func (a *Agent) Identify() error {
	return a.send(events.Identify, events.IdentifyPayload{WorkerID: a.config.WorkerID, Name: a.config.Name})
}

func (a *Agent) handle(env events.Envelope) {
	if cb := a.callbacks.OnEvent; cb != nil {
		cb(env)
	}
	if env.Event != events.BreakAutoStartTrigger {
		return
	}

	var trigger events.AutoStartTrigger
	if err := env.Decode(&trigger); err != nil {
		a.logger.Warn().Err(err).Msg("ignoring undecodable trigger")
		return
	}
	if err := a.StartBreak(trigger); err != nil && !errors.Is(err, errBreakActive) {
		a.logger.Warn().Err(err).Int64("break_id", trigger.BreakID).Msg("trigger not started")
	}
}

var errBreakActive = errors.New("a break is already active")

// StartBreak acknowledges a trigger: it starts a timer and relays break:start.
// A trigger that arrives while a break is active is ignored.
func (a *Agent) StartBreak(trigger events.AutoStartTrigger) error {
	if trigger.WorkerID != "" && trigger.WorkerID != a.config.WorkerID {
		return fmt.Errorf("%w: addressed to %s", ErrInvalidTrigger, trigger.WorkerID)
	}

	a.mu.Lock()
	if a.active != nil {
		current := a.active.trigger.BreakID
		a.mu.Unlock()
		a.logger.Debug().Int64("break_id", trigger.BreakID).Int64("active_break_id", current).Msg("trigger ignored, break already active")
		return errBreakActive
	}

	now := a.clock()
	params := breaktimer.Params{
		BreakID:  trigger.BreakID,
		Type:     trigger.Type,
		Duration: time.Duration(trigger.Duration) * time.Minute,
	}
	timer := breaktimer.New(params, now,
		breaktimer.WithClock(a.clock),
		breaktimer.WithLateGrace(a.config.LateGrace),
		breaktimer.OnAwaitingReturn(a.awaiting),
	)
	if timer.Disabled() {
		a.mu.Unlock()
		return fmt.Errorf("%w: break %d type %q duration %d", ErrInvalidTrigger, trigger.BreakID, trigger.Type, trigger.Duration)
	}

	loop := breaktimer.NewLoop(timer, a.callbacks.OnTick).WithInterval(a.config.TickInterval)
	a.active = &activeBreak{trigger: trigger, timer: timer, loop: loop}
	ctx := a.ctx
	a.mu.Unlock()

	loop.Start(ctx)

	a.logger.Info().
		Int64("break_id", trigger.BreakID).
		Str("type", string(trigger.Type)).
		Int("duration_min", trigger.Duration).
		Msg("break started")

	if cb := a.callbacks.OnStarted; cb != nil {
		cb(trigger, timer.Snapshot())
	}

	return a.send(events.BreakStart, events.BreakLifecycle{
		BreakID:   trigger.BreakID,
		WorkerID:  a.config.WorkerID,
		SessionID: trigger.SessionID,
		Type:      trigger.Type,
		Duration:  trigger.Duration,
		At:        now,
	})
}

// Pause uses the break's single pause.
func (a *Agent) Pause() (breaktimer.Snapshot, error) {
	ab, err := a.current()
	if err != nil {
		return breaktimer.Snapshot{}, err
	}
	snap, err := ab.timer.Pause()
	if err != nil {
		return snap, err
	}
	ab.loop.Stop()
	return snap, a.send(events.BreakPause, a.lifecycle(ab, a.clock()))
}

// Resume continues a paused break.
func (a *Agent) Resume() (breaktimer.Snapshot, error) {
	ab, err := a.current()
	if err != nil {
		return breaktimer.Snapshot{}, err
	}
	snap, err := ab.timer.Resume()
	if err != nil {
		return snap, err
	}

	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	ab.loop.Refresh(ctx)

	return snap, a.send(events.BreakResume, a.lifecycle(ab, a.clock()))
}

// RequestEnd arms the manual end and returns the confirmation label.
func (a *Agent) RequestEnd() (string, error) {
	ab, err := a.current()
	if err != nil {
		return "", err
	}
	return ab.timer.RequestEnd()
}

// CancelEnd disarms a pending manual end.
func (a *Agent) CancelEnd() {
	if ab, err := a.current(); err == nil {
		ab.timer.CancelEnd()
	}
}

// ConfirmEnd ends the break early after RequestEnd.
func (a *Agent) ConfirmEnd() (breaktimer.Outcome, error) {
	ab, err := a.current()
	if err != nil {
		return breaktimer.Outcome{}, err
	}
	out, err := ab.timer.ConfirmEnd()
	if err != nil {
		return out, err
	}
	return out, a.finish(ab, out)
}

// ConfirmReturn ends a break whose duration has elapsed.
func (a *Agent) ConfirmReturn() (breaktimer.Outcome, error) {
	ab, err := a.current()
	if err != nil {
		return breaktimer.Outcome{}, err
	}
	out, err := ab.timer.ConfirmReturn()
	if err != nil {
		return out, err
	}
	return out, a.finish(ab, out)
}

// Snapshot returns the active break's state.
func (a *Agent) Snapshot() (breaktimer.Snapshot, bool) {
	ab, err := a.current()
	if err != nil {
		return breaktimer.Snapshot{}, false
	}
	return ab.timer.Snapshot(), true
}

func (a *Agent) finish(ab *activeBreak, out breaktimer.Outcome) error {
	ab.loop.Stop()

	a.mu.Lock()
	if a.active == ab {
		a.active = nil
	}
	a.mu.Unlock()

	a.logger.Info().
		Int64("break_id", out.BreakID).
		Str("reason", string(out.Reason)).
		Dur("elapsed", out.Elapsed).
		Dur("overrun", out.Overrun).
		Bool("late", out.Late).
		Msg("break ended")

	if cb := a.callbacks.OnEnded; cb != nil {
		cb(out)
	}

	p := a.lifecycle(ab, out.EndedAt)
	p.Reason = out.Reason
	p.Late = out.Late
	p.OverrunSeconds = int64(out.Overrun / time.Second)
	return a.send(events.BreakEnd, p)
}

func (a *Agent) awaiting(snap breaktimer.Snapshot) {
	a.logger.Info().Int64("break_id", snap.BreakID).Msg("break duration elapsed, awaiting return confirmation")
	if cb := a.callbacks.OnAwaiting; cb != nil {
		cb(snap)
	}
}

func (a *Agent) lifecycle(ab *activeBreak, at time.Time) events.BreakLifecycle {
	return events.BreakLifecycle{
		BreakID:   ab.trigger.BreakID,
		WorkerID:  a.config.WorkerID,
		SessionID: ab.trigger.SessionID,
		Type:      ab.trigger.Type,
		Duration:  ab.trigger.Duration,
		At:        at,
	}
}

func (a *Agent) current() (*activeBreak, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return nil, ErrNoActiveBreak
	}
	return a.active, nil
}

func (a *Agent) stopLoop() {
	if ab, err := a.current(); err == nil {
		ab.loop.Stop()
	}
}

func (a *Agent) send(event string, payload any) error {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}
