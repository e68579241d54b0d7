package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"breakwatch/internal/events"
	"breakwatch/internal/metrics"
	"breakwatch/internal/models"

	"github.com/rs/zerolog"
)

// Config holds configuration for the break scheduler.
type Config struct {
	// Interval is how often pending breaks are evaluated.
	Interval time.Duration
	// Location is the wall clock scheduled starts are compared against.
	Location *time.Location
	// UseMinuteIndex switches to Store's MinuteIndex when it implements one.
	UseMinuteIndex bool
	// ClaimTTL is how long a trigger claim is held when a Claimer is set.
	ClaimTTL time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Location: time.Local,
		ClaimTTL: 2 * time.Minute,
	}
}

// TickReport summarises one evaluation.
type TickReport struct {
	At            time.Time
	Skipped       bool
	Indexed       bool
	Sessions      int
	Pending       int
	ParseFailures int
	Triggered     int
	Err           error
}

// Scheduler signals workers when a pending break's scheduled minute arrives.
type Scheduler struct {
	config  Config
	store   Store
	emitter Emitter
	claimer Claimer
	logger  zerolog.Logger
	now     func() time.Time

	tickMu sync.Mutex // held for the duration of a tick

	mu      sync.Mutex
	fired   map[int64]string // break id -> minute key it was signalled for
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithClaimer enables cross-instance deduplication of triggers.
func WithClaimer(c Claimer) Option {
	return func(s *Scheduler) { s.claimer = c }
}

// New creates a scheduler.
func New(store Store, emitter Emitter, config Config, logger zerolog.Logger, opts ...Option) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = 2 * time.Minute
	}

	s := &Scheduler{
		config:  config,
		store:   store,
		emitter: emitter,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
		fired:   make(map[int64]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the tick loop until ctx is done or Stop is called.
// Each tick runs on its own goroutine; a tick that finds the previous one
// still running is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.stopCh == stop {
			s.running = false
		}
		s.mu.Unlock()
	}()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Str("timezone", s.config.Location.String()).
		Bool("minute_index", s.config.UseMinuteIndex).
		Msg("break scheduler started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("break scheduler stopped by context")
			return
		case <-stop:
			s.wg.Wait()
			s.logger.Info().Msg("break scheduler stopped")
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Tick(ctx)
			}()
		}
	}
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tick evaluates pending breaks against the current wall-clock minute once.
// Nothing is written to the store; the worker's acknowledgment starts the break.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	now := s.now().In(s.config.Location)
	report := TickReport{At: now}

	if !s.tickMu.TryLock() {
		report.Skipped = true
		metrics.IncSchedulerTick("skipped")
		s.logger.Warn().Time("at", now).Msg("previous tick still running, skipping")
		return report
	}
	defer s.tickMu.Unlock()

	minuteKey := now.Format("2006-01-02T15:04")
	s.forgetOtherMinutes(minuteKey)

	due, err := s.collectDue(ctx, now, &report)
	if err != nil {
		report.Err = err
		metrics.IncSchedulerTick("error")
		s.logger.Error().Err(err).Msg("failed to load pending breaks")
		return report
	}

	for _, b := range due {
		select {
		case <-ctx.Done():
			report.Err = ctx.Err()
			metrics.IncSchedulerTick("interrupted")
			return report
		default:
		}
		if s.signal(ctx, b, minuteKey) {
			report.Triggered++
		}
	}

	metrics.IncSchedulerTick("ok")
	if report.Triggered > 0 || report.ParseFailures > 0 {
		s.logger.Info().
			Str("minute", minuteKey).
			Int("sessions", report.Sessions).
			Int("pending", report.Pending).
			Int("parse_failures", report.ParseFailures).
			Int("triggered", report.Triggered).
			Msg("break tick processed")
	}
	return report
}

// collectDue returns the pending breaks whose scheduled minute equals now.
func (s *Scheduler) collectDue(ctx context.Context, now time.Time, report *TickReport) ([]models.Break, error) {
	if s.config.UseMinuteIndex {
		if idx, ok := s.store.(MinuteIndex); ok {
			report.Indexed = true
			due, err := idx.DueBreaks(ctx, now.Hour()*60+now.Minute())
			if err != nil {
				return nil, fmt.Errorf("due breaks: %w", err)
			}
			report.Pending = len(due)
			return due, nil
		}
	}

	sessions, err := s.store.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	report.Sessions = len(sessions)

	var due []models.Break
	for _, session := range sessions {
		pending, err := s.store.PendingBreaks(ctx, session.ID)
		if err != nil {
			// One broken session must not starve the rest of the tick.
			s.logger.Error().Err(err).Int64("session_id", session.ID).Msg("failed to load pending breaks for session")
			continue
		}
		report.Pending += len(pending)

		for _, b := range pending {
			clock, err := models.ParseScheduledStart(b.ScheduledStart)
			if err != nil {
				report.ParseFailures++
				metrics.IncSchedulerParseFailure()
				s.logger.Warn().Err(err).
					Int64("break_id", b.ID).
					Int64("session_id", session.ID).
					Str("scheduled_start", b.ScheduledStart).
					Msg("skipping break with malformed scheduled start")
				continue
			}
			if clock.Hour != now.Hour() || clock.Minute != now.Minute() {
				continue
			}
			b.WorkerID = session.WorkerID
			if b.SessionID == 0 {
				b.SessionID = session.ID
			}
			due = append(due, b)
		}
	}
	return due, nil
}

// signal emits the auto-start trigger for b unless it was already signalled this minute.
func (s *Scheduler) signal(ctx context.Context, b models.Break, minuteKey string) bool {
	s.mu.Lock()
	already := s.fired[b.ID] == minuteKey
	s.mu.Unlock()
	if already {
		return false
	}

	if s.claimer != nil {
		key := fmt.Sprintf("breakwatch:trigger:%d:%s", b.ID, minuteKey)
		claimed, err := s.claimer.Claim(ctx, key, s.config.ClaimTTL)
		if err != nil {
			// Fail open: a duplicate signal is better than a missed break.
			s.logger.Error().Err(err).Int64("break_id", b.ID).Msg("trigger claim failed, signalling anyway")
		} else if !claimed {
			s.logger.Debug().Int64("break_id", b.ID).Msg("trigger claimed by another instance")
			s.markFired(b.ID, minuteKey)
			return false
		}
	}

	trigger := events.AutoStartTrigger{
		WorkerID:       b.WorkerID,
		BreakID:        b.ID,
		Type:           b.Type,
		ScheduledStart: b.ScheduledStart,
		Duration:       b.DurationMinutes,
		SessionID:      b.SessionID,
	}
	delivered, err := s.emitter.EmitToWorker(ctx, b.WorkerID, events.BreakAutoStartTrigger, trigger)
	if err != nil {
		s.logger.Error().Err(err).Int64("break_id", b.ID).Str("worker_id", b.WorkerID).Msg("failed to emit auto-start trigger")
		return false
	}

	s.markFired(b.ID, minuteKey)
	metrics.IncSchedulerTrigger()
	s.logger.Info().
		Int64("break_id", b.ID).
		Str("worker_id", b.WorkerID).
		Str("type", string(b.Type)).
		Int("connections", delivered).
		Msg("break auto-start triggered")
	return true
}

func (s *Scheduler) markFired(breakID int64, minuteKey string) {
	s.mu.Lock()
	s.fired[breakID] = minuteKey
	s.mu.Unlock()
}

func (s *Scheduler) forgetOtherMinutes(minuteKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, key := range s.fired {
		if key != minuteKey {
			delete(s.fired, id)
		}
	}
}
