// Package lifecycle persists break start and end instants from relayed hub events.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"breakwatch/internal/database"
	"breakwatch/internal/events"
	"breakwatch/internal/metrics"
	"breakwatch/internal/models"

	"github.com/rs/zerolog"
)

// Store records actual break instants. Both Mark calls must be idempotent.
type Store interface {
	GetBreak(ctx context.Context, breakID int64) (*models.Break, error)
	MarkBreakStarted(ctx context.Context, breakID int64, at time.Time) error
	MarkBreakEnded(ctx context.Context, breakID int64, at time.Time) error
}

// Service subscribes to break:started and break:ended on the bus.
type Service struct {
	store   Store
	logger  zerolog.Logger
	timeout time.Duration
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
		timeout: 5 * time.Second,
	}
}

// Attach subscribes the service to bus.
func (s *Service) Attach(bus *events.Bus) {
	bus.Subscribe(events.BreakStarted, s.handleStarted)
	bus.Subscribe(events.BreakEnded, s.handleEnded)
}

func (s *Service) handleStarted(e events.Event) error {
	return s.persist(e, "start", s.store.MarkBreakStarted)
}

func (s *Service) handleEnded(e events.Event) error {
	return s.persist(e, "end", s.store.MarkBreakEnded)
}

func (s *Service) persist(e events.Event, transition string, mark func(context.Context, int64, time.Time) error) error {
	var p events.BreakLifecycle
	if err := e.Envelope.Decode(&p); err != nil || p.BreakID <= 0 {
		metrics.IncBreakPersisted(transition, "invalid")
		s.logger.Warn().Err(err).Str("event", e.Name).Str("conn_id", e.ConnID).Msg("ignoring break event without break id")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.authorize(ctx, e, p); err != nil {
		if errors.Is(err, errForeignBreak) {
			metrics.IncBreakPersisted(transition, "rejected")
			s.logger.Warn().Err(err).
				Int64("break_id", p.BreakID).
				Str("payload_worker", p.WorkerID).
				Str("conn_worker", e.WorkerID).
				Str("conn_id", e.ConnID).
				Msg("break event rejected")
			return nil
		}
		metrics.IncBreakPersisted(transition, "error")
		return fmt.Errorf("load break %d: %w", p.BreakID, err)
	}

	at := p.At
	if at.IsZero() {
		at = e.OccurredAt
	}

	err := mark(ctx, p.BreakID, at)
	switch {
	case err == nil:
		metrics.IncBreakPersisted(transition, "ok")
		s.logger.Info().Int64("break_id", p.BreakID).Str("transition", transition).Time("at", at).Msg("break persisted")
		return nil
	case errors.Is(err, database.ErrAlreadyStarted), errors.Is(err, database.ErrAlreadyEnded):
		metrics.IncBreakPersisted(transition, "duplicate")
		s.logger.Debug().Int64("break_id", p.BreakID).Str("transition", transition).Msg("break already recorded")
		return nil
	default:
		metrics.IncBreakPersisted(transition, "error")
		return fmt.Errorf("persist %s of break %d: %w", transition, p.BreakID, err)
	}
}

var errForeignBreak = errors.New("break does not belong to sender")

// authorize checks the break against the sender. Events from a connection
// need an identified worker that owns the stored break; server-emitted events
// are checked against the payload worker when one is given.
func (s *Service) authorize(ctx context.Context, e events.Event, p events.BreakLifecycle) error {
	worker := e.WorkerID
	if e.ConnID != "" && worker == "" {
		return fmt.Errorf("%w: connection %s has not identified", errForeignBreak, e.ConnID)
	}
	if p.WorkerID != "" {
		if worker != "" && p.WorkerID != worker {
			return fmt.Errorf("%w: payload worker %s, sender %s", errForeignBreak, p.WorkerID, worker)
		}
		worker = p.WorkerID
	}
	if worker == "" {
		return nil
	}

	b, err := s.store.GetBreak(ctx, p.BreakID)
	if errors.Is(err, database.ErrBreakNotFound) {
		return fmt.Errorf("%w: break %d not found", errForeignBreak, p.BreakID)
	}
	if err != nil {
		return err
	}
	if b.WorkerID != worker {
		return fmt.Errorf("%w: break %d belongs to %s", errForeignBreak, p.BreakID, b.WorkerID)
	}
	return nil
}
