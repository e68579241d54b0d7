package models

import "time"

// BreakType is one of the fixed rest period kinds.
type BreakType string

const (
	BreakMorningRest   BreakType = "morning_rest"
	BreakLunch         BreakType = "lunch"
	BreakAfternoonRest BreakType = "afternoon_rest"
	BreakAwayFromDesk  BreakType = "away_from_desk"
)

// Valid reports whether t is a known break type.
func (t BreakType) Valid() bool {
	switch t {
	case BreakMorningRest, BreakLunch, BreakAfternoonRest, BreakAwayFromDesk:
		return true
	default:
		return false
	}
}

// BreakStatus is derived from the actual start/end timestamps of a break.
type BreakStatus string

const (
	BreakPending    BreakStatus = "pending"
	BreakInProgress BreakStatus = "in_progress"
	BreakClosed     BreakStatus = "closed"
)

// AttendanceSession is one clock-in to clock-out span for a worker.
type AttendanceSession struct {
	ID        int64      `json:"id"`
	WorkerID  string     `json:"worker_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"` // nil while the worker is clocked in
	Breaks    []Break    `json:"breaks,omitempty"`
}

// Break is one scheduled rest period within a session.
type Break struct {
	ID              int64      `json:"id"`
	SessionID       int64      `json:"session_id"`
	WorkerID        string     `json:"worker_id,omitempty"` // denormalised from the session
	Type            BreakType  `json:"type"`
	ScheduledStart  string     `json:"scheduled_start"` // "H:MM AM/PM", local wall clock
	DurationMinutes int        `json:"duration_minutes"`
	ActualStart     *time.Time `json:"actual_start,omitempty"`
	ActualEnd       *time.Time `json:"actual_end,omitempty"`
}

// Status derives the lifecycle state of the break.
func (b *Break) Status() BreakStatus {
	switch {
	case b.ActualEnd != nil:
		return BreakClosed
	case b.ActualStart != nil:
		return BreakInProgress
	default:
		return BreakPending
	}
}

// Duration returns the expected duration of the break.
func (b *Break) Duration() time.Duration {
	return time.Duration(b.DurationMinutes) * time.Minute
}

// Overrun returns how long the break ran past its expected duration.
// Zero when the break is not closed or returned on time.
func (b *Break) Overrun() time.Duration {
	if b.ActualStart == nil || b.ActualEnd == nil {
		return 0
	}
	over := b.ActualEnd.Sub(*b.ActualStart) - b.Duration()
	if over < 0 {
		return 0
	}
	return over
}
