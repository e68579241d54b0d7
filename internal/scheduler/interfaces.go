package scheduler

import (
	"context"
	"time"

	"breakwatch/internal/models"
)

// Store provides read access to attendance data for the scheduler.
type Store interface {
	// ActiveSessions returns sessions that have no end timestamp.
	ActiveSessions(ctx context.Context) ([]models.AttendanceSession, error)

	// PendingBreaks returns breaks of a session with neither actual start nor end.
	PendingBreaks(ctx context.Context, sessionID int64) ([]models.Break, error)
}

// MinuteIndex is implemented by stores that index pending breaks by the
// minute of day they are scheduled at. Breaks returned must carry WorkerID.
type MinuteIndex interface {
	DueBreaks(ctx context.Context, minuteOfDay int) ([]models.Break, error)
}

// Emitter delivers an event to every connection of one worker.
type Emitter interface {
	// EmitToWorker returns the number of local connections the event was queued on.
	EmitToWorker(ctx context.Context, workerID, event string, payload any) (int, error)
}

// Claimer grants a key to exactly one caller for ttl. Used so that several
// scheduler instances sharing a store signal each break once.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
