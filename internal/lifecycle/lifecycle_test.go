package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"breakwatch/internal/database"
	"breakwatch/internal/events"
	"breakwatch/internal/hub"
	"breakwatch/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*database.DB, models.Break) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "lifecycle.db"), zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	sessionID, err := db.CreateSession(ctx, "W1", time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	b := models.Break{SessionID: sessionID, Type: models.BreakLunch, ScheduledStart: "1:45 PM", DurationMinutes: 15}
	require.NoError(t, db.AddBreak(ctx, &b))
	return db, b
}

func publish(t *testing.T, bus *events.Bus, name, workerID string, p events.BreakLifecycle) {
	t.Helper()
	env, err := events.NewEnvelope(name, p)
	require.NoError(t, err)
	bus.Publish(events.Event{Name: name, Envelope: env, ConnID: "c1", WorkerID: workerID})
}

func TestServicePersistsStartAndEnd(t *testing.T) {
	db, b := newStore(t)
	bus := events.NewBus()
	var handlerErrs []error
	bus.OnError(func(_ events.Event, err error) { handlerErrs = append(handlerErrs, err) })
	NewService(db, zerolog.New(io.Discard)).Attach(bus)

	start := time.Date(2026, 10, 15, 13, 45, 0, 0, time.UTC)
	end := start.Add(18 * time.Minute)

	publish(t, bus, events.BreakStarted, "W1", events.BreakLifecycle{BreakID: b.ID, WorkerID: "W1", At: start})
	publish(t, bus, events.BreakStarted, "W1", events.BreakLifecycle{BreakID: b.ID, WorkerID: "W1", At: start.Add(time.Minute)})
	publish(t, bus, events.BreakEnded, "W1", events.BreakLifecycle{BreakID: b.ID, WorkerID: "W1", At: end, Reason: events.EndConfirmedReturn})
	publish(t, bus, events.BreakEnded, "W1", events.BreakLifecycle{BreakID: b.ID, WorkerID: "W1", At: end.Add(time.Minute)})

	assert.Empty(t, handlerErrs, "duplicates are not errors")

	got, err := db.GetBreak(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActualStart)
	require.NotNil(t, got.ActualEnd)
	assert.True(t, got.ActualStart.Equal(start))
	assert.True(t, got.ActualEnd.Equal(end))
}

func TestServiceIgnoresForeignAndInvalidEvents(t *testing.T) {
	db, b := newStore(t)
	bus := events.NewBus()
	NewService(db, zerolog.New(io.Discard)).Attach(bus)

	publish(t, bus, events.BreakStarted, "W2", events.BreakLifecycle{BreakID: b.ID, WorkerID: "W1", At: time.Now()})
	bus.Publish(events.Event{Name: events.BreakStarted, Envelope: events.Envelope{Event: events.BreakStarted, Data: []byte(`"junk"`)}})

	got, err := db.GetBreak(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ActualStart)
}

func TestServiceFallsBackToOccurredAt(t *testing.T) {
	db, b := newStore(t)
	bus := events.NewBus()
	NewService(db, zerolog.New(io.Discard)).Attach(bus)

	occurred := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	env, err := events.NewEnvelope(events.BreakStarted, map[string]any{"breakId": b.ID})
	require.NoError(t, err)
	bus.Publish(events.Event{Name: events.BreakStarted, Envelope: env, OccurredAt: occurred})

	got, err := db.GetBreak(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActualStart)
	assert.True(t, got.ActualStart.Equal(occurred))
}

type failingStore struct{}

func (failingStore) GetBreak(_ context.Context, breakID int64) (*models.Break, error) {
	return &models.Break{ID: breakID, WorkerID: "W1"}, nil
}

func (failingStore) MarkBreakStarted(context.Context, int64, time.Time) error {
	return errors.New("disk full")
}

func (failingStore) MarkBreakEnded(context.Context, int64, time.Time) error {
	return database.ErrNotStarted
}

func TestServiceReportsStoreErrorsToBus(t *testing.T) {
	bus := events.NewBus()
	var handlerErrs []error
	bus.OnError(func(_ events.Event, err error) { handlerErrs = append(handlerErrs, err) })
	NewService(failingStore{}, zerolog.New(io.Discard)).Attach(bus)

	publish(t, bus, events.BreakStarted, "W1", events.BreakLifecycle{BreakID: 1, WorkerID: "W1", At: time.Now()})
	publish(t, bus, events.BreakEnded, "W1", events.BreakLifecycle{BreakID: 1, WorkerID: "W1", At: time.Now()})

	require.Len(t, handlerErrs, 2)
	assert.Contains(t, handlerErrs[0].Error(), "disk full")
	assert.ErrorIs(t, handlerErrs[1], database.ErrNotStarted)
}

func TestServiceRequiresOwningSender(t *testing.T) {
	at := time.Date(2026, 10, 15, 13, 45, 0, 0, time.UTC)

	tests := []struct {
		name    string
		connID  string
		worker  string
		payload events.BreakLifecycle
		stored  bool
	}{
		{name: "unidentified connection", connID: "c1", payload: events.BreakLifecycle{At: at}},
		{name: "unidentified connection naming owner", connID: "c1", payload: events.BreakLifecycle{WorkerID: "W1", At: at}},
		{name: "other worker without payload worker", connID: "c1", worker: "W2", payload: events.BreakLifecycle{At: at}},
		{name: "other worker naming owner", connID: "c1", worker: "W2", payload: events.BreakLifecycle{WorkerID: "W1", At: at}},
		{name: "server event naming other worker", payload: events.BreakLifecycle{WorkerID: "W2", At: at}},
		{name: "owner without payload worker", connID: "c1", worker: "W1", payload: events.BreakLifecycle{At: at}, stored: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, b := newStore(t)
			bus := events.NewBus()
			var handlerErrs []error
			bus.OnError(func(_ events.Event, err error) { handlerErrs = append(handlerErrs, err) })
			NewService(db, zerolog.New(io.Discard)).Attach(bus)

			tt.payload.BreakID = b.ID
			env, err := events.NewEnvelope(events.BreakStarted, tt.payload)
			require.NoError(t, err)
			bus.Publish(events.Event{Name: events.BreakStarted, Envelope: env, ConnID: tt.connID, WorkerID: tt.worker})

			assert.Empty(t, handlerErrs)
			got, err := db.GetBreak(context.Background(), b.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, got.ActualStart != nil)
		})
	}
}

func TestServiceIgnoresUnknownBreak(t *testing.T) {
	db, b := newStore(t)
	bus := events.NewBus()
	var handlerErrs []error
	bus.OnError(func(_ events.Event, err error) { handlerErrs = append(handlerErrs, err) })
	NewService(db, zerolog.New(io.Discard)).Attach(bus)

	publish(t, bus, events.BreakStarted, "W1", events.BreakLifecycle{BreakID: b.ID + 100, At: time.Now()})
	assert.Empty(t, handlerErrs)
}

type quietPeer struct{ id string }

func (p quietPeer) ID() string { return p.id }

func (quietPeer) Send([]byte) bool { return true }

func (quietPeer) Close() error { return nil }

// Frames relayed by the hub from connections that do not own the break
// leave the record untouched.
func TestHubRelayedBreakEventsFromNonOwners(t *testing.T) {
	db, b := newStore(t)
	logger := zerolog.New(io.Discard)
	bus := events.NewBus()
	NewService(db, logger).Attach(bus)
	h := hub.New(hub.NewMemoryRegistry(), bus, hub.DefaultConfig(), logger)

	h.Register(quietPeer{id: "anon"})
	h.Register(quietPeer{id: "w2"})
	ctx := context.Background()
	require.NoError(t, h.HandleFrame(ctx, "w2", []byte(`{"event":"identify","data":{"workerId":"W2","name":"Bo"}}`)))

	frame := func(event string) []byte {
		env, err := events.NewEnvelope(event, events.BreakLifecycle{BreakID: b.ID, At: time.Now()})
		require.NoError(t, err)
		data, err := json.Marshal(env)
		require.NoError(t, err)
		return data
	}
	_ = h.HandleFrame(ctx, "anon", frame(events.BreakStart))
	_ = h.HandleFrame(ctx, "w2", frame(events.BreakStart))
	_ = h.HandleFrame(ctx, "w2", frame(events.BreakEnd))

	got, err := db.GetBreak(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ActualStart)
	assert.Nil(t, got.ActualEnd)
}
