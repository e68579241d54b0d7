package lifecycle

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"breakwatch/internal/agent"
	"breakwatch/internal/events"
	"breakwatch/internal/hub"
	"breakwatch/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Trigger, acknowledgment, relay and persistence over a real websocket.
func TestScheduledBreakFlow(t *testing.T) {
	db, b := newStore(t)
	logger := zerolog.New(io.Discard)

	bus := events.NewBus()
	NewService(db, logger).Attach(bus)
	h := hub.New(hub.NewMemoryRegistry(), bus, hub.DefaultConfig(), logger)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := agent.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	worker := agent.New(conn, agent.Config{WorkerID: "W1", Name: "Ada"}, logger)
	go func() { _ = worker.Run(ctx) }()

	require.Eventually(t, func() bool { return h.Presence().Count == 1 }, 2*time.Second, 10*time.Millisecond)

	cfg := scheduler.DefaultConfig()
	cfg.Location = time.UTC
	sched := scheduler.New(db, h, cfg, logger, scheduler.WithClock(func() time.Time {
		return time.Date(2026, 10, 15, 13, 45, 5, 0, time.UTC)
	}))
	report := sched.Tick(ctx)
	require.Equal(t, 1, report.Triggered)

	require.Eventually(t, func() bool {
		got, err := db.GetBreak(ctx, b.ID)
		return err == nil && got.ActualStart != nil
	}, 2*time.Second, 10*time.Millisecond)

	snap, ok := worker.Snapshot()
	require.True(t, ok)
	assert.Equal(t, b.ID, snap.BreakID)

	_, err = worker.RequestEnd()
	require.NoError(t, err)
	_, err = worker.ConfirmEnd()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := db.GetBreak(ctx, b.ID)
		return err == nil && got.ActualEnd != nil
	}, 2*time.Second, 10*time.Millisecond)

	// a repeated tick in the same minute does not signal again
	assert.Zero(t, sched.Tick(ctx).Triggered)
}
