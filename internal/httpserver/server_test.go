package httpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"breakwatch/internal/events"
	"breakwatch/internal/hub"
	"breakwatch/internal/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRouter(Deps{DB: pinger{}, Redis: rdb}, Config{}, zerolog.New(io.Discard))

	rec := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = get(t, r, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())

	mr.Close()
	rec = get(t, r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "redis not ready", rec.Body.String())

	r = NewRouter(Deps{DB: pinger{err: errors.New("locked")}}, Config{}, zerolog.New(io.Discard))
	rec = get(t, r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "db not ready", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register()
	metrics.IncSchedulerTick("ok")

	r := NewRouter(Deps{}, Config{Metrics: true}, zerolog.New(io.Discard))
	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "breakwatch_scheduler_ticks_total")

	r = NewRouter(Deps{}, Config{}, zerolog.New(io.Discard))
	assert.Equal(t, http.StatusNotFound, get(t, r, "/metrics").Code)
}

func TestWebsocketRoute(t *testing.T) {
	h := hub.New(hub.NewMemoryRegistry(), nil, hub.DefaultConfig(), zerolog.New(io.Discard))
	srv := httptest.NewServer(NewRouter(Deps{WebSocket: h.ServeWS}, Config{}, zerolog.New(io.Discard)))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(events.Envelope{Event: events.Identify, Data: []byte(`{"workerId":"W1","name":"Ada"}`)}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env events.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, events.UsersOnline, env.Event)
}

func TestServerRunAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	r := NewRouter(Deps{}, Config{}, zerolog.New(io.Discard))
	s := New(r, Config{Address: addr, ShutdownTimeout: time.Second}, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
