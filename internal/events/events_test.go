package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutes_Catalog(t *testing.T) {
	tests := []struct {
		request string
		relayed string
		mode    Mode
	}{
		{BreakStart, BreakStarted, ModeGlobal},
		{BreakPause, BreakPaused, ModeGlobal},
		{BreakResume, BreakResumed, ModeGlobal},
		{BreakEnd, BreakEnded, ModeGlobal},
		{TimeClockIn, TimeClockedIn, ModeGlobal},
		{TimeClockOut, TimeClockedOut, ModeGlobal},
		{TimeDataUpdate, TimeDataUpdated, ModeGlobal},
		{"ticket:respond", "ticket:responded", ModeGlobal},
		{"post:react", "post:reacted", ModeGlobal},
		{LeaderboardUpdate, LeaderboardUpdated, ModeGlobal},
		{NotificationSend, NotificationReceive, ModeWorkerOrGlobal},
		{CallInvite, CallIncoming, ModeWorker},
		{CallAccept, CallAccepted, ModeWorker},
		{CallReject, CallRejected, ModeWorker},
		{MonitoringForceRefresh, MonitoringRefreshRequested, ModeTopic},
		{MonitoringSubscribe, "", ModeControl},
		{Identify, "", ModeControl},
	}

	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			r, ok := Lookup(tt.request)
			require.True(t, ok)
			assert.Equal(t, tt.relayed, r.Relayed)
			assert.Equal(t, tt.mode, r.Mode)
		})
	}

	_, ok := Lookup(BreakAutoStartTrigger)
	assert.False(t, ok, "clients must not be able to forge scheduler triggers")
}

func TestEnvelope_StringField(t *testing.T) {
	env := Envelope{Event: NotificationSend, Data: json.RawMessage(`{"userId":"W1","count":7,"nested":{"a":1}}`)}

	assert.Equal(t, "W1", env.StringField("userId"))
	assert.Equal(t, "7", env.StringField("count"))
	assert.Equal(t, "", env.StringField("nested"))
	assert.Equal(t, "", env.StringField("missing"))
	assert.Equal(t, "", Envelope{Event: "x"}.StringField("userId"))
	assert.Equal(t, "", Envelope{Event: "x", Data: json.RawMessage(`[1,2]`)}.StringField("userId"))
}

func TestNewEnvelope_KeepsRawPayload(t *testing.T) {
	raw := json.RawMessage(`{"text":"hi"}`)
	env, err := NewEnvelope(NotificationReceive, raw)
	require.NoError(t, err)
	assert.Equal(t, raw, env.Data)

	env, err = NewEnvelope(BreakAutoStartTrigger, AutoStartTrigger{WorkerID: "W1", BreakID: 3, Duration: 15})
	require.NoError(t, err)

	var got AutoStartTrigger
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "W1", got.WorkerID)
	assert.Equal(t, int64(3), got.BreakID)
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	var received []string
	var failed []string

	bus.OnError(func(e Event, err error) { failed = append(failed, e.Name+":"+err.Error()) })
	bus.Subscribe(BreakStarted, func(e Event) error {
		received = append(received, e.WorkerID)
		return nil
	})
	bus.Subscribe(BreakStarted, func(e Event) error {
		return errors.New("boom")
	})

	bus.Publish(Event{Name: BreakStarted, WorkerID: "W1"})
	bus.Publish(Event{Name: BreakEnded, WorkerID: "W2"})

	assert.Equal(t, []string{"W1"}, received)
	assert.Equal(t, []string{"break:started:boom"}, failed)
}
