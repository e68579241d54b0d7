package events

import (
	"encoding/json"
	"fmt"
	"time"

	"breakwatch/internal/models"
)

// Envelope is the JSON frame exchanged over a hub connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Envelope{Event: event, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope data into out.
func (e Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

// StringField extracts a top-level string field from the payload.
// Numbers are accepted too, since worker ids travel both ways in the portal.
func (e Envelope) StringField(name string) string {
	if len(e.Data) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		return ""
	}
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// IdentifyPayload is sent by a client to bind its connection to a worker.
type IdentifyPayload struct {
	WorkerID string `json:"workerId"`
	Name     string `json:"name"`
}

// PresenceEntry is one worker in the users:online list.
type PresenceEntry struct {
	WorkerID    string `json:"workerId"`
	Name        string `json:"name"`
	Connections int    `json:"connections"`
}

// PresencePayload is broadcast on every identify and disconnect.
type PresencePayload struct {
	Count int             `json:"count"`
	List  []PresenceEntry `json:"list"`
}

// AutoStartTrigger tells one worker that a scheduled break is due now.
type AutoStartTrigger struct {
	WorkerID       string           `json:"workerId"`
	BreakID        int64            `json:"breakId"`
	Type           models.BreakType `json:"type"`
	ScheduledStart string           `json:"scheduledStart"`
	Duration       int              `json:"duration"` // minutes
	SessionID      int64            `json:"sessionId"`
}

// EndReason tells how a break left the timer.
type EndReason string

const (
	EndConfirmedReturn EndReason = "confirmed_return"
	EndManual          EndReason = "manual"
)

// BreakLifecycle is the payload of every break:* request and its relayed event.
type BreakLifecycle struct {
	BreakID        int64            `json:"breakId"`
	WorkerID       string           `json:"workerId"`
	SessionID      int64            `json:"sessionId,omitempty"`
	Type           models.BreakType `json:"type,omitempty"`
	Duration       int              `json:"duration,omitempty"`
	At             time.Time        `json:"at"`
	Reason         EndReason        `json:"reason,omitempty"`
	Late           bool             `json:"late,omitempty"`
	OverrunSeconds int64            `json:"overrunSeconds,omitempty"`
}
