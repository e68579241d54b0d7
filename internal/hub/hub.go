// Package hub relays realtime events between connected clients and from
// server-side producers, addressing them globally, to one worker, or to a topic.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"breakwatch/internal/events"
	"breakwatch/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrUnidentified   = errors.New("connection has not identified")
	ErrMissingTarget  = errors.New("event has no target worker")
	ErrInvalidTarget  = errors.New("invalid target")
)

// Config tunes per-connection behaviour.
type Config struct {
	SendBuffer      int
	InboundRate     float64 // frames per second
	InboundBurst    int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		SendBuffer:      64,
		InboundRate:     20,
		InboundBurst:    40,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxMessageBytes: 64 << 10,
	}
}

// Target addresses an emitted event.
type Target struct {
	Mode     events.Mode `json:"mode"`
	WorkerID string      `json:"workerId,omitempty"`
	Topic    string      `json:"topic,omitempty"`
}

func Global() Target                  { return Target{Mode: events.ModeGlobal} }
func Worker(workerID string) Target   { return Target{Mode: events.ModeWorker, WorkerID: workerID} }
func TopicTarget(topic string) Target { return Target{Mode: events.ModeTopic, Topic: topic} }

// Relay forwards events to hub instances in other processes.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
}

// RelayMessage is what instances exchange over the relay.
type RelayMessage struct {
	Origin   string          `json:"origin"`
	Target   Target          `json:"target"`
	Envelope events.Envelope `json:"envelope"`
}

// Hub routes events between connections held in its Registry.
type Hub struct {
	registry   Registry
	bus        *events.Bus
	relay      Relay
	config     Config
	logger     zerolog.Logger
	instanceID string
	now        func() time.Time
}

// New creates a hub. bus may be nil when nothing observes relayed events.
func New(registry Registry, bus *events.Bus, cfg Config, logger zerolog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = def.InboundRate
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = def.InboundBurst
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if registry == nil {
		registry = NewMemoryRegistry()
	}

	return &Hub{
		registry:   registry,
		bus:        bus,
		config:     cfg,
		logger:     logger.With().Str("component", "hub").Logger(),
		instanceID: uuid.NewString(),
		now:        time.Now,
	}
}

// UseRelay enables cross-instance delivery.
func (h *Hub) UseRelay(r Relay) {
	h.relay = r
}

// InstanceID identifies this hub on the relay.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Register adds a connection. It receives global broadcasts until it identifies.
func (h *Hub) Register(p Peer) {
	h.registry.Add(p)
	h.updateGauges()
	h.logger.Debug().Str("conn_id", p.ID()).Msg("connection registered")
}

// Unregister removes a connection and republishes presence if it was identified.
func (h *Hub) Unregister(connID string) {
	id, identified := h.registry.Remove(connID)
	h.updateGauges()
	if !identified {
		h.logger.Debug().Str("conn_id", connID).Msg("anonymous connection closed")
		return
	}
	h.logger.Info().Str("conn_id", connID).Str("worker_id", id.WorkerID).Msg("worker connection closed")
	h.publishPresence()
}

// Presence returns the current users:online payload.
func (h *Hub) Presence() events.PresencePayload {
	return h.registry.Presence()
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	for _, p := range h.registry.All() {
		_ = p.Close()
	}
}

// HandleFrame processes one inbound frame from a connection.
// Errors describe why the frame was dropped; they never affect other connections.
func (h *Hub) HandleFrame(ctx context.Context, connID string, frame []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		metrics.IncDropped("malformed")
		return ErrMalformedFrame
	}

	route, ok := events.Lookup(env.Event)
	if !ok {
		metrics.IncDropped("unknown_event")
		return fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}

	identity, identified := h.registry.Identity(connID)

	switch route.Mode {
	case events.ModeControl:
		return h.handleControl(connID, route, env, identified)

	case events.ModeGlobal:
		return h.relayRequest(ctx, connID, identity, route, env, Global())

	case events.ModeWorker, events.ModeWorkerOrGlobal:
		target := env.StringField(route.TargetField)
		if target == "" {
			if route.Mode == events.ModeWorkerOrGlobal {
				return h.relayRequest(ctx, connID, identity, route, env, Global())
			}
			metrics.IncDropped("missing_target")
			return fmt.Errorf("%w: %s", ErrMissingTarget, env.Event)
		}
		if !identified {
			metrics.IncDropped("unidentified")
			h.logger.Warn().Str("conn_id", connID).Str("event", env.Event).Msg("worker-addressed event from unidentified connection dropped")
			return ErrUnidentified
		}
		return h.relayRequest(ctx, connID, identity, route, env, Worker(target))

	case events.ModeTopic:
		if !identified {
			metrics.IncDropped("unidentified")
			return ErrUnidentified
		}
		return h.relayRequest(ctx, connID, identity, route, env, TopicTarget(route.Topic))
	}

	metrics.IncDropped("unknown_mode")
	return fmt.Errorf("%w: mode %s", ErrUnknownEvent, route.Mode)
}

func (h *Hub) handleControl(connID string, route events.Route, env events.Envelope, identified bool) error {
	switch route.Request {
	case events.Identify:
		var p events.IdentifyPayload
		if err := env.Decode(&p); err != nil || p.WorkerID == "" {
			metrics.IncDropped("invalid_identify")
			return fmt.Errorf("%w: identify needs workerId", ErrMalformedFrame)
		}
		if !h.registry.Identify(connID, Identity{WorkerID: p.WorkerID, Name: p.Name}) {
			return fmt.Errorf("identify: unknown connection %s", connID)
		}
		h.updateGauges()
		h.logger.Info().Str("conn_id", connID).Str("worker_id", p.WorkerID).Str("name", p.Name).Msg("connection identified")
		h.publishPresence()
		return nil

	case events.MonitoringSubscribe:
		if !identified {
			metrics.IncDropped("unidentified")
			return ErrUnidentified
		}
		h.registry.Join(connID, TopicChannel(route.Topic))
		h.logger.Debug().Str("conn_id", connID).Str("topic", route.Topic).Msg("subscribed to topic")
		return nil

	case events.MonitoringUnsubscribe:
		h.registry.Leave(connID, TopicChannel(route.Topic))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, route.Request)
}

// relayRequest relays the payload unchanged under the route's relayed name.
func (h *Hub) relayRequest(ctx context.Context, connID string, from Identity, route events.Route, env events.Envelope, target Target) error {
	out := events.Envelope{Event: route.Relayed, Data: env.Data}
	delivered, err := h.dispatch(ctx, target, out)
	if err != nil {
		return err
	}

	h.logger.Debug().
		Str("conn_id", connID).
		Str("event", out.Event).
		Str("mode", target.Mode.String()).
		Int("delivered", delivered).
		Msg("event relayed")

	h.observe(events.Event{Name: out.Event, Envelope: out, ConnID: connID, WorkerID: from.WorkerID})
	return nil
}

// Emit sends a server-originated event. It returns the number of local
// connections the frame was queued on.
func (h *Hub) Emit(ctx context.Context, target Target, event string, payload any) (int, error) {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		return 0, err
	}
	delivered, err := h.dispatch(ctx, target, env)
	if err != nil {
		return 0, err
	}
	h.observe(events.Event{Name: event, Envelope: env})
	return delivered, nil
}

// EmitToWorker sends a server-originated event to every connection of a worker.
func (h *Hub) EmitToWorker(ctx context.Context, workerID, event string, payload any) (int, error) {
	return h.Emit(ctx, Worker(workerID), event, payload)
}

// DeliverRemote hands an event received from another instance to local connections.
// Events this instance published are ignored.
func (h *Hub) DeliverRemote(msg RelayMessage) int {
	if msg.Origin == h.instanceID {
		return 0
	}
	frame, err := json.Marshal(msg.Envelope)
	if err != nil {
		return 0
	}
	return h.deliver(msg.Target, frame, msg.Envelope.Event)
}

func (h *Hub) dispatch(ctx context.Context, target Target, env events.Envelope) (int, error) {
	if err := validateTarget(target); err != nil {
		return 0, err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", env.Event, err)
	}

	delivered := h.deliver(target, frame, env.Event)

	if h.relay != nil {
		msg := RelayMessage{Origin: h.instanceID, Target: target, Envelope: env}
		if err := h.relay.Publish(ctx, msg); err != nil {
			// Local delivery already happened; remote instances just miss this one.
			h.logger.Error().Err(err).Str("event", env.Event).Msg("relay publish failed")
		}
	}
	return delivered, nil
}

func (h *Hub) deliver(target Target, frame []byte, event string) int {
	var peers []Peer
	switch target.Mode {
	case events.ModeGlobal:
		peers = h.registry.All()
	case events.ModeWorker:
		peers = h.registry.Members(WorkerChannel(target.WorkerID))
	case events.ModeTopic:
		peers = h.registry.Members(TopicChannel(target.Topic))
	}

	delivered := 0
	for _, p := range peers {
		if p.Send(frame) {
			delivered++
		}
	}
	metrics.IncRelayed(event, target.Mode.String())
	return delivered
}

func validateTarget(t Target) error {
	switch t.Mode {
	case events.ModeGlobal:
		return nil
	case events.ModeWorker:
		if t.WorkerID == "" {
			return fmt.Errorf("%w: empty worker", ErrInvalidTarget)
		}
		return nil
	case events.ModeTopic:
		if t.Topic == "" {
			return fmt.Errorf("%w: empty topic", ErrInvalidTarget)
		}
		return nil
	}
	return fmt.Errorf("%w: mode %s", ErrInvalidTarget, t.Mode)
}

func (h *Hub) observe(e events.Event) {
	if h.bus == nil {
		return
	}
	e.OccurredAt = h.now()
	h.bus.Publish(e)
}

// publishPresence broadcasts users:online to this instance's connections only;
// each instance reports the connections it holds.
func (h *Hub) publishPresence() {
	env, err := events.NewEnvelope(events.UsersOnline, h.registry.Presence())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode presence")
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode presence")
		return
	}
	h.deliver(Global(), frame, events.UsersOnline)
}

func (h *Hub) updateGauges() {
	conns, identified := h.registry.Counts()
	metrics.SetConnections(conns)
	metrics.SetIdentified(identified)
}
