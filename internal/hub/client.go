package hub

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"breakwatch/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client is a websocket connection registered with the hub.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.config.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.config.InboundRate), h.config.InboundBurst),
		logger:  h.logger.With().Str("conn_id", id).Logger(),
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues a frame. A full queue drops the frame rather than stall the sender.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.IncDropped("send_buffer_full")
		c.logger.Warn().Msg("send buffer full, frame dropped")
		return false
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c.id)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
	})

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		if msgType != websocket.TextMessage {
			metrics.IncDropped("binary_frame")
			continue
		}
		if !c.limiter.Allow() {
			metrics.IncDropped("rate_limited")
			continue
		}
		if err := c.hub.HandleFrame(ctx, c.id, frame); err != nil {
			c.logger.Debug().Err(err).Msg("inbound frame dropped")
		}
	}
}

func (c *Client) writePump() {
	pingPeriod := c.hub.config.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.hub.config.WriteTimeout))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newClient(h, conn)
	h.Register(c)
	go c.writePump()
	c.readPump(r.Context())
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
