package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

type Options struct {
	PingInterval    time.Duration
	WriteDeadline   time.Duration
	MaxMessageSize  int64
	EventsPerSecond float64
	Burst           int
	SendBuffer      int
}

// Handler runs the socket session: authenticated connect, join, typing and
// direct relay, and cleanup on disconnect.
type Handler struct {
	registry   *Registry
	dispatcher *Dispatcher
	presence   PresenceTracker
	opts       Options
	logger     *zap.SugaredLogger
}

func NewHandler(registry *Registry, dispatcher *Dispatcher, presence PresenceTracker, opts Options, logger *zap.SugaredLogger) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteDeadline <= 0 {
		opts.WriteDeadline = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 65536
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	return &Handler{registry: registry, dispatcher: dispatcher, presence: presence, opts: opts, logger: logger}
}

// Upgrade rejects plain HTTP requests on the socket route.
func (h *Handler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

func (h *Handler) Serve() fiber.Handler {
	return websocket.New(h.serve)
}

// NewSession creates the client for an authenticated connection.
func (h *Handler) NewSession(id domain.Identity) *Client {
	return NewClient(id.UserID, h.opts.SendBuffer, rate.NewLimiter(rate.Limit(h.opts.EventsPerSecond), h.opts.Burst))
}

func (h *Handler) serve(conn *websocket.Conn) {
	id, ok := conn.Locals(auth.LocalsIdentity).(domain.Identity)
	if !ok || id.UserID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
		return
	}

	client := h.NewSession(id)
	metrics.Connections.Inc()
	defer metrics.Connections.Dec()
	h.logger.Debugw("socket connected", "conn_id", client.ID, "user_id", id.UserID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, client)
	}()

	h.readPump(conn, client)

	h.Disconnect(client)
	<-writerDone
	h.logger.Debugw("socket disconnected", "conn_id", client.ID, "user_id", id.UserID)
}

func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	pongWait := 2 * h.opts.PingInterval
	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("socket read error", "conn_id", client.ID, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.HandleFrame(context.Background(), client, raw)
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-client.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Warnw("write msg error", "conn_id", client.ID, "err", err)
				client.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
			h.Heartbeat(context.Background(), client)
		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// HandleFrame applies one inbound frame from client.
func (h *Handler) HandleFrame(ctx context.Context, client *Client, raw []byte) {
	if !client.Allow() {
		metrics.Deliveries.WithLabelValues("inbound", "throttled").Inc()
		return
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.dispatcher.Reply(client, EventError, ErrorEvent{Message: "malformed frame"})
		return
	}

	switch env.Event {
	case EventJoin:
		h.join(ctx, client, decodeJoin(env.Data))

	case EventTyping:
		var req TypingRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.ReceiverID == "" {
			h.dispatcher.Reply(client, EventError, ErrorEvent{Message: "typing requires receiverId"})
			return
		}
		h.dispatcher.RelayTyping(ctx, client, req.ReceiverID, req.IsTyping)

	case EventSendMessage:
		var req DirectRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.ReceiverID == "" || req.Message == "" {
			h.dispatcher.Reply(client, EventError, ErrorEvent{Message: "send_message requires receiverId and message"})
			return
		}
		h.dispatcher.RelayDirect(ctx, client, req.ReceiverID, req.Message)

	default:
		// unknown events are ignored
	}
}

// decodeJoin accepts either a bare user id string or {"userId": "..."}.
func decodeJoin(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id
	}
	var req JoinRequest
	_ = json.Unmarshal(data, &req)
	return req.UserID
}

func (h *Handler) join(ctx context.Context, client *Client, userID string) {
	if userID == "" {
		h.dispatcher.Reply(client, EventError, ErrorEvent{Message: "join requires userId"})
		return
	}
	if userID != client.UserID {
		h.logger.Warnw("join rejected", "conn_id", client.ID, "session_user", client.UserID, "requested", userID)
		h.dispatcher.Reply(client, EventError, ErrorEvent{Message: "cannot join another user's channel"})
		return
	}
	h.registry.Join(userID, client)
	if err := h.presence.Connected(ctx, userID, client.ID); err != nil {
		h.logger.Warnw("presence update failed", "user_id", userID, "err", err)
	}
	h.dispatcher.Reply(client, EventJoined, JoinRequest{UserID: userID})
}

// Heartbeat keeps the presence of a joined client from expiring.
func (h *Handler) Heartbeat(ctx context.Context, client *Client) {
	userID, ok := h.registry.UserOf(client)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteDeadline)
	defer cancel()
	if err := h.presence.Touch(ctx, userID, client.ID); err != nil {
		h.logger.Warnw("presence refresh failed", "user_id", userID, "err", err)
	}
}

// Disconnect removes client from the registry and closes it.
func (h *Handler) Disconnect(client *Client) {
	client.Close()
	userID, _, ok := h.registry.Leave(client)
	if !ok {
		return
	}
	if err := h.presence.Disconnected(context.Background(), userID, client.ID); err != nil {
		h.logger.Warnw("presence update failed", "user_id", userID, "err", err)
	}
}

// Presence returns the status of userID.
func (h *Handler) Presence(ctx context.Context, userID string) (Presence, error) {
	return h.presence.Get(ctx, userID)
}
