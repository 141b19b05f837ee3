package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

// Relay forwards frames to other instances.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
}

type RelayMessage struct {
	Origin string          `json:"origin"`
	UserID string          `json:"userId"`
	Event  string          `json:"event"`
	Frame  json.RawMessage `json:"frame"`
}

// Dispatcher pushes frames to the connections joined under a user id.
// Every push is best effort: nothing is queued for users without connections
// and failures never reach the caller.
type Dispatcher struct {
	registry *Registry
	relay    Relay
	node     string
	logger   *zap.SugaredLogger
}

// NewDispatcher builds a dispatcher; relay may be nil for a single instance.
func NewDispatcher(registry *Registry, relay Relay, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{registry: registry, relay: relay, node: uuid.NewString(), logger: logger}
}

func (d *Dispatcher) Node() string { return d.node }

// DeliverMessage pushes a persisted message to its receiver.
func (d *Dispatcher) DeliverMessage(ctx context.Context, m *domain.Message) {
	d.push(ctx, EventReceiveMessage, m.ReceiverID, Delivery{
		ID:         m.ID,
		SenderID:   m.SenderID,
		Content:    m.Content,
		PropertyID: m.PropertyID,
		CreatedAt:  m.CreatedAt,
	}, nil)
}

// RelayTyping forwards a typing state from the sending connection to receiverID.
func (d *Dispatcher) RelayTyping(ctx context.Context, from *Client, receiverID string, isTyping bool) {
	d.push(ctx, EventUserTyping, receiverID, TypingEvent{SenderID: from.UserID, IsTyping: isTyping}, from)
}

// RelayDirect forwards an unpersisted message from the sending connection to receiverID.
func (d *Dispatcher) RelayDirect(ctx context.Context, from *Client, receiverID, message string) {
	d.push(ctx, EventReceiveMessage, receiverID, DirectEvent{
		SenderID:  from.UserID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}, from)
}

// Reply sends a frame to a single connection.
func (d *Dispatcher) Reply(c *Client, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		d.logger.Warnw("encode reply failed", "event", event, "err", err)
		return
	}
	if !c.Enqueue(frame) {
		metrics.Deliveries.WithLabelValues(event, "dropped").Inc()
	}
}

func (d *Dispatcher) push(ctx context.Context, event, userID string, data any, except *Client) {
	frame, err := encode(event, data)
	if err != nil {
		d.logger.Warnw("encode event failed", "event", event, "user_id", userID, "err", err)
		return
	}
	d.deliverLocal(event, userID, frame, except)

	if d.relay == nil {
		return
	}
	err = d.relay.Publish(ctx, RelayMessage{Origin: d.node, UserID: userID, Event: event, Frame: frame})
	if err != nil {
		d.logger.Warnw("relay publish failed", "event", event, "user_id", userID, "err", err)
	}
}

func (d *Dispatcher) deliverLocal(event, userID string, frame []byte, except *Client) int {
	delivered := 0
	for _, c := range d.registry.Connections(userID) {
		if c == except {
			continue
		}
		if c.Enqueue(frame) {
			delivered++
		} else {
			metrics.Deliveries.WithLabelValues(event, "dropped").Inc()
		}
	}
	if delivered == 0 {
		metrics.Deliveries.WithLabelValues(event, "offline").Inc()
	} else {
		metrics.Deliveries.WithLabelValues(event, "delivered").Add(float64(delivered))
	}
	return delivered
}

// HandleRelay delivers a frame published by another instance.
func (d *Dispatcher) HandleRelay(msg RelayMessage) {
	if msg.Origin == d.node {
		return
	}
	d.deliverLocal(msg.Event, msg.UserID, msg.Frame, nil)
}
