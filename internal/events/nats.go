package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes on a subject named after the topic.
type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("messaging-service"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(topic)
	msg.Data = b
	if key != "" {
		msg.Header.Set("key", key)
	}
	return p.nc.PublishMsg(msg)
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
