package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// publishBatchTimeout caps how long a queued event waits for its batch to fill.
const publishBatchTimeout = 10 * time.Millisecond

// KafkaPublisher writes JSON events; the topic is chosen per message.
// Writes are async: Publish only fails on encoding and delivery errors are logged.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

func NewKafkaPublisher(brokers []string, logger *zap.SugaredLogger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           publishBatchTimeout,
		Completion: func(messages []kafkago.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				logger.Warnw("kafka publish failed", "topic", m.Topic, "key", string(m.Key), "err", err)
			}
		},
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Handler processes one consumed record.
type Handler func(ctx context.Context, key string, value []byte) error

type KafkaConsumer struct {
	reader *kafkago.Reader
	logger *zap.SugaredLogger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, logger *zap.SugaredLogger) *KafkaConsumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaConsumer{reader: r, logger: logger}
}

// Start blocks until ctx is canceled. Handler errors are logged and the offset is still committed.
func (c *KafkaConsumer) Start(ctx context.Context, handle Handler) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.logger.Warnw("kafka read error", "topic", c.reader.Config().Topic, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if err := handle(ctx, string(m.Key), m.Value); err != nil {
			c.logger.Warnw("event handler failed", "topic", m.Topic, "offset", m.Offset, "err", err)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
