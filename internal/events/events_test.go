package events

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiscard(t *testing.T) {
	req := require.New(t)
	var d Discard
	req.NoError(d.Publish(context.Background(), TopicMessageSent, "k", MessageSent{ID: "m1"}))
	req.NoError(d.Close())
}

func TestKafkaPublisher_WritesAsync(t *testing.T) {
	req := require.New(t)

	pub := NewKafkaPublisher([]string{"127.0.0.1:9092"}, zap.NewNop().Sugar())

	// batches flush within milliseconds and callers never wait on acks
	req.True(pub.writer.Async)
	req.Equal(publishBatchTimeout, pub.writer.BatchTimeout)
	req.Less(pub.writer.BatchTimeout, 100*time.Millisecond)
	req.NotNil(pub.writer.Completion)
}

func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	req := require.New(t)

	nc, err := nats.Connect(url)
	req.NoError(err)
	defer nc.Close()
	sub, err := nc.SubscribeSync(TopicMessageSent)
	req.NoError(err)
	req.NoError(nc.Flush())

	pub, err := NewNATSPublisher(url)
	req.NoError(err)
	defer pub.Close()

	req.NoError(pub.Publish(context.Background(), TopicMessageSent, "receiver-1", MessageSent{ID: "m1", SenderID: "a", ReceiverID: "receiver-1"}))

	msg, err := sub.NextMsg(2 * time.Second)
	req.NoError(err)
	req.Equal("receiver-1", msg.Header.Get("key"))
	var got MessageSent
	req.NoError(json.Unmarshal(msg.Data, &got))
	req.Equal("m1", got.ID)
}

func TestKafkaRoundTrip(t *testing.T) {
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}
	req := require.New(t)
	list := strings.Split(brokers, ",")
	topic := "test." + TopicPropertyFavorited + "." + time.Now().Format("150405.000")

	pub := NewKafkaPublisher(list, zap.NewNop().Sugar())
	defer pub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req.NoError(pub.Publish(ctx, topic, "owner-1", PropertyFavorited{PropertyID: "p1", OwnerID: "owner-1", UserID: "u2"}))

	consumer := NewKafkaConsumer(list, topic, "test-"+topic, zap.NewNop().Sugar())
	defer consumer.Close()
	got := make(chan PropertyFavorited, 1)
	go consumer.Start(ctx, func(_ context.Context, key string, value []byte) error {
		var ev PropertyFavorited
		if err := json.Unmarshal(value, &ev); err != nil {
			return err
		}
		got <- ev
		cancel()
		return nil
	})

	select {
	case ev := <-got:
		req.Equal("owner-1", ev.OwnerID)
	case <-ctx.Done():
		select {
		case ev := <-got:
			req.Equal("owner-1", ev.OwnerID)
		default:
			t.Fatal("no event consumed")
		}
	}
}
