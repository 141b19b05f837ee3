package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

type recordingRelay struct {
	msgs []RelayMessage
	err  error
}

func (r *recordingRelay) Publish(_ context.Context, msg RelayMessage) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func readFrame(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case b := <-c.Outbound():
		var env Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	default:
		t.Fatalf("no frame queued for %s", c.UserID)
		return Envelope{}
	}
}

func requireEmpty(t *testing.T, c *Client) {
	t.Helper()
	require.Len(t, c.Outbound(), 0)
}

func TestDispatcher_DeliverMessage(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	d := NewDispatcher(r, nil, zap.NewNop().Sugar())

	// Given bob on two devices and carol online
	phone, laptop := NewClient("bob", 4, nil), NewClient("bob", 4, nil)
	carol := NewClient("carol", 4, nil)
	r.Join("bob", phone)
	r.Join("bob", laptop)
	r.Join("carol", carol)

	prop := "p-1"
	m := &domain.Message{ID: "m-1", SenderID: "alice", ReceiverID: "bob", Content: "hi", PropertyID: &prop, CreatedAt: time.Now().UTC()}

	// When
	d.DeliverMessage(context.Background(), m)

	// Then every bob connection gets it and carol gets nothing
	for _, c := range []*Client{phone, laptop} {
		env := readFrame(t, c)
		req.Equal(EventReceiveMessage, env.Event)
		var got Delivery
		req.NoError(json.Unmarshal(env.Data, &got))
		req.Equal("m-1", got.ID)
		req.Equal("alice", got.SenderID)
		req.Equal("hi", got.Content)
		req.Equal("p-1", *got.PropertyID)
	}
	requireEmpty(t, carol)
}

func TestDispatcher_NoConnectionsIsSilent(t *testing.T) {
	req := require.New(t)
	d := NewDispatcher(NewRegistry(), nil, zap.NewNop().Sugar())

	req.NotPanics(func() {
		d.DeliverMessage(context.Background(), &domain.Message{ID: "m", SenderID: "a", ReceiverID: "nobody"})
	})
}

func TestDispatcher_FullBufferDrops(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	d := NewDispatcher(r, nil, zap.NewNop().Sugar())
	slow := NewClient("bob", 1, nil)
	r.Join("bob", slow)

	d.DeliverMessage(context.Background(), &domain.Message{ID: "1", ReceiverID: "bob"})
	d.DeliverMessage(context.Background(), &domain.Message{ID: "2", ReceiverID: "bob"})

	req.Len(slow.Outbound(), 1)
}

func TestDispatcher_RelayTypingSkipsOrigin(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	d := NewDispatcher(r, nil, zap.NewNop().Sugar())

	alice := NewClient("alice", 4, nil)
	aliceTab := NewClient("alice", 4, nil)
	bob := NewClient("bob", 4, nil)
	r.Join("alice", alice)
	r.Join("alice", aliceTab)
	r.Join("bob", bob)

	// alice types to herself from one tab: only the other tab sees it
	d.RelayTyping(context.Background(), alice, "alice", true)
	requireEmpty(t, alice)
	req.Equal(EventUserTyping, readFrame(t, aliceTab).Event)

	d.RelayTyping(context.Background(), alice, "bob", false)
	env := readFrame(t, bob)
	var got TypingEvent
	req.NoError(json.Unmarshal(env.Data, &got))
	req.Equal(TypingEvent{SenderID: "alice", IsTyping: false}, got)
}

func TestDispatcher_CrossInstance(t *testing.T) {
	req := require.New(t)
	relay := &recordingRelay{err: errors.New("redis down")}

	// Given two instances sharing a relay
	r1, r2 := NewRegistry(), NewRegistry()
	d1 := NewDispatcher(r1, relay, zap.NewNop().Sugar())
	d2 := NewDispatcher(r2, nil, zap.NewNop().Sugar())
	bob := NewClient("bob", 4, nil)
	r2.Join("bob", bob)

	// When instance 1 delivers, publish errors are swallowed
	d1.DeliverMessage(context.Background(), &domain.Message{ID: "m", SenderID: "a", ReceiverID: "bob"})
	req.Len(relay.msgs, 1)
	req.Equal(d1.Node(), relay.msgs[0].Origin)

	// Then instance 2 delivers the relayed frame locally
	d2.HandleRelay(relay.msgs[0])
	req.Equal(EventReceiveMessage, readFrame(t, bob).Event)

	// And instance 1 ignores its own publication
	r1.Join("bob", NewClient("bob", 4, nil))
	d1.HandleRelay(relay.msgs[0])
	req.Len(r1.Connections("bob")[0].Outbound(), 0)
}
