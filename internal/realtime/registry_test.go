package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinAndLeave(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	// Given two devices for the same user
	phone := NewClient("alice", 4, nil)
	laptop := NewClient("alice", 4, nil)

	// When both join
	req.True(r.Join("alice", phone))
	req.False(r.Join("alice", laptop))

	// Then both are reachable
	req.ElementsMatch([]*Client{phone, laptop}, r.Connections("alice"))
	req.Equal(2, r.Len())

	// When one disconnects the other stays
	userID, last, ok := r.Leave(phone)
	req.True(ok)
	req.Equal("alice", userID)
	req.False(last)
	req.Equal([]*Client{laptop}, r.Connections("alice"))

	// When the last one disconnects the channel is gone
	_, last, ok = r.Leave(laptop)
	req.True(ok)
	req.True(last)
	req.False(r.Online("alice"))
	req.Empty(r.Connections("alice"))
}

func TestRegistry_LeaveWithoutJoin(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	_, _, ok := r.Leave(NewClient("bob", 1, nil))

	req.False(ok)
}

func TestRegistry_RejoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	c := NewClient("alice", 1, nil)

	r.Join("alice", c)
	r.Join("alice", c)

	req.Len(r.Connections("alice"), 1)
	req.Equal(1, r.Len())
}

func TestRegistry_JoinOtherChannelMoves(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	c := NewClient("alice", 1, nil)

	r.Join("alice", c)
	r.Join("bob", c)

	req.False(r.Online("alice"))
	req.Equal([]*Client{c}, r.Connections("bob"))
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	var wg sync.WaitGroup
	clients := make([]*Client, 200)
	for i := range clients {
		clients[i] = NewClient("alice", 1, nil)
	}
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			r.Join("alice", c)
			_ = r.Connections("alice")
		}(c)
	}
	wg.Wait()
	req.Len(r.Connections("alice"), len(clients))

	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			r.Leave(c)
		}(c)
	}
	wg.Wait()
	req.Zero(r.Len())
	req.False(r.Online("alice"))
}
