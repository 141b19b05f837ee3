package realtime

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Client is one live connection. Its identity is fixed at upgrade time.
type Client struct {
	ID      string
	UserID  string
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func NewClient(userID string, buffer int, limiter *rate.Limiter) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// Enqueue queues a frame without blocking. A full buffer or closed client drops it.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound is drained by the connection's writer.
func (c *Client) Outbound() <-chan []byte { return c.send }

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Allow reports whether an inbound event fits the client's rate.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}
