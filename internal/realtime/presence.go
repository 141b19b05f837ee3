package realtime

import (
	"context"
	"sync"
	"time"
)

// PresenceTracker records which users hold joined connections.
type PresenceTracker interface {
	Connected(ctx context.Context, userID, connID string) error
	Disconnected(ctx context.Context, userID, connID string) error
	// Touch is called periodically for every joined connection.
	Touch(ctx context.Context, userID, connID string) error
	Get(ctx context.Context, userID string) (Presence, error)
}

// LocalPresence tracks presence for a single instance.
type LocalPresence struct {
	mu       sync.Mutex
	conns    map[string]map[string]struct{}
	lastSeen map[string]time.Time
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{
		conns:    make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

func (p *LocalPresence) Connected(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	set[connID] = struct{}{}
	p.lastSeen[userID] = time.Now().UTC()
	return nil
}

func (p *LocalPresence) Disconnected(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.conns[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(p.conns, userID)
		}
	}
	p.lastSeen[userID] = time.Now().UTC()
	return nil
}

func (p *LocalPresence) Touch(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.conns[userID][connID]; ok {
		p.lastSeen[userID] = time.Now().UTC()
	}
	return nil
}

func (p *LocalPresence) Get(_ context.Context, userID string) (Presence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Presence{UserID: userID, Status: StatusOffline, LastSeen: p.lastSeen[userID]}
	if len(p.conns[userID]) > 0 {
		out.Status = StatusOnline
	}
	return out, nil
}
