package realtime

import (
	"sync"

	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

// Registry maps user ids to the live connections joined under them.
// A connection joins at most one user channel; disconnect is the only way out.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]string),
	}
}

// Join registers c under userID. It reports whether c is the user's first connection.
// Joining again under the same id is a no-op; joining a different id moves c.
func (r *Registry) Join(userID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.joined[c]; ok {
		if prev == userID {
			return false
		}
		r.removeLocked(c, prev)
	}
	set, ok := r.rooms[userID]
	if !ok {
		set = make(map[*Client]struct{})
		r.rooms[userID] = set
	}
	set[c] = struct{}{}
	r.joined[c] = userID
	metrics.JoinedUsers.Set(float64(len(r.rooms)))
	return len(set) == 1
}

// Leave removes c from its channel. It returns the user id c was joined under and
// whether that user has no connections left. ok is false when c never joined.
func (r *Registry) Leave(c *Client) (userID string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.joined[c]
	if !ok {
		return "", false, false
	}
	last = r.removeLocked(c, userID)
	metrics.JoinedUsers.Set(float64(len(r.rooms)))
	return userID, last, true
}

func (r *Registry) removeLocked(c *Client, userID string) bool {
	delete(r.joined, c)
	set, ok := r.rooms[userID]
	if !ok {
		return true
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.rooms, userID)
		return true
	}
	return false
}

// Connections returns a copy of the connections joined under userID.
func (r *Registry) Connections(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// UserOf returns the user id c joined under.
func (r *Registry) UserOf(c *Client) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.joined[c]
	return userID, ok
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[userID]) > 0
}

// Len returns the number of joined connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.joined)
}
