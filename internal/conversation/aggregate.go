// Package conversation derives the per-user conversation list from the message log.
package conversation

import (
	"sort"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// Reducer groups messages by counterpart and keeps the most recent one per group.
// It is fed one message at a time so callers can stream a cursor through it.
type Reducer struct {
	userID string
	groups map[string]*domain.Conversation
}

func NewReducer(userID string) *Reducer {
	return &Reducer{userID: userID, groups: make(map[string]*domain.Conversation)}
}

// Add folds m into its group. Messages not involving the reducer's user are ignored.
func (r *Reducer) Add(m domain.Message) {
	if !m.Involves(r.userID) {
		return
	}
	other := m.Counterpart(r.userID)
	g, ok := r.groups[other]
	if !ok {
		g = &domain.Conversation{CounterpartID: other, LastMessage: m}
		r.groups[other] = g
	} else if m.Newer(&g.LastMessage) {
		g.LastMessage = m
	}
	if m.ReceiverID == r.userID && m.SenderID == other && !m.IsRead {
		g.UnreadCount++
	}
}

// Result returns one conversation per counterpart ordered by the last message,
// newest first. limit <= 0 means no cap.
func (r *Reducer) Result(limit int) []domain.Conversation {
	out := make([]domain.Conversation, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := &out[i].LastMessage, &out[j].LastMessage
		if a.CreatedAt.Equal(b.CreatedAt) {
			return out[i].CounterpartID < out[j].CounterpartID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Aggregate reduces a snapshot of the log in one call.
func Aggregate(userID string, msgs []domain.Message, limit int) []domain.Conversation {
	r := NewReducer(userID)
	for _, m := range msgs {
		r.Add(m)
	}
	return r.Result(limit)
}
