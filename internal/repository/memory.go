package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/fathima-sithara/messaging-service/internal/conversation"
	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// MemoryStore keeps the message log in process. Used for local runs and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      []domain.Message
	notifications []domain.Notification
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the timestamp source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MemoryStore) ListConversationPartners(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return conversation.Aggregate(userID, s.snapshot(), limit), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page := q.Page.Normalize()

	newestFirst := lo.Filter(s.snapshot(), func(m domain.Message, _ int) bool { return q.Matches(&m) })
	sort.Slice(newestFirst, func(i, j int) bool {
		return newestFirst[i].Newer(&newestFirst[j])
	})
	if page.Offset() >= len(newestFirst) {
		return []domain.Message{}, nil
	}
	window := newestFirst[page.Offset():min(page.Offset()+page.Limit, len(newestFirst))]
	return lo.Reverse(append([]domain.Message(nil), window...)), nil
}

func (s *MemoryStore) Create(ctx context.Context, nm domain.NewMessage) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := domain.Message{
		ID:         newMessageID(),
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Content:    nm.Content,
		PropertyID: nm.PropertyID,
		CreatedAt:  s.now(),
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, messageID, receiverID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID && s.messages[i].ReceiverID == receiverID {
			s.messages[i].IsRead = true
		}
	}
	return nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, userID, counterpartID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ReceiverID == userID && m.SenderID == counterpartID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Delete(ctx context.Context, messageID, senderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID && s.messages[i].SenderID == senderID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(lo.CountBy(s.snapshot(), func(m domain.Message) bool {
		return m.ReceiverID == userID && !m.IsRead
	})), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return fmt.Errorf("%w: notification %s exists", domain.ErrConflict, n.ID)
		}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

// Notifications returns the notifications created for userID.
func (s *MemoryStore) Notifications(userID string) []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.notifications, func(n domain.Notification, _ int) bool {
		return n.UserID == userID
	})
}

// MemoryProfiles is a fixed profile directory.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

func NewMemoryProfiles(profiles ...domain.Profile) *MemoryProfiles {
	p := &MemoryProfiles{profiles: make(map[string]domain.Profile)}
	for _, pr := range profiles {
		p.profiles[pr.UserID] = pr
	}
	return p
}

func (p *MemoryProfiles) Put(pr domain.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[pr.UserID] = pr
}

func (p *MemoryProfiles) Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.Profile, len(userIDs))
	for _, id := range userIDs {
		if pr, ok := p.profiles[id]; ok {
			out[id] = pr
		}
	}
	return out, nil
}
