package domain

import "time"

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 200
)

// Message is one directed message between two users.
type Message struct {
	ID         string    `json:"id" bson:"_id"`
	SenderID   string    `json:"senderId" bson:"sender_id"`
	ReceiverID string    `json:"receiverId" bson:"receiver_id"`
	Content    string    `json:"content" bson:"content"`
	PropertyID *string   `json:"propertyId" bson:"property_id,omitempty"`
	IsRead     bool      `json:"isRead" bson:"is_read"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
}

// Counterpart returns the participant of m that is not userID.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID sent or received m.
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Newer reports whether m ranks ahead of other as the most recent message of a
// conversation. Ids are time-ordered, so equal timestamps fall back to arrival order
// through the higher id.
func (m *Message) Newer(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.ID > other.ID
}

type NewMessage struct {
	SenderID   string
	ReceiverID string
	Content    string
	PropertyID *string
}

// Profile is the public summary of a user used to decorate responses.
type Profile struct {
	UserID    string `json:"-" bson:"_id"`
	FirstName string `json:"firstName" bson:"first_name"`
	LastName  string `json:"lastName" bson:"last_name"`
	AvatarURL string `json:"avatarUrl" bson:"avatar_url"`
}

// Conversation is derived per requesting user; it is never stored.
type Conversation struct {
	CounterpartID string
	Profile       Profile
	LastMessage   Message
	UnreadCount   int64
}

// MessageView is a message decorated with both participants' profiles.
type MessageView struct {
	Message
	Sender   Profile `json:"sender"`
	Receiver Profile `json:"receiver"`
}

type Page struct {
	Number int
	Limit  int
}

// Normalize applies the defaults for missing or out of range values.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// MessageQuery selects the messages exchanged between two users.
type MessageQuery struct {
	UserID        string
	CounterpartID string
	PropertyID    *string
	Page          Page
}

// Matches reports whether m belongs to the conversation selected by q.
func (q MessageQuery) Matches(m *Message) bool {
	pair := (m.SenderID == q.UserID && m.ReceiverID == q.CounterpartID) ||
		(m.SenderID == q.CounterpartID && m.ReceiverID == q.UserID)
	if !pair {
		return false
	}
	if q.PropertyID == nil {
		return true
	}
	return m.PropertyID != nil && *m.PropertyID == *q.PropertyID
}
