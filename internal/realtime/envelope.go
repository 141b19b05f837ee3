package realtime

import (
	"encoding/json"
	"time"
)

// Socket event names.
const (
	EventJoin           = "join"
	EventJoined         = "joined"
	EventTyping         = "typing"
	EventUserTyping     = "user_typing"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRequest struct {
	UserID string `json:"userId"`
}

type TypingRequest struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type TypingEvent struct {
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

type DirectRequest struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type DirectEvent struct {
	SenderID  string    `json:"senderId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Delivery is the payload pushed to the receiver when a message is persisted.
type Delivery struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	Content    string    `json:"content"`
	PropertyID *string   `json:"propertyId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
