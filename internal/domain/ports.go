//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_ports.go -package=mocks

package domain

import "context"

// MessageStore is the durable message log.
type MessageStore interface {
	// ListConversationPartners returns at most limit conversations, most recent first.
	// Profiles are left empty.
	ListConversationPartners(ctx context.Context, userID string, limit int) ([]Conversation, error)
	// ListMessages returns one page of the conversation, oldest first.
	ListMessages(ctx context.Context, q MessageQuery) ([]Message, error)
	Create(ctx context.Context, nm NewMessage) (*Message, error)
	// MarkRead is a no-op when receiverID is not the message's receiver.
	MarkRead(ctx context.Context, messageID, receiverID string) error
	MarkConversationRead(ctx context.Context, userID, counterpartID string) (int64, error)
	// Delete returns ErrNotFound when no message with that id was sent by senderID.
	Delete(ctx context.Context, messageID, senderID string) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Ping(ctx context.Context) error
}

// ProfileLookup resolves profile summaries. Unknown ids are absent from the result.
type ProfileLookup interface {
	Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
}

// EventPublisher publishes payload as JSON on topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}
