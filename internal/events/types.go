// Package events carries domain events over kafka or nats.
package events

import "time"

const (
	TopicMessageSent         = "message.sent"
	TopicNotificationCreated = "notification.created"
	TopicPropertyFavorited   = "property.favorited"
)

type MessageSent struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	PropertyID *string   `json:"propertyId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type NotificationCreated struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Type        string    `json:"type"`
	ReferenceID string    `json:"referenceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PropertyFavorited is produced by the property service when a user favorites a listing.
type PropertyFavorited struct {
	PropertyID string `json:"propertyId"`
	OwnerID    string `json:"ownerId"`
	UserID     string `json:"userId"`
}
