package domain

import "time"

type NotificationType string

const (
	NotificationMessage  NotificationType = "message"
	NotificationFavorite NotificationType = "favorite"
)

type Notification struct {
	ID          string           `json:"id" bson:"_id"`
	UserID      string           `json:"userId" bson:"user_id"`
	Title       string           `json:"title" bson:"title"`
	Message     string           `json:"message" bson:"message"`
	Type        NotificationType `json:"type" bson:"type"`
	ReferenceID string           `json:"referenceId" bson:"reference_id"`
	Read        bool             `json:"read" bson:"read"`
	CreatedAt   time.Time        `json:"createdAt" bson:"created_at"`
}
