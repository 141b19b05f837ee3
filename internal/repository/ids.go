package repository

import "github.com/google/uuid"

// newMessageID returns a UUIDv7. Ids from one process sort in creation order,
// which every store uses to order messages sharing a timestamp.
func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
