// Package notify creates notification records as a side effect of messaging and favorites.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

const (
	TitleNewMessage  = "New Message"
	TitleNewFavorite = "New Favorite"
	BodyNewFavorite  = "Someone favorited your property!"
)

type Emitter struct {
	store      domain.NotificationStore
	publisher  domain.EventPublisher
	topic      string
	maxElapsed time.Duration
	logger     *zap.SugaredLogger
}

// NewEmitter retries store writes with exponential backoff for up to maxElapsed.
func NewEmitter(store domain.NotificationStore, publisher domain.EventPublisher, topic string, maxElapsed time.Duration, logger *zap.SugaredLogger) *Emitter {
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Second
	}
	return &Emitter{store: store, publisher: publisher, topic: topic, maxElapsed: maxElapsed, logger: logger}
}

// MessageReceived records a notification for the receiver of m.
func (e *Emitter) MessageReceived(ctx context.Context, m *domain.Message, sender domain.Identity) error {
	from := sender.Email
	if from == "" {
		from = sender.UserID
	}
	return e.emit(ctx, &domain.Notification{
		UserID:      m.ReceiverID,
		Title:       TitleNewMessage,
		Message:     fmt.Sprintf("You have a new message from %s", from),
		Type:        domain.NotificationMessage,
		ReferenceID: m.ID,
	})
}

// PropertyFavorited notifies the owner unless they favorited their own listing.
func (e *Emitter) PropertyFavorited(ctx context.Context, ev events.PropertyFavorited) error {
	if ev.PropertyID == "" || ev.OwnerID == "" {
		return fmt.Errorf("%w: propertyId and ownerId are required", domain.ErrValidation)
	}
	if ev.OwnerID == ev.UserID {
		return nil
	}
	return e.emit(ctx, &domain.Notification{
		UserID:      ev.OwnerID,
		Title:       TitleNewFavorite,
		Message:     BodyNewFavorite,
		Type:        domain.NotificationFavorite,
		ReferenceID: ev.PropertyID,
	})
}

// HandleFavoriteEvent decodes a property.favorited record.
func (e *Emitter) HandleFavoriteEvent(ctx context.Context, _ string, value []byte) error {
	var ev events.PropertyFavorited
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return e.PropertyFavorited(ctx, ev)
}

func (e *Emitter) emit(ctx context.Context, n *domain.Notification) error {
	op := func() error {
		err := e.store.CreateNotification(ctx, n)
		// n.ID is fixed after the first attempt, so a conflict means an
		// earlier attempt committed before its error surfaced.
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		if errors.Is(err, domain.ErrValidation) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = e.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("create notification: %w", err)
	}

	if e.publisher != nil {
		ev := events.NotificationCreated{
			ID: n.ID, UserID: n.UserID, Type: string(n.Type), ReferenceID: n.ReferenceID, CreatedAt: n.CreatedAt,
		}
		if err := e.publisher.Publish(ctx, e.topic, n.UserID, ev); err != nil {
			e.logger.Warnw("notification event publish failed", "notification_id", n.ID, "err", err)
		}
	}
	return nil
}
