package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/mocks"
)

func TestEmitter_MessageReceived(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockNotificationStore(ctrl)
	pub := mocks.NewMockEventPublisher(ctrl)
	e := NewEmitter(store, pub, events.TopicNotificationCreated, time.Second, zap.NewNop().Sugar())
	msg := &domain.Message{ID: "m-1", SenderID: "a", ReceiverID: "b", Content: "hi"}

	t.Run("should store a message notification for the receiver", func(t *testing.T) {
		req := require.New(t)

		var stored *domain.Notification
		store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, n *domain.Notification) error {
				stored = n
				return nil
			}).Times(1)
		pub.EXPECT().Publish(gomock.Any(), events.TopicNotificationCreated, "b", gomock.Any()).Return(nil).Times(1)

		err := e.MessageReceived(context.Background(), msg, domain.Identity{UserID: "a", Email: "dio@example.com"})

		req.NoError(err)
		req.Equal("b", stored.UserID)
		req.Equal(TitleNewMessage, stored.Title)
		req.Equal("You have a new message from dio@example.com", stored.Message)
		req.Equal(domain.NotificationMessage, stored.Type)
		req.Equal("m-1", stored.ReferenceID)
	})

	t.Run("should retry transient store failures", func(t *testing.T) {
		req := require.New(t)

		gomock.InOrder(
			store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Return(domain.ErrTransientStore),
			store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Return(nil),
		)
		pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

		req.NoError(e.MessageReceived(context.Background(), msg, domain.Identity{UserID: "a"}))
	})

	t.Run("should not retry validation failures", func(t *testing.T) {
		req := require.New(t)

		store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Return(domain.ErrValidation).Times(1)

		err := e.MessageReceived(context.Background(), msg, domain.Identity{UserID: "a"})

		req.ErrorIs(err, domain.ErrValidation)
	})

	t.Run("should treat a duplicate from a committed retry as stored", func(t *testing.T) {
		req := require.New(t)

		var ids []string
		record := func(_ context.Context, n *domain.Notification) {
			if n.ID == "" {
				n.ID = "n-1"
			}
			ids = append(ids, n.ID)
		}
		gomock.InOrder(
			store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).
				Do(record).Return(domain.ErrTransientStore),
			store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).
				Do(record).Return(domain.ErrConflict),
		)
		pub.EXPECT().Publish(gomock.Any(), events.TopicNotificationCreated, "b", gomock.Any()).Return(nil).Times(1)

		err := e.MessageReceived(context.Background(), msg, domain.Identity{UserID: "a"})

		req.NoError(err)
		req.Equal([]string{"n-1", "n-1"}, ids)
	})

	t.Run("should swallow publish failures", func(t *testing.T) {
		req := require.New(t)

		store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Return(nil)
		pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

		req.NoError(e.MessageReceived(context.Background(), msg, domain.Identity{UserID: "a"}))
	})
}

func TestEmitter_GivesUpAfterMaxElapsed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	store := mocks.NewMockNotificationStore(ctrl)
	store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Return(domain.ErrTransientStore).MinTimes(1)
	e := NewEmitter(store, nil, events.TopicNotificationCreated, 100*time.Millisecond, zap.NewNop().Sugar())

	err := e.MessageReceived(context.Background(), &domain.Message{ID: "m", ReceiverID: "b"}, domain.Identity{UserID: "a"})

	req.ErrorIs(err, domain.ErrTransientStore)
}

func TestEmitter_PropertyFavorited(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockNotificationStore(ctrl)
	e := NewEmitter(store, nil, events.TopicNotificationCreated, time.Second, zap.NewNop().Sugar())

	t.Run("should notify the owner", func(t *testing.T) {
		req := require.New(t)

		store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, n *domain.Notification) error {
				req.Equal("owner", n.UserID)
				req.Equal(TitleNewFavorite, n.Title)
				req.Equal(BodyNewFavorite, n.Message)
				req.Equal(domain.NotificationFavorite, n.Type)
				req.Equal("p-1", n.ReferenceID)
				return nil
			}).Times(1)

		err := e.HandleFavoriteEvent(context.Background(), "", []byte(`{"propertyId":"p-1","ownerId":"owner","userId":"fan"}`))

		req.NoError(err)
	})

	t.Run("should skip owners favoriting their own property", func(t *testing.T) {
		req := require.New(t)

		store.EXPECT().CreateNotification(gomock.Any(), gomock.Any()).Times(0)

		req.NoError(e.PropertyFavorited(context.Background(), events.PropertyFavorited{PropertyID: "p-1", OwnerID: "o", UserID: "o"}))
	})

	t.Run("should reject malformed events", func(t *testing.T) {
		req := require.New(t)

		req.ErrorIs(e.HandleFavoriteEvent(context.Background(), "", []byte(`{`)), domain.ErrValidation)
		req.ErrorIs(e.PropertyFavorited(context.Background(), events.PropertyFavorited{OwnerID: "o"}), domain.ErrValidation)
	})
}
