package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

// Notifier records the durable notification for a delivered message.
type Notifier interface {
	MessageReceived(ctx context.Context, m *domain.Message, sender domain.Identity) error
}

// Deliverer pushes a persisted message to the receiver's live connections.
type Deliverer interface {
	DeliverMessage(ctx context.Context, m *domain.Message)
}

type Options struct {
	SendTimeout      time.Duration
	ConversationCap  int
	MessageSentTopic string
}

type SendInput struct {
	ReceiverID string  `validate:"required"`
	Content    string  `validate:"required"`
	PropertyID *string `validate:"omitempty"`
}

type MessageService struct {
	store     domain.MessageStore
	profiles  domain.ProfileLookup
	notifier  Notifier
	deliverer Deliverer
	publisher domain.EventPublisher
	validate  *validator.Validate
	opts      Options
	logger    *zap.SugaredLogger
}

func NewMessageService(store domain.MessageStore, profiles domain.ProfileLookup, notifier Notifier, deliverer Deliverer,
	publisher domain.EventPublisher, opts Options, logger *zap.SugaredLogger) *MessageService {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.MessageSentTopic == "" {
		opts.MessageSentTopic = events.TopicMessageSent
	}
	return &MessageService{
		store:     store,
		profiles:  profiles,
		notifier:  notifier,
		deliverer: deliverer,
		publisher: publisher,
		validate:  validator.New(),
		opts:      opts,
		logger:    logger,
	}
}

// Send persists a message, then notifies and pushes it on a best-effort basis.
// Only validation and persistence failures are returned.
func (s *MessageService) Send(ctx context.Context, sender domain.Identity, in SendInput) (*domain.Message, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: receiver and content are required", domain.ErrValidation)
	}
	if in.PropertyID != nil && *in.PropertyID == "" {
		in.PropertyID = nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	m, err := s.store.Create(sctx, domain.NewMessage{
		SenderID:   sender.UserID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		PropertyID: in.PropertyID,
	})
	timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut && !errors.Is(err, domain.ErrTransientStore) {
			err = fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
		}
		return nil, fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesSent.Inc()

	// the message is committed; side effects must not depend on the caller staying
	bg := context.WithoutCancel(ctx)
	s.deliverer.DeliverMessage(bg, m)
	if err := s.notifier.MessageReceived(bg, m, sender); err != nil {
		s.logger.Warnw("notification failed", "message_id", m.ID, "receiver_id", m.ReceiverID, "err", err)
	}
	s.publish(bg, m)
	return m, nil
}

func (s *MessageService) publish(ctx context.Context, m *domain.Message) {
	if s.publisher == nil {
		return
	}
	ev := events.MessageSent{ID: m.ID, SenderID: m.SenderID, ReceiverID: m.ReceiverID, PropertyID: m.PropertyID, CreatedAt: m.CreatedAt}
	if err := s.publisher.Publish(ctx, s.opts.MessageSentTopic, m.ReceiverID, ev); err != nil {
		s.logger.Warnw("message event publish failed", "message_id", m.ID, "err", err)
	}
}

// ListConversations returns the caller's conversations decorated with profiles.
func (s *MessageService) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	convs, err := s.store.ListConversationPartners(ctx, userID, s.opts.ConversationCap)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	ids := lo.Map(convs, func(c domain.Conversation, _ int) string { return c.CounterpartID })
	profiles, err := s.profiles.Profiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	for i := range convs {
		p := profiles[convs[i].CounterpartID]
		p.UserID = convs[i].CounterpartID
		convs[i].Profile = p
	}
	return convs, nil
}

// ListMessages returns one page of the conversation with counterpartID, oldest first.
func (s *MessageService) ListMessages(ctx context.Context, userID, counterpartID string, propertyID *string, page domain.Page) ([]domain.MessageView, error) {
	if counterpartID == "" {
		return nil, fmt.Errorf("%w: counterpart is required", domain.ErrValidation)
	}
	msgs, err := s.store.ListMessages(ctx, domain.MessageQuery{
		UserID:        userID,
		CounterpartID: counterpartID,
		PropertyID:    propertyID,
		Page:          page.Normalize(),
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	profiles, err := s.profiles.Profiles(ctx, []string{userID, counterpartID})
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return lo.Map(msgs, func(m domain.Message, _ int) domain.MessageView {
		return domain.MessageView{Message: m, Sender: profiles[m.SenderID], Receiver: profiles[m.ReceiverID]}
	}), nil
}

// MarkRead sets the read flag when userID received the message and does nothing otherwise.
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID string) error {
	if err := s.store.MarkRead(ctx, messageID, userID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkConversationRead marks every unread message counterpartID sent to userID.
func (s *MessageService) MarkConversationRead(ctx context.Context, userID, counterpartID string) (int64, error) {
	if counterpartID == "" {
		return 0, fmt.Errorf("%w: counterpart is required", domain.ErrValidation)
	}
	n, err := s.store.MarkConversationRead(ctx, userID, counterpartID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return n, nil
}

// Delete removes a message sent by userID. Unknown and foreign messages are both ErrNotFound.
func (s *MessageService) Delete(ctx context.Context, userID, messageID string) error {
	if err := s.store.Delete(ctx, messageID, userID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

func (s *MessageService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}
