package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/service"
)

type sendMessageReq struct {
	ReceiverID string  `json:"receiverId"`
	Content    string  `json:"content"`
	PropertyID *string `json:"propertyId"`
}

type lastMessageDTO struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	PropertyID *string   `json:"propertyId"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

type conversationDTO struct {
	UserID      string         `json:"userId"`
	FirstName   string         `json:"firstName"`
	LastName    string         `json:"lastName"`
	AvatarURL   string         `json:"avatarUrl"`
	UnreadCount int64          `json:"unreadCount"`
	LastMessage lastMessageDTO `json:"lastMessage"`
}

func toConversationDTO(c domain.Conversation, _ int) conversationDTO {
	return conversationDTO{
		UserID:      c.CounterpartID,
		FirstName:   c.Profile.FirstName,
		LastName:    c.Profile.LastName,
		AvatarURL:   c.Profile.AvatarURL,
		UnreadCount: c.UnreadCount,
		LastMessage: lastMessageDTO{
			ID:         c.LastMessage.ID,
			Content:    c.LastMessage.Content,
			PropertyID: c.LastMessage.PropertyID,
			IsRead:     c.LastMessage.IsRead,
			CreatedAt:  c.LastMessage.CreatedAt,
		},
	}
}

func caller(c *fiber.Ctx) (domain.Identity, error) {
	id, ok := auth.Identity(c)
	if !ok || id.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: no session", domain.ErrUnauthorized)
	}
	return id, nil
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	convs, err := s.messages.ListConversations(c.UserContext(), id.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversations": lo.Map(convs, toConversationDTO)})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var propertyID *string
	if p := c.Query("propertyId"); p != "" {
		propertyID = &p
	}
	page := domain.Page{Number: c.QueryInt("page", domain.DefaultPage), Limit: c.QueryInt("limit", domain.DefaultLimit)}

	msgs, err := s.messages.ListMessages(c.UserContext(), id.UserID, c.Params("userId"), propertyID, page)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid payload", domain.ErrValidation)
	}
	msg, err := s.messages.Send(c.UserContext(), id, service.SendInput{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		PropertyID: req.PropertyID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Message sent", "data": msg})
}

func (s *Server) markRead(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	if err := s.messages.MarkRead(c.UserContext(), id.UserID, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Message marked as read"})
}

func (s *Server) markConversationRead(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	n, err := s.messages.MarkConversationRead(c.UserContext(), id.UserID, c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Conversation marked as read", "updated": n})
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	if err := s.messages.Delete(c.UserContext(), id.UserID, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Message deleted"})
}

func (s *Server) unreadCount(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	n, err := s.messages.UnreadCount(c.UserContext(), id.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unreadCount": n})
}

func (s *Server) getPresence(c *fiber.Ctx) error {
	if s.presence == nil {
		return fiber.NewError(fiber.StatusNotFound, "presence is not enabled")
	}
	p, err := s.presence.Presence(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}
