// Package api exposes the messaging REST surface and the websocket endpoint over fiber.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/realtime"
	"github.com/fathima-sithara/messaging-service/internal/service"
)

// Messages is the subset of the message service the HTTP layer calls.
type Messages interface {
	Send(ctx context.Context, sender domain.Identity, in service.SendInput) (*domain.Message, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, userID, counterpartID string, propertyID *string, page domain.Page) ([]domain.MessageView, error)
	MarkRead(ctx context.Context, userID, messageID string) error
	MarkConversationRead(ctx context.Context, userID, counterpartID string) (int64, error)
	Delete(ctx context.Context, userID, messageID string) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Health(ctx context.Context) error
}

type PresenceReader interface {
	Presence(ctx context.Context, userID string) (realtime.Presence, error)
}

// TokenValidator turns a bearer token into the caller identity.
type TokenValidator interface {
	Validate(token string) (domain.Identity, error)
}

type Config struct {
	AppName      string
	CORSOrigins  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	messages Messages
	presence PresenceReader
	logger   *zap.SugaredLogger
}

// NewServer builds the fiber app. ws may be nil when the socket endpoint is served elsewhere.
func NewServer(cfg Config, messages Messages, presence PresenceReader, tokens TokenValidator, limiter fiber.Handler,
	ws *realtime.Handler, logger *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})
	s := &Server{messages: messages, presence: presence, logger: logger}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))
	app.Use(requestLogger(logger))

	app.Get("/health", s.health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if ws != nil {
		app.Use("/ws", ws.Upgrade, Auth(tokens, true))
		app.Get("/ws", ws.Serve())
	}

	api := app.Group("/api", Auth(tokens, false))
	if limiter != nil {
		api.Use(limiter)
	}

	msgs := api.Group("/messages")
	msgs.Get("/", s.listConversations)
	msgs.Post("/", s.sendMessage)
	msgs.Get("/unread-count", s.unreadCount)
	msgs.Get("/conversation/:userId", s.listMessages)
	msgs.Put("/conversation/:userId/read", s.markConversationRead)
	msgs.Put("/:id/read", s.markRead)
	msgs.Delete("/:id", s.deleteMessage)

	api.Get("/presence/:userId", s.getPresence)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "route not found")
	})
	return app
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := s.messages.Health(ctx); err != nil {
		s.logger.Warnw("health check failed", "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransientStore):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(logger *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		msg := err.Error()
		if code >= fiber.StatusInternalServerError {
			logger.Errorw("request failed", "method", c.Method(), "path", c.Path(), "status", code, "err", err)
			if code == fiber.StatusInternalServerError {
				msg = "internal server error"
			}
		}
		return c.Status(code).JSON(fiber.Map{"error": utils.StatusMessage(code), "message": msg})
	}
}
