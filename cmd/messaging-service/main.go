package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/api"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/config"
	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/logger"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/notify"
	"github.com/fathima-sithara/messaging-service/internal/realtime"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
)

type publisher interface {
	domain.EventPublisher
	Close() error
}

type stores struct {
	messages      domain.MessageStore
	profiles      domain.ProfileLookup
	notifications domain.NotificationStore
	close         func()
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(cfg.IsDev())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Errorw("service stopped", "err", err)
		os.Exit(1)
	}
}

func openStores(ctx context.Context, cfg *config.Config, lg *zap.SugaredLogger) (*stores, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := repository.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			if err := repository.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		lg.Infow("using postgres store")
		return &stores{
			messages:      repository.NewPostgresStore(pool),
			profiles:      repository.NewPostgresProfiles(pool),
			notifications: repository.NewPostgresNotifications(pool),
			close:         pool.Close,
		}, nil
	case "mongo":
		client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		msgs, err := repository.NewMongoStore(ctx, db)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		lg.Infow("using mongo store", "database", cfg.Mongo.Database)
		return &stores{
			messages:      msgs,
			profiles:      repository.NewMongoProfiles(db),
			notifications: repository.NewMongoNotifications(db),
			close:         func() { _ = client.Disconnect(context.Background()) },
		}, nil
	default:
		lg.Warnw("using in-memory store; messages are lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{
			messages:      mem,
			profiles:      repository.NewMemoryProfiles(),
			notifications: mem,
			close:         func() {},
		}, nil
	}
}

func openPublisher(cfg *config.Config, lg *zap.SugaredLogger) (publisher, error) {
	switch cfg.Events.Driver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.Kafka.Brokers, lg), nil
	case "nats":
		return events.NewNATSPublisher(cfg.NATS.URL)
	default:
		return events.Discard{}, nil
	}
}

func run(cfg *config.Config, lg *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	st, err := openStores(startCtx, cfg, lg)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.close()

	pub, err := openPublisher(cfg, lg)
	if err != nil {
		return fmt.Errorf("open event publisher: %w", err)
	}
	defer func() { _ = pub.Close() }()

	jv, err := auth.NewJWTValidator(cfg.JWT.SigningMethod, cfg.JWT.PublicKeyPath, cfg.JWT.Secret)
	if err != nil {
		return fmt.Errorf("jwt validator init: %w", err)
	}

	registry := realtime.NewRegistry()
	var relay realtime.Relay
	var presence realtime.PresenceTracker = realtime.NewLocalPresence()
	limiter := api.MemoryRateLimiter(cfg.RateLimit.Max, cfg.RateLimitWindow)
	profiles := st.profiles
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		relay = realtime.NewRedisRelay(rdb, cfg.Redis.Prefix, lg)
		presence = realtime.NewPresenceStore(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		limiter = api.NewRedisRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.Max, cfg.RateLimitWindow, lg).Middleware()
		profiles = repository.NewCachedProfiles(st.profiles, rdb, cfg.Redis.Prefix, cfg.ProfileTTL, lg)
	}

	dispatcher := realtime.NewDispatcher(registry, relay, lg)
	if rr, ok := relay.(*realtime.RedisRelay); ok {
		go func() {
			if err := rr.Run(ctx, dispatcher.HandleRelay); err != nil && ctx.Err() == nil {
				lg.Errorw("relay subscriber stopped", "err", err)
			}
		}()
	}

	emitter := notify.NewEmitter(st.notifications, pub, cfg.Kafka.TopicNotificationCreated, cfg.NotifyRetry, lg)
	if cfg.Events.Driver == "kafka" {
		favorites := events.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPropertyFavorited, cfg.Kafka.GroupID, lg)
		defer func() { _ = favorites.Close() }()
		go favorites.Start(ctx, emitter.HandleFavoriteEvent)
	}

	svc := service.NewMessageService(st.messages, profiles, emitter, dispatcher, pub, service.Options{
		SendTimeout:      cfg.SendTimeout,
		ConversationCap:  cfg.App.ConversationCap,
		MessageSentTopic: cfg.Kafka.TopicMessageSent,
	}, lg)

	ws := realtime.NewHandler(registry, dispatcher, presence, realtime.Options{
		PingInterval:    cfg.PingInterval,
		WriteDeadline:   cfg.WriteDeadline,
		MaxMessageSize:  cfg.WS.MaxMessageSize,
		EventsPerSecond: cfg.WS.EventsPerSecond,
		Burst:           cfg.WS.Burst,
		SendBuffer:      cfg.WS.SendBuffer,
	}, lg)

	app := api.NewServer(api.Config{
		AppName:      cfg.App.Name,
		CORSOrigins:  cfg.App.CORSOrigins,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, svc, ws, jv, limiter, ws, lg)

	errs := make(chan error, 1)
	go func() {
		lg.Infow("starting messaging service", "addr", cfg.Addr(), "store", cfg.Store.Driver, "events", cfg.Events.Driver)
		errs <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		lg.Infow("shutdown signal received")
	}
	return shutdown(app, lg)
}

func shutdown(app *fiber.App, lg *zap.SugaredLogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("fiber shutdown: %w", err)
	}
	lg.Infow("shut down cleanly")
	return nil
}
