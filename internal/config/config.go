// Package config loads service settings from a YAML file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Name            string `mapstructure:"name"`
	Env             string `mapstructure:"env" validate:"oneof=development production test"`
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins     string `mapstructure:"cors_origins"`
	ReadTimeout     int    `mapstructure:"read_timeout_seconds"`
	WriteTimeout    int    `mapstructure:"write_timeout_seconds"`
	SendTimeoutMS   int    `mapstructure:"send_timeout_ms" validate:"min=1"`
	ConversationCap int    `mapstructure:"conversation_cap" validate:"min=0"`
}

type StoreCfg struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres mongo"`
}

type PostgresCfg struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisCfg struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	Prefix      string `mapstructure:"prefix"`
	ProfileTTL  int    `mapstructure:"profile_ttl_seconds"`
	PresenceTTL int    `mapstructure:"presence_ttl_seconds"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisCfg) Enabled() bool { return r.Addr != "" }

type EventsCfg struct {
	Driver string `mapstructure:"driver" validate:"oneof=none kafka nats"`
}

type KafkaCfg struct {
	Brokers                  []string `mapstructure:"brokers"`
	GroupID                  string   `mapstructure:"group_id"`
	TopicMessageSent         string   `mapstructure:"topic_message_sent"`
	TopicNotificationCreated string   `mapstructure:"topic_notification_created"`
	TopicPropertyFavorited   string   `mapstructure:"topic_property_favorited"`
}

type NATSCfg struct {
	URL string `mapstructure:"url"`
}

type JWTCfg struct {
	SigningMethod string `mapstructure:"signing_method" validate:"oneof=HS256 RS256"`
	Secret        string `mapstructure:"secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type WSCfg struct {
	PingIntervalSeconds  int     `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int     `mapstructure:"write_deadline_seconds"`
	MaxMessageSize       int64   `mapstructure:"max_message_size"`
	EventsPerSecond      float64 `mapstructure:"events_per_second"`
	Burst                int     `mapstructure:"burst"`
	SendBuffer           int     `mapstructure:"send_buffer"`
}

type RateLimitCfg struct {
	Max           int `mapstructure:"max" validate:"min=0"`
	WindowMinutes int `mapstructure:"window_minutes" validate:"min=1"`
}

type NotifyCfg struct {
	RetrySeconds int `mapstructure:"retry_seconds"`
}

type Config struct {
	App       AppCfg       `mapstructure:"app"`
	Store     StoreCfg     `mapstructure:"store"`
	Postgres  PostgresCfg  `mapstructure:"postgres"`
	Mongo     MongoCfg     `mapstructure:"mongo"`
	Redis     RedisCfg     `mapstructure:"redis"`
	Events    EventsCfg    `mapstructure:"events"`
	Kafka     KafkaCfg     `mapstructure:"kafka"`
	NATS      NATSCfg      `mapstructure:"nats"`
	JWT       JWTCfg       `mapstructure:"jwt"`
	WS        WSCfg        `mapstructure:"ws"`
	RateLimit RateLimitCfg `mapstructure:"rate_limit"`
	Notify    NotifyCfg    `mapstructure:"notify"`

	// Derived
	ReadTimeout     time.Duration `mapstructure:"-"`
	WriteTimeout    time.Duration `mapstructure:"-"`
	SendTimeout     time.Duration `mapstructure:"-"`
	RateLimitWindow time.Duration `mapstructure:"-"`
	ProfileTTL      time.Duration `mapstructure:"-"`
	PresenceTTL     time.Duration `mapstructure:"-"`
	NotifyRetry     time.Duration `mapstructure:"-"`
	PingInterval    time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
}

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.App.Port) }

func (c *Config) IsDev() bool { return c.App.Env == "development" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "messaging-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.cors_origins", "*")
	v.SetDefault("app.read_timeout_seconds", 15)
	v.SetDefault("app.write_timeout_seconds", 15)
	v.SetDefault("app.send_timeout_ms", 5000)
	v.SetDefault("app.conversation_cap", 500)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.migrate", true)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "messaging")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "msg")
	v.SetDefault("redis.profile_ttl_seconds", 300)
	v.SetDefault("redis.presence_ttl_seconds", 3600)

	v.SetDefault("events.driver", "none")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "messaging-service")
	v.SetDefault("kafka.topic_message_sent", "message.sent")
	v.SetDefault("kafka.topic_notification_created", "notification.created")
	v.SetDefault("kafka.topic_property_favorited", "property.favorited")
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("jwt.signing_method", "HS256")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_path", "")

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size", 65536)
	v.SetDefault("ws.events_per_second", 10)
	v.SetDefault("ws.burst", 20)
	v.SetDefault("ws.send_buffer", 256)

	v.SetDefault("rate_limit.max", 100)
	v.SetDefault("rate_limit.window_minutes", 15)
	v.SetDefault("notify.retry_seconds", 2)
}

// Load merges defaults, the optional YAML file at path and the environment.
// Nested keys map to upper-case env names, e.g. STORE_DRIVER or JWT_SECRET.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.ReadTimeout = time.Duration(cfg.App.ReadTimeout) * time.Second
	cfg.WriteTimeout = time.Duration(cfg.App.WriteTimeout) * time.Second
	cfg.SendTimeout = time.Duration(cfg.App.SendTimeoutMS) * time.Millisecond
	cfg.RateLimitWindow = time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	cfg.ProfileTTL = time.Duration(cfg.Redis.ProfileTTL) * time.Second
	cfg.PresenceTTL = time.Duration(cfg.Redis.PresenceTTL) * time.Second
	cfg.NotifyRetry = time.Duration(cfg.Notify.RetrySeconds) * time.Second
	cfg.PingInterval = time.Duration(cfg.WS.PingIntervalSeconds) * time.Second
	cfg.WriteDeadline = time.Duration(cfg.WS.WriteDeadlineSeconds) * time.Second
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.JWT.SigningMethod {
	case "HS256":
		if c.JWT.Secret == "" {
			return errors.New("jwt.secret is required for HS256")
		}
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path is required for RS256")
		}
	}
	if c.Redis.PresenceTTL > 0 && c.Redis.PresenceTTL <= c.WS.PingIntervalSeconds {
		return errors.New("redis.presence_ttl_seconds must exceed ws.ping_interval_seconds")
	}
	if c.Store.Driver == "postgres" && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required when store.driver is postgres")
	}
	if c.Events.Driver == "kafka" && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when events.driver is kafka")
	}
	return nil
}
