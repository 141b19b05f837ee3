package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay fans frames out to every instance over one pub/sub channel.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	logger  *zap.SugaredLogger
}

func NewRedisRelay(rdb *redis.Client, prefix string, logger *zap.SugaredLogger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: prefix + ":ws:global", logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, b).Err()
}

// Run subscribes and hands every relayed frame to handle until ctx is canceled.
func (r *RedisRelay) Run(ctx context.Context, handle func(RelayMessage)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			var msg RelayMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warnw("bad relay payload", "err", err)
				continue
			}
			handle(msg)
		}
	}
}

type Presence struct {
	UserID   string    `json:"userId"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceStore keeps per-user connection sets and an online/offline record in redis
// so every instance sees the same status.
// Keys:
//   - <prefix>:conn:<userID>     set of connection ids
//   - <prefix>:presence:<userID> json {status, last_seen}
type PresenceStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPresenceStore(rdb *redis.Client, prefix string, ttl time.Duration) *PresenceStore {
	return &PresenceStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *PresenceStore) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", s.prefix, userID) }
func (s *PresenceStore) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

type presenceRecord struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func (s *PresenceStore) set(ctx context.Context, userID, status string, ttl time.Duration) error {
	b, _ := json.Marshal(presenceRecord{Status: status, LastSeen: time.Now().Unix()})
	return s.rdb.Set(ctx, s.presenceKey(userID), b, ttl).Err()
}

func (s *PresenceStore) Connected(ctx context.Context, userID, connID string) error {
	return s.refresh(ctx, userID, connID)
}

// Touch renews the connection and online record of a live connection.
func (s *PresenceStore) Touch(ctx context.Context, userID, connID string) error {
	return s.refresh(ctx, userID, connID)
}

func (s *PresenceStore) refresh(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	b, _ := json.Marshal(presenceRecord{Status: StatusOnline, LastSeen: time.Now().Unix()})
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, connID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.Set(ctx, s.presenceKey(userID), b, s.ttl)
		return nil
	})
	return err
}

// Disconnected marks the user offline once no instance holds a connection for them.
func (s *PresenceStore) Disconnected(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	if err := s.rdb.SRem(ctx, key, connID).Err(); err != nil {
		return err
	}
	n, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.set(ctx, userID, StatusOffline, 0)
	}
	return nil
}

// Get returns the stored presence; users never seen are offline with a zero LastSeen.
func (s *PresenceStore) Get(ctx context.Context, userID string) (Presence, error) {
	out := Presence{UserID: userID, Status: StatusOffline}
	b, err := s.rdb.Get(ctx, s.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	var rec presenceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return out, err
	}
	out.Status = rec.Status
	out.LastSeen = time.Unix(rec.LastSeen, 0).UTC()
	return out, nil
}
