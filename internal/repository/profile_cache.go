package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

// CachedProfiles serves profile lookups from redis and falls through to next on a miss.
// Redis failures degrade to a direct lookup.
type CachedProfiles struct {
	next   domain.ProfileLookup
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewCachedProfiles(next domain.ProfileLookup, rdb *redis.Client, prefix string, ttl time.Duration, logger *zap.SugaredLogger) *CachedProfiles {
	return &CachedProfiles{next: next, rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *CachedProfiles) key(id string) string { return fmt.Sprintf("%s:profile:%s", c.prefix, id) }

func (c *CachedProfiles) Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	ids := lo.Uniq(userIDs)
	out := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	vals, err := c.rdb.MGet(ctx, lo.Map(ids, func(id string, _ int) string { return c.key(id) })...).Result()
	if err != nil {
		c.logger.Warnw("profile cache read failed", "err", err)
		return c.next.Profiles(ctx, ids)
	}

	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var p domain.Profile
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		p.UserID = ids[i]
		out[ids[i]] = p
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.Profiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return out, nil
	}
	pipe := c.rdb.Pipeline()
	for id, p := range fetched {
		out[id] = p
		b, _ := json.Marshal(p)
		pipe.Set(ctx, c.key(id), b, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warnw("profile cache write failed", "err", err)
	}
	return out, nil
}
