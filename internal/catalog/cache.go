package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

const keyPrefix = "catalog:session-type:"

// Cached is a read-through redis cache in front of another Catalog. Cache
// failures degrade to the backing catalog; they never fail a lookup.
type Cached struct {
	next Catalog
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

// NewCached wraps next with a redis cache.
func NewCached(next Catalog, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (c *Cached) Get(ctx context.Context, id string) (*model.SessionType, error) {
	return c.lookup(ctx, keyPrefix+"id:"+id, func() (*model.SessionType, error) {
		return c.next.Get(ctx, id)
	})
}

func (c *Cached) ByEventType(ctx context.Context, uri string) (*model.SessionType, error) {
	return c.lookup(ctx, keyPrefix+"uri:"+uri, func() (*model.SessionType, error) {
		return c.next.ByEventType(ctx, uri)
	})
}

func (c *Cached) lookup(ctx context.Context, key string, load func() (*model.SessionType, error)) (*model.SessionType, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var st model.SessionType
		if jerr := json.Unmarshal(raw, &st); jerr == nil {
			return &st, nil
		}
		c.log.Warn("catalog cache entry corrupt", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}

	st, err := load()
	if err != nil {
		return nil, err
	}
	if b, jerr := json.Marshal(st); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			c.log.Warn("catalog cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return st, nil
}
