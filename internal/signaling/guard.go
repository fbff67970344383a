package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"call-signaling/pkg/utils"
)

// Guard serializes initiate requests per deal id across instances.
type Guard interface {
	// Acquire returns ErrInFlight when the deal is already held.
	Acquire(ctx context.Context, dealID string) (release func(), err error)
}

// RedisGuard holds a per-deal slot in Redis. The TTL frees the slot if the
// holder dies before releasing it.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, log: log}
}

func inFlightKey(dealID string) string { return "calls:inflight:" + dealID }

func (g *RedisGuard) Acquire(ctx context.Context, dealID string) (func(), error) {
	key := inFlightKey(dealID)
	ok, err := utils.AcquireConcurrencyCap(ctx, g.rdb, key, 1, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("signaling: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrInFlight
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(rctx, g.rdb, key); err != nil {
			g.log.Warn("in-flight guard release failed", "deal_id", dealID, "err", err)
		}
	}, nil
}
