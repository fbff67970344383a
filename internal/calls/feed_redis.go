package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"call-signaling/pkg/utils"
)

const DefaultChangesChannel = "calls:changes"

// RedisFeed distributes changes between service instances over Redis pub/sub.
// Pub/sub is at-most-once: a subscriber that is disconnected misses changes.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisFeed(rdb *redis.Client, channel string, log *slog.Logger) *RedisFeed {
	if channel == "" {
		channel = DefaultChangesChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisFeed{rdb: rdb, channel: channel, log: log}
}

func (f *RedisFeed) Publish(ctx context.Context, c Change) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("calls: encode change: %w", err)
	}
	return f.rdb.Publish(ctx, f.channel, b).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := f.rdb.Subscribe(ctx, f.channel)
	// Wait for the subscription confirmation so no change published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("calls: subscribe %s: %w", f.channel, err)
	}

	out := make(chan Change, subscriberBuffer)
	done := make(chan struct{})
	sub := &Subscription{C: out}
	sub.close = func() {
		close(done)
		_ = ps.Close()
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case <-done:
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					f.log.Warn("call change decode failed", "channel", f.channel, "err", err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					sub.Close()
					return
				case <-done:
					return
				}
			}
		}
	}()
	return sub, nil
}

// RedisClaimer lets exactly one instance claim a key, e.g. one incoming-call
// push per session version.
type RedisClaimer struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisClaimer(rdb *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisClaimer{rdb: rdb, ttl: ttl}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	return utils.ClaimOnce(ctx, c.rdb, key, c.ttl)
}
