package calls

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// IncomingNotifier pushes the incoming-call message for a session that has
// just entered the calling state.
type IncomingNotifier interface {
	NotifyIncoming(ctx context.Context, s CallSession) error
}

// Claimer arbitrates between watchers so that a transition fires once even
// when several instances observe it.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// MemoryClaimer is a single-process Claimer. Claims expire after ttl, like
// RedisClaimer keys, so the map stays bounded.
type MemoryClaimer struct {
	mu    sync.Mutex
	ttl   time.Duration
	seen  map[string]time.Time
	clock func() time.Time
}

// NewMemoryClaimer keeps claims for ttl. Zero means 24h.
func NewMemoryClaimer(ttl time.Duration) *MemoryClaimer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryClaimer{ttl: ttl, seen: make(map[string]time.Time), clock: time.Now}
}

func (c *MemoryClaimer) Claim(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	for k, exp := range c.seen {
		if !now.Before(exp) {
			delete(c.seen, k)
		}
	}
	if _, ok := c.seen[key]; ok {
		return false, nil
	}
	c.seen[key] = now.Add(c.ttl)
	return true, nil
}

// Watcher reacts to sessions transitioning into StatusCalling.
type Watcher struct {
	feed     Feed
	notifier IncomingNotifier
	claimer  Claimer
	log      *slog.Logger
	timeout  time.Duration
}

type WatcherConfig struct {
	Feed     Feed
	Notifier IncomingNotifier
	Claimer  Claimer
	Log      *slog.Logger
	// Timeout bounds each notification. Defaults to 10s.
	Timeout time.Duration
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		feed:     cfg.Feed,
		notifier: cfg.Notifier,
		claimer:  cfg.Claimer,
		log:      cfg.Log,
		timeout:  cfg.Timeout,
	}
	if w.claimer == nil {
		w.claimer = NewMemoryClaimer(0)
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	if w.timeout <= 0 {
		w.timeout = 10 * time.Second
	}
	return w
}

// Run consumes the feed until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	sub, err := w.feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	w.log.Info("call watcher started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("call watcher stopped")
			return nil
		case c, ok := <-sub.C:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("calls: change feed closed")
			}
			if _, err := w.Handle(ctx, c); err != nil {
				w.log.Error("incoming call push failed", "deal_id", c.DealID, "version", c.After.Version, "err", err)
			}
		}
	}
}

// Handle processes one change. It reports whether a notification was sent.
func (w *Watcher) Handle(ctx context.Context, c Change) (bool, error) {
	if !c.EnteredCalling() {
		return false, nil
	}
	s := c.After
	if s.ReceiverPushToken == "" {
		w.log.Warn("incoming call skipped: receiver has no push token", "deal_id", s.DealID)
		return false, nil
	}

	key := claimKey(s)
	won, err := w.claimer.Claim(ctx, key)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !won {
		return false, nil
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.notifier.NotifyIncoming(nctx, s); err != nil {
		return false, err
	}
	w.log.Info("incoming call pushed", "deal_id", s.DealID, "version", s.Version)
	return true, nil
}

// claimKey names one ringing->calling edge. CreatedAt tells apart a session
// recreated under the same deal id after a purge, whose versions restart at 1.
func claimKey(s CallSession) string {
	return fmt.Sprintf("calls:incoming:%s:%d:%d", s.DealID, s.CreatedAt.UnixMilli(), s.Version)
}
