package calls

import (
	"context"
	"log/slog"
	"sync"
)

// Feed is a Publisher that can also be subscribed to.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Subscription delivers changes on C until Close is called or the context
// passed to Subscribe is done. C is closed afterwards.
type Subscription struct {
	C <-chan Change

	once  sync.Once
	close func()
}

func (s *Subscription) Close() {
	s.once.Do(s.close)
}

const subscriberBuffer = 64

// MemoryFeed fans changes out to in-process subscribers.
// A subscriber that falls subscriberBuffer changes behind loses changes; the
// drop is logged.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
	log  *slog.Logger
}

func NewMemoryFeed(log *slog.Logger) *MemoryFeed {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryFeed{subs: make(map[chan Change]struct{}), log: log}
}

func (f *MemoryFeed) Publish(ctx context.Context, c Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- c:
		default:
			f.log.Warn("call change dropped for slow subscriber", "deal_id", c.DealID, "version", c.After.Version)
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context) (*Subscription, error) {
	ch := make(chan Change, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	done := make(chan struct{})
	sub := &Subscription{C: ch}
	sub.close = func() {
		close(done)
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	return sub, nil
}
