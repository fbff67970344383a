package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubNotifier struct {
	mu   sync.Mutex
	sent []CallSession
	err  error
}

func (n *stubNotifier) NotifyIncoming(ctx context.Context, s CallSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, s)
	return nil
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func TestWatcher_FiresOncePerEdge(t *testing.T) {
	ctx := context.Background()
	n := &stubNotifier{}
	w := NewWatcher(WatcherConfig{Feed: NewMemoryFeed(nil), Notifier: n})
	st := NewMemoryRepo()

	c, _ := st.Create(ctx, sampleSession("deal42", StatusRinging))
	if fired, _ := w.Handle(ctx, c); fired {
		t.Fatalf("ringing create must not fire")
	}

	c, _ = st.Transition(ctx, "deal42", StatusCalling)
	fired, err := w.Handle(ctx, c)
	if err != nil || !fired {
		t.Fatalf("expected fire on ringing->calling, fired=%v err=%v", fired, err)
	}

	// Redelivery of the same change is claimed already.
	if fired, _ := w.Handle(ctx, c); fired {
		t.Fatalf("duplicate delivery must not fire")
	}

	// Unrelated update keeps status calling.
	upd := sampleSession("deal42", StatusCalling)
	upd.CallerName = "Renamed"
	c, _ = st.Create(ctx, upd)
	if fired, _ := w.Handle(ctx, c); fired {
		t.Fatalf("calling->calling update must not fire")
	}

	c, _ = st.Transition(ctx, "deal42", StatusEnded)
	if fired, _ := w.Handle(ctx, c); fired {
		t.Fatalf("terminal transition must not fire")
	}

	if n.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", n.count())
	}
	if got := n.sent[0]; got.ReceiverPushToken != "receiver-push" || got.ReceiverToken != "receiver-token" {
		t.Fatalf("notification missing stored receiver fields: %+v", got)
	}
}

func TestWatcher_SkipsWithoutPushToken(t *testing.T) {
	n := &stubNotifier{}
	w := NewWatcher(WatcherConfig{Feed: NewMemoryFeed(nil), Notifier: n})
	s := sampleSession("deal42", StatusCalling)
	s.ReceiverPushToken = ""
	fired, err := w.Handle(context.Background(), Change{DealID: "deal42", After: s})
	if fired || err != nil {
		t.Fatalf("expected skip, fired=%v err=%v", fired, err)
	}
}

func TestWatcher_NotifierError(t *testing.T) {
	n := &stubNotifier{err: errors.New("fcm unavailable")}
	w := NewWatcher(WatcherConfig{Feed: NewMemoryFeed(nil), Notifier: n})
	s := sampleSession("deal42", StatusCalling)
	s.Version = 1
	if _, err := w.Handle(context.Background(), Change{DealID: "deal42", After: s}); err == nil {
		t.Fatalf("expected notifier error")
	}
}

func TestWatcher_SharedClaimerDeduplicatesInstances(t *testing.T) {
	claimer := NewMemoryClaimer(0)
	n1, n2 := &stubNotifier{}, &stubNotifier{}
	w1 := NewWatcher(WatcherConfig{Feed: NewMemoryFeed(nil), Notifier: n1, Claimer: claimer})
	w2 := NewWatcher(WatcherConfig{Feed: NewMemoryFeed(nil), Notifier: n2, Claimer: claimer})

	s := sampleSession("deal42", StatusCalling)
	s.Version = 1
	c := Change{DealID: "deal42", After: s}
	_, _ = w1.Handle(context.Background(), c)
	_, _ = w2.Handle(context.Background(), c)
	if n1.count()+n2.count() != 1 {
		t.Fatalf("expected one notification across instances, got %d", n1.count()+n2.count())
	}
}

func TestWatcher_FiresAgainAfterPurgeAndRecreate(t *testing.T) {
	ctx := context.Background()
	n := &stubNotifier{}
	w := NewWatcher(WatcherConfig{Feed: NewMemoryFeed(nil), Notifier: n})
	st := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	st.clock = func() time.Time { return now }

	ring := func() {
		t.Helper()
		if _, err := st.Create(ctx, sampleSession("deal42", StatusRinging)); err != nil {
			t.Fatalf("create: %v", err)
		}
		c, err := st.Transition(ctx, "deal42", StatusCalling)
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if c.After.Version != 2 {
			t.Fatalf("expected version 2, got %d", c.After.Version)
		}
		if fired, err := w.Handle(ctx, c); err != nil || !fired {
			t.Fatalf("expected fire, fired=%v err=%v", fired, err)
		}
	}

	ring()
	if _, err := st.Transition(ctx, "deal42", StatusEnded); err != nil {
		t.Fatalf("end: %v", err)
	}
	now = now.Add(25 * time.Hour)
	if purged, err := st.PurgeTerminalBefore(ctx, now.Add(-24*time.Hour)); err != nil || purged != 1 {
		t.Fatalf("purge: n=%d err=%v", purged, err)
	}

	// Same deal id and same versions, new session.
	ring()
	if n.count() != 2 {
		t.Fatalf("expected a notification per session, got %d", n.count())
	}
}

func TestMemoryClaimer_ExpiresClaims(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClaimer(time.Hour)
	now := time.Unix(1700000000, 0)
	c.clock = func() time.Time { return now }

	if won, _ := c.Claim(ctx, "k"); !won {
		t.Fatalf("first claim must win")
	}
	if won, _ := c.Claim(ctx, "k"); won {
		t.Fatalf("second claim must lose")
	}

	now = now.Add(time.Hour)
	if won, _ := c.Claim(ctx, "other"); !won {
		t.Fatalf("fresh key must win")
	}
	c.mu.Lock()
	_, kept := c.seen["k"]
	c.mu.Unlock()
	if kept {
		t.Fatalf("expired claim must be swept")
	}
	if won, _ := c.Claim(ctx, "k"); !won {
		t.Fatalf("expired key must be claimable again")
	}
}

func TestWatcher_RunConsumesFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewMemoryFeed(nil)
	n := &stubNotifier{}
	w := NewWatcher(WatcherConfig{Feed: feed, Notifier: n})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	st := ObservedStore{Store: NewMemoryRepo(), Feed: feed}
	deadline := time.Now().Add(2 * time.Second)
	for {
		// Retry until the watcher has subscribed.
		feed.mu.Lock()
		subs := len(feed.subs)
		feed.mu.Unlock()
		if subs > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := st.Create(ctx, sampleSession("deal42", StatusCalling)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for n.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not notify")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}
