package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return Change{}
}

func TestMemoryFeed_FanOut(t *testing.T) {
	ctx := context.Background()
	f := NewMemoryFeed(nil)

	a, _ := f.Subscribe(ctx)
	b, _ := f.Subscribe(ctx)
	defer a.Close()
	defer b.Close()

	want := Change{DealID: "deal42", After: CallSession{DealID: "deal42", Status: StatusCalling, Version: 3}}
	if err := f.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, sub := range []*Subscription{a, b} {
		got := receive(t, sub)
		if got.DealID != "deal42" || got.After.Version != 3 {
			t.Fatalf("unexpected change: %+v", got)
		}
	}
}

func TestMemoryFeed_CloseOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewMemoryFeed(nil)
	sub, _ := f.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not closed after cancel")
	}
	// Publishing after the subscriber left must not panic.
	if err := f.Publish(context.Background(), Change{DealID: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	sub.Close()
}

type failingFeed struct{ calls int }

func (f *failingFeed) Publish(ctx context.Context, c Change) error {
	f.calls++
	return errors.New("broker down")
}

func TestObservedStore_PublishesCommittedChanges(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryFeed(nil)
	sub, _ := feed.Subscribe(ctx)
	defer sub.Close()

	st := ObservedStore{Store: NewMemoryRepo(), Feed: feed}
	if _, err := st.Create(ctx, sampleSession("deal42", StatusRinging)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.Transition(ctx, "deal42", StatusCalling); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	// Rejected writes publish nothing.
	if _, err := st.Transition(ctx, "missing", StatusEnded); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := receive(t, sub)
	second := receive(t, sub)
	if first.After.Status != StatusRinging || second.After.Status != StatusCalling {
		t.Fatalf("unexpected order: %s then %s", first.After.Status, second.After.Status)
	}
	if !second.EnteredCalling() {
		t.Fatalf("expected calling edge")
	}
	select {
	case c := <-sub.C:
		t.Fatalf("unexpected extra change: %+v", c)
	default:
	}
}

func TestObservedStore_PublishFailureDoesNotFailWrite(t *testing.T) {
	f := &failingFeed{}
	st := ObservedStore{Store: NewMemoryRepo(), Feed: f}
	if _, err := st.Create(context.Background(), sampleSession("deal42", StatusRinging)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", f.calls)
	}
}
