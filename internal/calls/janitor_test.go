package calls

import (
	"context"
	"testing"
	"time"
)

func TestJanitor_RunOnce(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryRepo()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st.clock = func() time.Time { return base }

	_, _ = st.Create(ctx, sampleSession("a", StatusRinging))
	_, _ = st.Transition(ctx, "a", StatusDeclined)
	_, _ = st.Create(ctx, sampleSession("b", StatusRinging))

	j := NewJanitor(st, 24*time.Hour, time.Minute, nil)
	j.clock = func() time.Time { return base.Add(23 * time.Hour) }
	if n, err := j.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing purged inside retention, n=%d err=%v", n, err)
	}

	j.clock = func() time.Time { return base.Add(25 * time.Hour) }
	n, err := j.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged, n=%d err=%v", n, err)
	}
	if _, err := st.Get(ctx, "b"); err != nil {
		t.Fatalf("ringing session must survive: %v", err)
	}
}

func TestJanitor_Disabled(t *testing.T) {
	j := NewJanitor(NewMemoryRepo(), 0, 0, nil)
	if j.Enabled() {
		t.Fatalf("zero retention must disable the janitor")
	}
	if n, err := j.RunOnce(context.Background()); n != 0 || err != nil {
		t.Fatalf("disabled janitor purged n=%d err=%v", n, err)
	}
}
