package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-process Store used by tests and single-instance local
// runs. It is not durable.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]CallSession
	clock    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]CallSession), clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, s CallSession) (Change, error) {
	if err := validateSession(s); err != nil {
		return Change{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	c := Change{DealID: s.DealID}
	if prev, ok := r.sessions[s.DealID]; ok {
		if prev.Status.Terminal() {
			return Change{}, ErrTerminal
		}
		c.Before = &prev
		s.Version = prev.Version + 1
		s.CreatedAt = prev.CreatedAt
	} else {
		s.Version = 1
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
	}
	s.UpdatedAt = now
	r.sessions[s.DealID] = s
	c.After = s
	return c, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, dealID string, to Status) (Change, error) {
	if dealID == "" || !to.Valid() {
		return Change{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.sessions[dealID]
	if !ok {
		return Change{}, ErrNotFound
	}
	if prev.Status.Terminal() {
		return Change{}, ErrTerminal
	}
	next := prev
	next.Status = to
	next.Version = prev.Version + 1
	next.UpdatedAt = r.clock().UTC()
	r.sessions[dealID] = next
	return Change{DealID: dealID, Before: &prev, After: next}, nil
}

func (r *MemoryRepo) Get(ctx context.Context, dealID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[dealID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.Status.Terminal() && s.UpdatedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
