package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: session not found")
	ErrTerminal        = errors.New("calls: session is in a terminal state")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Store is the persistence contract for call sessions.
//
// Terminal states are sticky: once a stored session is ended, declined or
// canceled, Create and Transition both fail with ErrTerminal.
type Store interface {
	// Create writes the full session document (last write wins).
	Create(ctx context.Context, s CallSession) (Change, error)
	// Transition updates only the status of an existing session.
	Transition(ctx context.Context, dealID string, to Status) (Change, error)
	Get(ctx context.Context, dealID string) (CallSession, error)
	// PurgeTerminalBefore deletes terminal sessions last updated before cutoff.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher receives every committed change.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// ObservedStore publishes each successful write to a Publisher. A failed
// publish is logged; the write itself has already been committed.
type ObservedStore struct {
	Store
	Feed Publisher
	Log  *slog.Logger
}

func (o ObservedStore) Create(ctx context.Context, s CallSession) (Change, error) {
	c, err := o.Store.Create(ctx, s)
	if err != nil {
		return c, err
	}
	o.publish(ctx, c)
	return c, nil
}

func (o ObservedStore) Transition(ctx context.Context, dealID string, to Status) (Change, error) {
	c, err := o.Store.Transition(ctx, dealID, to)
	if err != nil {
		return c, err
	}
	o.publish(ctx, c)
	return c, nil
}

func (o ObservedStore) publish(ctx context.Context, c Change) {
	if o.Feed == nil {
		return
	}
	if err := o.Feed.Publish(ctx, c); err != nil {
		l := o.Log
		if l == nil {
			l = slog.Default()
		}
		l.Warn("call change publish failed", "deal_id", c.DealID, "version", c.After.Version, "err", err)
	}
}

func validateSession(s CallSession) error {
	if s.DealID == "" || !s.Status.Valid() {
		return ErrInvalidArgument
	}
	if s.CallerNumericID == 0 || s.ReceiverNumericID == 0 || s.CallerNumericID == s.ReceiverNumericID {
		return ErrInvalidArgument
	}
	return nil
}
