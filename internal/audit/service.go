package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information about call lifecycles.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to call participants.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.DealID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogCallInitiated records a session created by the initiate flow.
func (s *Service) LogCallInitiated(ctx context.Context, dealID, actorUID, status, metadata string) error {
	return s.Append(ctx, Event{
		DealID:   dealID,
		Type:     EventTypeCallInitiated,
		ActorUID: actorUID,
		Status:   status,
		Message:  "call initiated",
		Metadata: metadata,
	})
}

// LogCallTerminated records a terminate request and how many pushes were sent.
func (s *Service) LogCallTerminated(ctx context.Context, dealID, status, metadata string) error {
	return s.Append(ctx, Event{
		DealID:   dealID,
		Type:     EventTypeCallTerminated,
		Status:   status,
		Message:  "call terminated",
		Metadata: metadata,
	})
}

// LogStatusChanged records a participant-driven status update.
func (s *Service) LogStatusChanged(ctx context.Context, dealID, actorUID, status string) error {
	return s.Append(ctx, Event{
		DealID:   dealID,
		Type:     EventTypeStatusChanged,
		ActorUID: actorUID,
		Status:   status,
		Message:  "status changed",
	})
}

// LogPushFailed records a failed push delivery.
func (s *Service) LogPushFailed(ctx context.Context, dealID, message, metadata string) error {
	return s.Append(ctx, Event{
		DealID:   dealID,
		Type:     EventTypePushFailed,
		Message:  message,
		Metadata: metadata,
	})
}
