package push

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoToken       = errors.New("push: target has no push token")
	ErrNotConfigured = errors.New("push: sender not configured")
)

// Sender is the transport-agnostic interface used by the dispatcher.
//
// Rules:
// - No provider SDK calls outside push adapters.
// - Messages are data-only; the device decides what to render.
type Sender interface {
	Name() string
	Send(ctx context.Context, m Message) (messageID string, err error)
}

// Message is one delivery to one device.
type Message struct {
	// Token is the opaque device push address.
	Token string
	Data  Payload
	// HighPriority asks the backend to wake the device immediately.
	HighPriority bool
	// TTL bounds how long the backend may hold an undeliverable message.
	TTL time.Duration
}
