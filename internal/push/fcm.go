package push

import (
	"context"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// fcmClient is the subset of *messaging.Client used here.
type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender delivers data-only messages through Firebase Cloud Messaging.
type FCMSender struct {
	client fcmClient
}

// NewFCMSender uses the messaging client of an already opened app.
func NewFCMSender(ctx context.Context, app *firebase.App) (*FCMSender, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: firebase messaging: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Name() string { return "fcm" }

func (s *FCMSender) Send(ctx context.Context, m Message) (string, error) {
	return s.client.Send(ctx, buildFCMMessage(m))
}

func buildFCMMessage(m Message) *messaging.Message {
	msg := &messaging.Message{
		Token: m.Token,
		Data:  map[string]string(m.Data),
		Android: &messaging.AndroidConfig{
			Priority: "normal",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "5"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}
	if m.HighPriority {
		msg.Android.Priority = "high"
		msg.APNS.Headers["apns-priority"] = "10"
	}
	if m.TTL > 0 {
		ttl := m.TTL
		msg.Android.TTL = &ttl
		msg.APNS.Headers["apns-expiration"] = strconv.FormatInt(time.Now().Add(m.TTL).Unix(), 10)
	}
	return msg
}
