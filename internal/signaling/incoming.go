package signaling

import (
	"context"

	"call-signaling/internal/audit"
	"call-signaling/internal/calls"
	"call-signaling/internal/push"
)

// IncomingNotifier sends the incoming_call push for sessions entering the
// calling state, using the credentials already stored on the session.
type IncomingNotifier struct {
	Pusher Pusher
	// Audit is optional.
	Audit *audit.Service
}

func (n IncomingNotifier) NotifyIncoming(ctx context.Context, s calls.CallSession) error {
	p := push.IncomingCallPayload(push.Incoming{
		CallID:        s.DealID,
		CallerID:      s.CallerIdentity,
		CallerName:    s.CallerName,
		Channel:       s.ChannelName,
		ReceiverUID:   s.ReceiverNumericID,
		ReceiverToken: s.ReceiverToken,
	})
	res := n.Pusher.Send(ctx, push.Target{Role: "receiver", Token: s.ReceiverPushToken}, p)
	if res.Err != nil && n.Audit != nil {
		_ = n.Audit.LogPushFailed(ctx, s.DealID, "incoming call push failed", metadata(map[string]any{
			"target": res.Target.Role,
			"error":  res.Err.Error(),
		}))
	}
	return res.Err
}
