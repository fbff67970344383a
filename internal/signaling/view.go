package signaling

import (
	"time"

	"call-signaling/internal/calls"
)

// SessionView is the participant-facing projection of a session. It carries
// only the requesting participant's own channel credential.
type SessionView struct {
	DealID              string       `json:"dealId"`
	Status              calls.Status `json:"status"`
	Channel             string       `json:"agoraChannel"`
	CallerFirebaseUID   string       `json:"callerFirebaseUid"`
	ReceiverFirebaseUID string       `json:"receiverFirebaseUid"`
	CallerName          string       `json:"callerName,omitempty"`
	CallerUID           uint32       `json:"callerUid"`
	ReceiverUID         uint32       `json:"receiverUid"`
	AgoraToken          string       `json:"agoraToken,omitempty"`
	TokenExpiresAt      int64        `json:"tokenExpiresAt,omitempty"`
	Version             int64        `json:"version"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

func ViewFor(s calls.CallSession, uid string) SessionView {
	v := SessionView{
		DealID:              s.DealID,
		Status:              s.Status,
		Channel:             s.ChannelName,
		CallerFirebaseUID:   s.CallerIdentity,
		ReceiverFirebaseUID: s.ReceiverIdentity,
		CallerName:          s.CallerName,
		CallerUID:           s.CallerNumericID,
		ReceiverUID:         s.ReceiverNumericID,
		Version:             s.Version,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
	// Terminal sessions hand out no credentials.
	if !s.Status.Terminal() {
		switch uid {
		case s.CallerIdentity:
			v.AgoraToken = s.CallerToken
		case s.ReceiverIdentity:
			v.AgoraToken = s.ReceiverToken
		}
		if v.AgoraToken != "" && !s.TokenExpiresAt.IsZero() {
			v.TokenExpiresAt = s.TokenExpiresAt.Unix()
		}
	}
	return v
}
