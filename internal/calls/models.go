package calls

import "time"

// CallSession is one call attempt between a caller and a receiver.
//
// DealID is supplied by the client and doubles as the RTC channel name.
// Numeric identities are derived from the string identities and are never 0.
// Push tokens may be empty when the device registered none.
type CallSession struct {
	DealID      string `json:"deal_id" db:"deal_id"`
	Status      Status `json:"status" db:"status"`
	ChannelName string `json:"channel_name" db:"channel_name"`

	CallerIdentity   string `json:"caller_identity" db:"caller_identity"`
	ReceiverIdentity string `json:"receiver_identity" db:"receiver_identity"`
	CallerName       string `json:"caller_name,omitempty" db:"caller_name"`

	CallerNumericID   uint32 `json:"caller_numeric_id" db:"caller_numeric_id"`
	ReceiverNumericID uint32 `json:"receiver_numeric_id" db:"receiver_numeric_id"`

	CallerToken    string    `json:"caller_token" db:"caller_token"`
	ReceiverToken  string    `json:"receiver_token" db:"receiver_token"`
	TokenExpiresAt time.Time `json:"token_expires_at" db:"token_expires_at"`

	CallerPushToken   string `json:"caller_push_token,omitempty" db:"caller_push_token"`
	ReceiverPushToken string `json:"receiver_push_token,omitempty" db:"receiver_push_token"`

	// Version increases by one on every write.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusCalling  Status = "calling"
	StatusEnded    Status = "ended"
	StatusDeclined Status = "declined"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further mutation is allowed after s.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusDeclined, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusCalling, StatusEnded, StatusDeclined, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsParticipant reports whether identity is the caller or the receiver.
func (c CallSession) IsParticipant(identity string) bool {
	return identity != "" && (identity == c.CallerIdentity || identity == c.ReceiverIdentity)
}

// Change describes one successful write. Before is nil when the session did
// not exist yet.
type Change struct {
	DealID string       `json:"deal_id"`
	Before *CallSession `json:"before,omitempty"`
	After  CallSession  `json:"after"`
}

// EnteredCalling reports the edge "status was not calling, now is calling".
// Writes that keep the status unchanged never qualify.
func (c Change) EnteredCalling() bool {
	if c.After.Status != StatusCalling {
		return false
	}
	return c.Before == nil || c.Before.Status != StatusCalling
}
