package push

import (
	"strconv"
	"time"
)

// Payload is the flat string map carried as push data.
type Payload map[string]string

const (
	TypeCall           = "call"
	TypeCallTerminated = "call_terminated"
	TypeIncomingCall   = "incoming_call"
)

func (p Payload) Type() string { return p["type"] }

// Ringing carries everything the receiver needs to join the channel without
// another round trip to the backend.
type Ringing struct {
	DealID              string
	Channel             string
	CallerUID           uint32
	ReceiverUID         uint32
	ReceiverToken       string
	CallerName          string
	CallerFirebaseUID   string
	ReceiverFirebaseUID string
	CallerPushToken     string
	ExpiresAt           time.Time
}

func RingingPayload(r Ringing) Payload {
	p := Payload{
		"type":                TypeCall,
		"dealId":              r.DealID,
		"callId":              r.DealID,
		"uuid":                r.DealID,
		"agoraChannel":        r.Channel,
		"callerUid":           strconv.FormatUint(uint64(r.CallerUID), 10),
		"receiverUid":         strconv.FormatUint(uint64(r.ReceiverUID), 10),
		"agoraToken":          r.ReceiverToken,
		"callerFirebaseUid":   r.CallerFirebaseUID,
		"receiverFirebaseUid": r.ReceiverFirebaseUID,
	}
	if r.CallerName != "" {
		p["callerName"] = r.CallerName
	}
	if r.CallerPushToken != "" {
		p["callerFCMToken"] = r.CallerPushToken
	}
	if !r.ExpiresAt.IsZero() {
		p["expiresAt"] = strconv.FormatInt(r.ExpiresAt.Unix(), 10)
	}
	return p
}

// TerminatedPayload tells a device to dismiss its call UI.
func TerminatedPayload(dealID, status string) Payload {
	return Payload{
		"type":   TypeCallTerminated,
		"dealId": dealID,
		"status": status,
	}
}

// Incoming is the message sent when a stored session enters the calling state.
type Incoming struct {
	CallID        string
	CallerID      string
	CallerName    string
	Channel       string
	ReceiverUID   uint32
	ReceiverToken string
}

func IncomingCallPayload(in Incoming) Payload {
	p := Payload{
		"type":         TypeIncomingCall,
		"callId":       in.CallID,
		"callerId":     in.CallerID,
		"agoraChannel": in.Channel,
		"agoraToken":   in.ReceiverToken,
	}
	if in.ReceiverUID != 0 {
		p["receiverUid"] = strconv.FormatUint(uint64(in.ReceiverUID), 10)
	}
	if in.CallerName != "" {
		p["callerName"] = in.CallerName
	}
	return p
}
