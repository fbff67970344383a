package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/identity"
	"call-signaling/internal/push"
	"call-signaling/internal/rtctoken"
	"call-signaling/pkg/logger"
)

// Verifier checks identity assertions.
type Verifier interface {
	Verify(ctx context.Context, token string, now time.Time) (auth.Claims, error)
	VerifyFor(ctx context.Context, token, uid string, now time.Time) (auth.Claims, error)
}

// CredentialIssuer mints the two channel credentials of a call.
type CredentialIssuer interface {
	IssuePair(channel string, callerUID, receiverUID uint32, now time.Time) (rtctoken.Pair, error)
}

// Pusher delivers push payloads.
type Pusher interface {
	Send(ctx context.Context, t push.Target, p push.Payload) push.Result
	SendMany(ctx context.Context, targets []push.Target, p push.Payload) push.Report
}

// Service sequences call signaling:
// verify assertion -> map identities -> issue credentials -> persist -> push.
//
// Every downstream step runs detached from the caller's cancellation with its
// own timeout; a disconnecting client never aborts a step halfway.
type Service struct {
	store    calls.Store
	verifier Verifier
	issuer   CredentialIssuer
	pusher   Pusher
	guard    Guard
	audit    *audit.Service

	initialStatus calls.Status
	stepTimeout   time.Duration
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Deps struct {
	Store    calls.Store
	Verifier Verifier
	Issuer   CredentialIssuer
	Pusher   Pusher
	// Guard is optional.
	Guard Guard
	// Audit is optional.
	Audit *audit.Service

	InitialStatus calls.Status
	StepTimeout   time.Duration
}

func NewService(d Deps) *Service {
	s := &Service{
		store:         d.Store,
		verifier:      d.Verifier,
		issuer:        d.Issuer,
		pusher:        d.Pusher,
		guard:         d.Guard,
		audit:         d.Audit,
		initialStatus: d.InitialStatus,
		stepTimeout:   d.StepTimeout,
		clock:         time.Now,
	}
	if s.initialStatus == "" || s.initialStatus.Terminal() || !s.initialStatus.Valid() {
		s.initialStatus = calls.StatusRinging
	}
	if s.stepTimeout <= 0 {
		s.stepTimeout = 10 * time.Second
	}
	return s
}

type InitiateRequest struct {
	ReceiverPushToken string
	DealID            string
	CallerName        string
	CallerPushToken   string
	CallerUID         string
	ReceiverUID       string
	IDToken           string
}

type InitiateResult struct {
	AgoraToken        string
	Channel           string
	CallerNumericID   uint32
	ReceiverNumericID uint32
	CallerUID         string
	ReceiverUID       string
	Status            calls.Status
	ExpiresAt         time.Time
}

// Initiate creates a call session and rings the receiver.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	log := logger.From(ctx)
	req = trimInitiate(req)

	// received
	if missing := missingFields(map[string]string{
		"receiverFCMToken":    req.ReceiverPushToken,
		"dealId":              req.DealID,
		"callerFirebaseUid":   req.CallerUID,
		"receiverFirebaseUid": req.ReceiverUID,
		"idToken":             req.IDToken,
	}); len(missing) > 0 {
		return InitiateResult{}, validation("missing fields: %s", strings.Join(missing, ", "))
	}

	base := context.WithoutCancel(ctx)
	now := s.clock().UTC()

	// authenticating
	{
		vctx, cancel := context.WithTimeout(base, s.stepTimeout)
		_, err := s.verifier.VerifyFor(vctx, req.IDToken, req.CallerUID, now)
		cancel()
		if err != nil {
			log.Warn("initiate: identity assertion rejected", "deal_id", req.DealID, "err", err)
			if errors.Is(err, auth.ErrUIDMismatch) {
				return InitiateResult{}, &AuthError{Msg: "identity token does not match callerFirebaseUid", Err: err}
			}
			return InitiateResult{}, &AuthError{Msg: "invalid identity token", Err: err}
		}
	}

	if s.guard != nil {
		gctx, cancel := context.WithTimeout(base, s.stepTimeout)
		release, err := s.guard.Acquire(gctx, req.DealID)
		cancel()
		if errors.Is(err, ErrInFlight) {
			return InitiateResult{}, &ConflictError{Msg: "call setup already in progress for this dealId", Err: err}
		}
		if err != nil {
			return InitiateResult{}, &UpstreamError{Step: "in-flight guard", Err: err}
		}
		defer release()
	}

	// mapping_identities
	callerID, receiverID := identity.Resolve(req.CallerUID, req.ReceiverUID)

	// issuing_credentials
	pair, err := s.issuer.IssuePair(req.DealID, callerID, receiverID, now)
	if err != nil {
		return InitiateResult{}, &UpstreamError{Step: "credential issuance", Err: err}
	}

	// persisting
	session := calls.CallSession{
		DealID:            req.DealID,
		Status:            s.initialStatus,
		ChannelName:       pair.Channel,
		CallerIdentity:    req.CallerUID,
		ReceiverIdentity:  req.ReceiverUID,
		CallerName:        req.CallerName,
		CallerNumericID:   pair.CallerUID,
		ReceiverNumericID: pair.ReceiverUID,
		CallerToken:       pair.CallerToken,
		ReceiverToken:     pair.ReceiverToken,
		TokenExpiresAt:    pair.ExpiresAt,
		CallerPushToken:   req.CallerPushToken,
		ReceiverPushToken: req.ReceiverPushToken,
	}
	{
		sctx, cancel := context.WithTimeout(base, s.stepTimeout)
		_, err := s.store.Create(sctx, session)
		cancel()
		if errors.Is(err, calls.ErrTerminal) {
			return InitiateResult{}, &ConflictError{Msg: "call already ended for this dealId", Err: err}
		}
		if err != nil {
			return InitiateResult{}, &UpstreamError{Step: "session persistence", Err: err}
		}
	}

	// dispatching
	ring := push.RingingPayload(push.Ringing{
		DealID:              req.DealID,
		Channel:             pair.Channel,
		CallerUID:           pair.CallerUID,
		ReceiverUID:         pair.ReceiverUID,
		ReceiverToken:       pair.ReceiverToken,
		CallerName:          req.CallerName,
		CallerFirebaseUID:   req.CallerUID,
		ReceiverFirebaseUID: req.ReceiverUID,
		CallerPushToken:     req.CallerPushToken,
		ExpiresAt:           pair.ExpiresAt,
	})
	res := s.pusher.Send(base, push.Target{Role: "receiver", Token: req.ReceiverPushToken}, ring)
	if res.Err != nil {
		s.auditPushFailed(base, req.DealID, "ringing push failed", res)
		return InitiateResult{}, &UpstreamError{Step: "ringing push", Err: res.Err}
	}

	s.auditf(base, func(ctx context.Context, a *audit.Service) error {
		return a.LogCallInitiated(ctx, req.DealID, req.CallerUID, string(session.Status), metadata(map[string]any{
			"receiver_uid": req.ReceiverUID,
			"message_id":   res.MessageID,
		}))
	})
	log.Info("call initiated", "deal_id", req.DealID, "status", session.Status, "caller_uid", pair.CallerUID, "receiver_uid", pair.ReceiverUID)

	// responded
	return InitiateResult{
		AgoraToken:        pair.CallerToken,
		Channel:           pair.Channel,
		CallerNumericID:   pair.CallerUID,
		ReceiverNumericID: pair.ReceiverUID,
		CallerUID:         req.CallerUID,
		ReceiverUID:       req.ReceiverUID,
		Status:            session.Status,
		ExpiresAt:         pair.ExpiresAt,
	}, nil
}

type TerminateRequest struct {
	DealID            string
	Status            string
	CallerPushToken   string
	ReceiverPushToken string
}

type TerminateResult struct {
	Status calls.Status
	// Persisted is false when the session was unknown or already terminal.
	Persisted bool
	Report    push.Report
}

// Terminate moves the session to a terminal status and tells both devices to
// dismiss the call. Delivery is best effort: push failures never fail it.
func (s *Service) Terminate(ctx context.Context, req TerminateRequest) (TerminateResult, error) {
	log := logger.From(ctx)
	req.DealID = strings.TrimSpace(req.DealID)
	if req.DealID == "" {
		return TerminateResult{}, validation("dealId is required")
	}
	status := calls.StatusEnded
	if st := strings.TrimSpace(req.Status); st != "" {
		status = calls.Status(st)
	}
	if !status.Terminal() {
		return TerminateResult{}, validation("status must be one of ended, declined, canceled")
	}

	base := context.WithoutCancel(ctx)
	out := TerminateResult{Status: status}

	var storeErr error
	{
		sctx, cancel := context.WithTimeout(base, s.stepTimeout)
		_, err := s.store.Transition(sctx, req.DealID, status)
		cancel()
		switch {
		case err == nil:
			out.Persisted = true
		case errors.Is(err, calls.ErrNotFound), errors.Is(err, calls.ErrTerminal):
			log.Debug("terminate: session not transitioned", "deal_id", req.DealID, "reason", err)
		default:
			// Still notify devices; report the failure afterwards.
			storeErr = err
		}
	}

	targets := push.Targets(
		push.Target{Role: "caller", Token: strings.TrimSpace(req.CallerPushToken)},
		push.Target{Role: "receiver", Token: strings.TrimSpace(req.ReceiverPushToken)},
	)
	if len(targets) > 0 {
		out.Report = s.pusher.SendMany(base, targets, push.TerminatedPayload(req.DealID, string(status)))
		if err := out.Report.Err(); err != nil {
			log.Warn("terminate: partial push delivery", "deal_id", req.DealID, "err", err)
			for _, f := range out.Report.Failed() {
				s.auditPushFailed(base, req.DealID, "termination push failed", f)
			}
		}
	}

	s.auditf(base, func(ctx context.Context, a *audit.Service) error {
		return a.LogCallTerminated(ctx, req.DealID, string(status), metadata(map[string]any{
			"attempted": out.Report.Attempted(),
			"failed":    len(out.Report.Failed()),
			"persisted": out.Persisted,
		}))
	})

	if storeErr != nil {
		return out, &UpstreamError{Step: "session persistence", Err: storeErr}
	}
	log.Info("call terminated", "deal_id", req.DealID, "status", status, "pushes", out.Report.Attempted(), "persisted", out.Persisted)
	return out, nil
}

type UpdateStatusRequest struct {
	DealID  string
	Status  string
	IDToken string
}

// UpdateStatus lets a participant move the session to another status, e.g.
// the receiver accepting (calling) or declining. It feeds the reactive
// incoming-call path.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (calls.CallSession, error) {
	req.DealID = strings.TrimSpace(req.DealID)
	req.IDToken = strings.TrimSpace(req.IDToken)
	if missing := missingFields(map[string]string{
		"dealId":  req.DealID,
		"status":  strings.TrimSpace(req.Status),
		"idToken": req.IDToken,
	}); len(missing) > 0 {
		return calls.CallSession{}, validation("missing fields: %s", strings.Join(missing, ", "))
	}
	status := calls.Status(strings.TrimSpace(req.Status))
	if !status.Valid() {
		return calls.CallSession{}, validation("unknown status %q", req.Status)
	}

	base := context.WithoutCancel(ctx)
	uid, current, err := s.authorize(base, req.DealID, req.IDToken)
	if err != nil {
		return calls.CallSession{}, err
	}
	if current.Status.Terminal() {
		return calls.CallSession{}, &ConflictError{Msg: "call already ended", Err: calls.ErrTerminal}
	}

	sctx, cancel := context.WithTimeout(base, s.stepTimeout)
	c, err := s.store.Transition(sctx, req.DealID, status)
	cancel()
	switch {
	case errors.Is(err, calls.ErrTerminal):
		return calls.CallSession{}, &ConflictError{Msg: "call already ended", Err: err}
	case errors.Is(err, calls.ErrNotFound):
		return calls.CallSession{}, &NotFoundError{Msg: "call not found"}
	case err != nil:
		return calls.CallSession{}, &UpstreamError{Step: "session persistence", Err: err}
	}

	s.auditf(base, func(ctx context.Context, a *audit.Service) error {
		return a.LogStatusChanged(ctx, req.DealID, uid, string(status))
	})
	logger.From(ctx).Info("call status changed", "deal_id", req.DealID, "from", current.Status, "to", status, "by", uid)
	return c.After, nil
}

// Get returns the session as seen by the participant holding idToken.
func (s *Service) Get(ctx context.Context, dealID, idToken string) (SessionView, error) {
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return SessionView{}, validation("dealId is required")
	}
	uid, session, err := s.authorize(context.WithoutCancel(ctx), dealID, strings.TrimSpace(idToken))
	if err != nil {
		return SessionView{}, err
	}
	return ViewFor(session, uid), nil
}

// View is Get for a uid that was already authenticated upstream, e.g. by
// auth.RequireIDToken.
func (s *Service) View(ctx context.Context, dealID, uid string) (SessionView, error) {
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return SessionView{}, validation("dealId is required")
	}
	if uid == "" {
		return SessionView{}, &AuthError{Msg: "identity token is required", Err: auth.ErrMissingToken}
	}
	session, err := s.participantSession(context.WithoutCancel(ctx), dealID, uid)
	if err != nil {
		return SessionView{}, err
	}
	return ViewFor(session, uid), nil
}

// authorize verifies idToken and loads the session, requiring the token's
// uid to be one of its participants.
func (s *Service) authorize(ctx context.Context, dealID, idToken string) (string, calls.CallSession, error) {
	if idToken == "" {
		return "", calls.CallSession{}, &AuthError{Msg: "identity token is required", Err: auth.ErrMissingToken}
	}
	vctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	claims, err := s.verifier.Verify(vctx, idToken, s.clock().UTC())
	cancel()
	if err != nil {
		return "", calls.CallSession{}, &AuthError{Msg: "invalid identity token", Err: err}
	}
	session, err := s.participantSession(ctx, dealID, claims.UID())
	if err != nil {
		return "", calls.CallSession{}, err
	}
	return claims.UID(), session, nil
}

func (s *Service) participantSession(ctx context.Context, dealID, uid string) (calls.CallSession, error) {
	gctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	session, err := s.store.Get(gctx, dealID)
	cancel()
	if errors.Is(err, calls.ErrNotFound) {
		return calls.CallSession{}, &NotFoundError{Msg: "call not found"}
	}
	if err != nil {
		return calls.CallSession{}, &UpstreamError{Step: "session lookup", Err: err}
	}
	if !session.IsParticipant(uid) {
		return calls.CallSession{}, &ForbiddenError{Msg: "not a participant of this call"}
	}
	return session, nil
}

func (s *Service) auditPushFailed(ctx context.Context, dealID, msg string, r push.Result) {
	s.auditf(ctx, func(ctx context.Context, a *audit.Service) error {
		return a.LogPushFailed(ctx, dealID, msg, metadata(map[string]any{
			"target": r.Target.Role,
			"error":  r.Err.Error(),
		}))
	})
}

// auditf records best-effort audit events; failures are logged only.
func (s *Service) auditf(ctx context.Context, fn func(ctx context.Context, a *audit.Service) error) {
	if s.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	if err := fn(actx, s.audit); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}

func trimInitiate(r InitiateRequest) InitiateRequest {
	r.ReceiverPushToken = strings.TrimSpace(r.ReceiverPushToken)
	r.DealID = strings.TrimSpace(r.DealID)
	r.CallerName = strings.TrimSpace(r.CallerName)
	r.CallerPushToken = strings.TrimSpace(r.CallerPushToken)
	r.CallerUID = strings.TrimSpace(r.CallerUID)
	r.ReceiverUID = strings.TrimSpace(r.ReceiverUID)
	r.IDToken = strings.TrimSpace(r.IDToken)
	return r
}

// missingFields returns the names of empty values in a stable order.
func missingFields(fields map[string]string) []string {
	order := []string{"receiverFCMToken", "dealId", "callerFirebaseUid", "receiverFirebaseUid", "status", "idToken"}
	var out []string
	for _, k := range order {
		if v, ok := fields[k]; ok && v == "" {
			out = append(out, k)
		}
	}
	return out
}

func metadata(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
