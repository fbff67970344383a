package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/push"
	"call-signaling/internal/rtctoken"
	"call-signaling/internal/signaling"

	"github.com/gin-gonic/gin"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []push.Message
}

func (s *recordingSender) Name() string { return "test" }

func (s *recordingSender) Send(ctx context.Context, m push.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return "id", nil
}

type testServer struct {
	router *gin.Engine
	svc    *signaling.Service
	auth   *auth.Manager
	feed   *calls.MemoryFeed
	sender *recordingSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{Mode: config.AuthModeLocal, JWTSecret: "secret"}, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	issuer, err := rtctoken.NewIssuer(rtctoken.Config{
		AppID:          "970ca35de60c44645bbae8a215061b33",
		AppCertificate: "5cfd2fd1755d40ecb72977518be15d3b",
	})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	feed := calls.NewMemoryFeed(nil)
	sender := &recordingSender{}
	svc := signaling.NewService(signaling.Deps{
		Store:    calls.ObservedStore{Store: calls.NewMemoryRepo(), Feed: feed},
		Verifier: m,
		Issuer:   issuer,
		Pusher:   push.NewDispatcher(sender, push.DispatcherConfig{}),
	})

	r := gin.New()
	Register(r, Handlers{Calls: svc, Feed: feed}, auth.RequireIDToken(m))
	return &testServer{router: r, svc: svc, auth: m, feed: feed, sender: sender}
}

func (s *testServer) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := s.auth.Issue(time.Now(), uid, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) initiate(t *testing.T) map[string]any {
	t.Helper()
	w := s.do(t, http.MethodPost, "/initiateCall", map[string]string{
		"receiverFCMToken":    "receiver-push",
		"dealId":              "deal42",
		"callerName":          "Alice",
		"callerFCMToken":      "caller-push",
		"callerFirebaseUid":   "u1",
		"receiverFirebaseUid": "u2",
		"idToken":             s.token(t, "u1"),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("initiate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestInitiateCall_ResponseShape(t *testing.T) {
	s := newTestServer(t)
	out := s.initiate(t)

	if out["success"] != true || out["agoraChannel"] != "deal42" {
		t.Fatalf("unexpected body: %v", out)
	}
	if tok, _ := out["agoraToken"].(string); tok == "" {
		t.Fatalf("agoraToken missing: %v", out)
	}
	caller, _ := out["callerUid"].(float64)
	receiver, _ := out["receiverUid"].(float64)
	if caller == 0 || receiver == 0 || caller == receiver {
		t.Fatalf("numeric ids must be non-zero and distinct: %v", out)
	}
	if out["callerFirebaseUid"] != "u1" || out["receiverFirebaseUid"] != "u2" {
		t.Fatalf("identities not echoed: %v", out)
	}
}

func TestInitiateCall_Errors(t *testing.T) {
	s := newTestServer(t)

	base := func() map[string]string {
		return map[string]string{
			"receiverFCMToken":    "receiver-push",
			"dealId":              "deal42",
			"callerFirebaseUid":   "u1",
			"receiverFirebaseUid": "u2",
		}
	}

	missing := base()
	w := s.do(t, http.MethodPost, "/initiateCall", missing, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing idToken: expected 400, got %d", w.Code)
	}
	if msg, _ := decode(t, w)["error"].(string); msg == "" {
		t.Fatalf("expected error message")
	}

	mismatch := base()
	mismatch["idToken"] = s.token(t, "someone-else")
	if w := s.do(t, http.MethodPost, "/initiateCall", mismatch, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("uid mismatch: expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/initiateCall", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid json: expected 400, got %d", rec.Code)
	}
}

func TestTerminateCall(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(t, http.MethodPost, "/terminateCall", map[string]string{}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing dealId: expected 400, got %d", w.Code)
	}

	// No push tokens and no stored session still succeeds.
	w := s.do(t, http.MethodPost, "/terminateCall", map[string]string{"dealId": "unknown"}, nil)
	if w.Code != http.StatusOK || decode(t, w)["success"] != true {
		t.Fatalf("expected success, got %d: %s", w.Code, w.Body.String())
	}

	s.initiate(t)
	body := map[string]string{"dealId": "deal42", "callerFCMToken": "caller-push", "receiverFCMToken": "receiver-push"}
	for i := 0; i < 2; i++ {
		if w := s.do(t, http.MethodPost, "/terminateCall", body, nil); w.Code != http.StatusOK {
			t.Fatalf("terminate #%d: expected 200, got %d", i+1, w.Code)
		}
	}
}

func TestUpdateCallStatus(t *testing.T) {
	s := newTestServer(t)
	s.initiate(t)

	w := s.do(t, http.MethodPost, "/updateCallStatus", map[string]string{
		"dealId": "deal42", "status": "calling", "idToken": s.token(t, "u2"),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if out := decode(t, w); out["success"] != true || out["status"] != "calling" {
		t.Fatalf("unexpected body: %v", out)
	}

	if w := s.do(t, http.MethodPost, "/updateCallStatus", map[string]string{
		"dealId": "deal42", "status": "ended", "idToken": s.token(t, "u9"),
	}, nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider: expected 403, got %d", w.Code)
	}

	if w := s.do(t, http.MethodPost, "/updateCallStatus", map[string]string{
		"dealId": "nope", "status": "ended", "idToken": s.token(t, "u1"),
	}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown deal: expected 404, got %d", w.Code)
	}

	s.do(t, http.MethodPost, "/terminateCall", map[string]string{"dealId": "deal42"}, nil)
	if w := s.do(t, http.MethodPost, "/updateCallStatus", map[string]string{
		"dealId": "deal42", "status": "calling", "idToken": s.token(t, "u1"),
	}, nil); w.Code != http.StatusConflict {
		t.Fatalf("terminal session: expected 409, got %d", w.Code)
	}
}

func TestGetCall(t *testing.T) {
	s := newTestServer(t)
	s.initiate(t)

	bearer := func(uid string) http.Header {
		return http.Header{"Authorization": {"Bearer " + s.token(t, uid)}}
	}

	w := s.do(t, http.MethodGet, "/calls/deal42", nil, bearer("u2"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["dealId"] != "deal42" || out["status"] != "ringing" || out["receiverFirebaseUid"] != "u2" {
		t.Fatalf("unexpected view: %v", out)
	}

	if w := s.do(t, http.MethodGet, "/calls/deal42", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/calls/deal42", nil, bearer("u9")); w.Code != http.StatusForbidden {
		t.Fatalf("outsider: expected 403, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/calls/missing", nil, bearer("u1")); w.Code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/initiateCall", "/terminateCall", "/anything"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		// Browsers send the list lowercased and sorted.
		req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, w.Code)
		}
		if w.Body.Len() != 0 {
			t.Fatalf("%s: expected empty body, got %q", path, w.Body.String())
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("%s: expected wildcard origin, got %q", path, got)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/initiateCall", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type,x-requested-with")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("refused preflight: expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted request header must not be allowed, got origin %q", got)
	}

	w = s.do(t, http.MethodGet, "/healthz", nil, http.Header{"Origin": {"https://app.example.com"}})
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("simple request missing CORS header: %d %v", w.Code, w.Header())
	}
}

type stubCalls struct {
	err error
}

func (s stubCalls) Initiate(ctx context.Context, req signaling.InitiateRequest) (signaling.InitiateResult, error) {
	return signaling.InitiateResult{}, s.err
}

func (s stubCalls) Terminate(ctx context.Context, req signaling.TerminateRequest) (signaling.TerminateResult, error) {
	return signaling.TerminateResult{}, s.err
}

func (s stubCalls) UpdateStatus(ctx context.Context, req signaling.UpdateStatusRequest) (calls.CallSession, error) {
	return calls.CallSession{}, s.err
}

func (s stubCalls) View(ctx context.Context, dealID, uid string) (signaling.SessionView, error) {
	return signaling.SessionView{}, s.err
}

func TestWriteError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{&signaling.ValidationError{Msg: "bad"}, http.StatusBadRequest},
		{&signaling.AuthError{Msg: "who"}, http.StatusUnauthorized},
		{&signaling.ForbiddenError{Msg: "no"}, http.StatusForbidden},
		{&signaling.NotFoundError{Msg: "gone"}, http.StatusNotFound},
		{&signaling.ConflictError{Msg: "busy", Err: signaling.ErrInFlight}, http.StatusConflict},
		{&signaling.UpstreamError{Step: "ringing push", Err: errors.New("fcm down")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := gin.New()
		r.POST("/terminateCall", Handlers{Calls: stubCalls{err: tc.err}}.TerminateCall)
		req := httptest.NewRequest(http.MethodPost, "/terminateCall", bytes.NewBufferString(`{"dealId":"d"}`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] != tc.err.Error() {
			t.Fatalf("%v: unexpected body %q", tc.err, w.Body.String())
		}
	}
}
