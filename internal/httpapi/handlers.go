package httpapi

import (
	"context"
	"errors"
	"net/http"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallService is the orchestrator surface the handlers depend on.
type CallService interface {
	Initiate(ctx context.Context, req signaling.InitiateRequest) (signaling.InitiateResult, error)
	Terminate(ctx context.Context, req signaling.TerminateRequest) (signaling.TerminateResult, error)
	UpdateStatus(ctx context.Context, req signaling.UpdateStatusRequest) (calls.CallSession, error)
	View(ctx context.Context, dealID, uid string) (signaling.SessionView, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls CallService
	// Feed backs the websocket state stream; nil disables it.
	Feed calls.Feed
}

// --- Calls ---

type initiateCallRequest struct {
	ReceiverFCMToken    string `json:"receiverFCMToken"`
	DealID              string `json:"dealId"`
	CallerName          string `json:"callerName"`
	CallerFCMToken      string `json:"callerFCMToken"`
	CallerFirebaseUID   string `json:"callerFirebaseUid"`
	ReceiverFirebaseUID string `json:"receiverFirebaseUid"`
	IDToken             string `json:"idToken"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Calls.Initiate(requestContext(c), signaling.InitiateRequest{
		ReceiverPushToken: req.ReceiverFCMToken,
		DealID:            req.DealID,
		CallerName:        req.CallerName,
		CallerPushToken:   req.CallerFCMToken,
		CallerUID:         req.CallerFirebaseUID,
		ReceiverUID:       req.ReceiverFirebaseUID,
		IDToken:           req.IDToken,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"agoraToken":          res.AgoraToken,
		"agoraChannel":        res.Channel,
		"callerUid":           res.CallerNumericID,
		"receiverUid":         res.ReceiverNumericID,
		"callerFirebaseUid":   res.CallerUID,
		"receiverFirebaseUid": res.ReceiverUID,
	})
}

type terminateCallRequest struct {
	DealID           string `json:"dealId"`
	Status           string `json:"status"`
	CallerFCMToken   string `json:"callerFCMToken"`
	ReceiverFCMToken string `json:"receiverFCMToken"`
}

func (h Handlers) TerminateCall(c *gin.Context) {
	var req terminateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if _, err := h.Calls.Terminate(requestContext(c), signaling.TerminateRequest{
		DealID:            req.DealID,
		Status:            req.Status,
		CallerPushToken:   req.CallerFCMToken,
		ReceiverPushToken: req.ReceiverFCMToken,
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type updateCallStatusRequest struct {
	DealID  string `json:"dealId"`
	Status  string `json:"status"`
	IDToken string `json:"idToken"`
}

func (h Handlers) UpdateCallStatus(c *gin.Context) {
	var req updateCallStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Calls.UpdateStatus(requestContext(c), signaling.UpdateStatusRequest{
		DealID:  req.DealID,
		Status:  req.Status,
		IDToken: req.IDToken,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.Status})
}

// GetCall requires auth.RequireIDToken upstream.
func (h Handlers) GetCall(c *gin.Context) {
	uid, _ := auth.UID(c.Request.Context())
	v, err := h.Calls.View(requestContext(c), c.Param("dealId"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestContext adds the client IP for audit entries. The request logger is
// already attached by logger.Middleware.
func requestContext(c *gin.Context) context.Context {
	return audit.WithClientIP(c.Request.Context(), c.ClientIP())
}

// writeError maps orchestrator errors to status codes. 500 bodies carry the
// message only; the wrapped cause goes to the log.
func writeError(c *gin.Context, err error) {
	var (
		ve *signaling.ValidationError
		ae *signaling.AuthError
		fe *signaling.ForbiddenError
		ne *signaling.NotFoundError
		ce *signaling.ConflictError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.As(err, &ae):
		status = http.StatusUnauthorized
	case errors.As(err, &fe):
		status = http.StatusForbidden
	case errors.As(err, &ne):
		status = http.StatusNotFound
	case errors.As(err, &ce):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
