package httpapi

import (
	"context"
	"net/http"
	"time"

	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is open for every endpoint, the stream included.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type stateEvent struct {
	DealID  string       `json:"dealId"`
	Status  calls.Status `json:"status"`
	Version int64        `json:"version"`
}

// StreamCall upgrades to a websocket and pushes the session state on each
// change until the session is terminal or the client goes away. Requires
// auth.RequireIDToken upstream.
func (h Handlers) StreamCall(c *gin.Context) {
	if h.Feed == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "stream not configured"})
		return
	}
	dealID := c.Param("dealId")
	uid, _ := auth.UID(c.Request.Context())
	v, err := h.Calls.View(requestContext(c), dealID, uid)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before the first write so no change can slip in between.
	sub, err := h.Feed.Subscribe(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stream unavailable"})
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).Warn("websocket upgrade failed", "deal_id", dealID, "err", err)
		return
	}
	defer conn.Close()

	l := logger.FromGin(c).With("deal_id", dealID, "uid", uid)
	l.Debug("stream opened")
	defer l.Debug("stream closed")

	// Reads only serve control frames and disconnect detection.
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					l.Debug("stream read failed", "err", err)
				}
				return
			}
		}
	}()

	last := v.Version
	if err := writeState(conn, stateEvent{DealID: v.DealID, Status: v.Status, Version: v.Version}); err != nil {
		return
	}
	if v.Status.Terminal() {
		closeStream(conn)
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case ch, ok := <-sub.C:
			if !ok {
				return
			}
			if ch.DealID != dealID || ch.After.Version <= last {
				continue
			}
			last = ch.After.Version
			ev := stateEvent{DealID: ch.DealID, Status: ch.After.Status, Version: ch.After.Version}
			if err := writeState(conn, ev); err != nil {
				l.Debug("stream write failed", "err", err)
				return
			}
			if ev.Status.Terminal() {
				closeStream(conn)
				return
			}
		}
	}
}

func writeState(conn *websocket.Conn, ev stateEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
