package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"job-lifecycle-service/internal/models"
)

// Authorizer decides whether userID may observe topic.
type Authorizer interface {
	AuthorizeTopic(ctx context.Context, userID, topic string) error
}

// ClientFrame is what an observer sends over the socket.
type ClientFrame struct {
	Action string `json:"action"` // subscribe | unsubscribe
	Topic  string `json:"topic"`
}

// ServerFrame acknowledges or rejects a client frame. Events are written as bare Event JSON.
type ServerFrame struct {
	Type  string `json:"type"` // ack | error
	Topic string `json:"topic,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// WSHandler streams hub events to websocket observers.
type WSHandler struct {
	hub    *Hub
	authz  Authorizer
	logger *slog.Logger

	frameRate  rate.Limit
	frameBurst int
}

// NewWSHandler builds a websocket endpoint. framesPerSecond and burst limit inbound frames per connection.
func NewWSHandler(hub *Hub, authz Authorizer, logger *slog.Logger, framesPerSecond float64, burst int) *WSHandler {
	if burst <= 0 {
		burst = 1
	}
	return &WSHandler{
		hub:        hub,
		authz:      authz,
		logger:     logger,
		frameRate:  rate.Limit(framesPerSecond),
		frameBurst: burst,
	}
}

// Serve upgrades the request and runs the connection for userID. The caller resolves identity.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := &wsConn{conn: conn}
	observerID := uuid.NewString()
	sub := h.hub.Subscribe(observerID, UserTopic(userID))
	defer h.hub.Remove(observerID)
	defer conn.Close()

	go h.pump(ctx, c, sub)

	limiter := rate.NewLimiter(h.frameRate, h.frameBurst)
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				h.logger.Debug("websocket read ended", "observer", observerID, "error", err)
			}
			return
		}
		if op != ws.OpText {
			continue
		}
		if !limiter.Allow() {
			_ = c.writeJSON(ServerFrame{Type: "error", Code: models.CodeRateLimited, Error: "too many frames"})
			continue
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = c.writeJSON(ServerFrame{Type: "error", Code: models.CodeInvalidInput, Error: "malformed frame"})
			continue
		}
		_ = c.writeJSON(h.handleFrame(ctx, observerID, userID, frame))
	}
}

func (h *WSHandler) handleFrame(ctx context.Context, observerID, userID string, frame ClientFrame) ServerFrame {
	if err := ValidateTopic(frame.Topic); err != nil {
		return ServerFrame{Type: "error", Topic: frame.Topic, Code: models.CodeInvalidInput, Error: err.Error()}
	}
	switch frame.Action {
	case "subscribe":
		if err := h.authz.AuthorizeTopic(ctx, userID, frame.Topic); err != nil {
			return ServerFrame{Type: "error", Topic: frame.Topic, Code: models.ErrorCode(err), Error: err.Error()}
		}
		h.hub.Subscribe(observerID, frame.Topic)
	case "unsubscribe":
		h.hub.Unsubscribe(observerID, frame.Topic)
	default:
		return ServerFrame{Type: "error", Topic: frame.Topic, Code: models.CodeInvalidInput, Error: "unknown action " + frame.Action}
	}
	return ServerFrame{Type: "ack", Topic: frame.Topic}
}

func (h *WSHandler) pump(ctx context.Context, c *wsConn, sub *Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if err := c.writeJSON(evt); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

type wsConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}
