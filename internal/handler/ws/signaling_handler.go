// Package ws implements the signaling relay: one duplex websocket per
// device, carrying WebRTC offer/answer/candidate frames between call
// participants plus server-pushed call lifecycle events.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wavelink-backend/internal/registry"
	"wavelink-backend/pkg/constants"
	"wavelink-backend/pkg/env"
	"wavelink-backend/pkg/jwt"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

// Signaling frame types
const (
	FrameOffer             = "offer"
	FrameAnswer            = "answer"
	FrameICECandidate      = "ice-candidate"
	FrameMediaState        = "media-state-update"
	FrameJoinCall          = "join-call"
	FrameLeaveCall         = "leave-call"
	FrameParticipantJoined = "participant-joined"
	FrameParticipantLeft   = "participant-left"
	FrameError             = "error"
)

// Error codes carried in error frames
const (
	errCodeInvalidFrame    = "INVALID_FRAME"
	errCodeNotAParticipant = "NOT_A_PARTICIPANT"
	errCodePeerUnreachable = "PEER_UNREACHABLE"
	errCodeInternal        = "INTERNAL_ERROR"
)

// Frame is one signaling message on the wire
type Frame struct {
	Type            string                 `json:"type"`
	CallID          uuid.UUID              `json:"call_id,omitempty"`
	FromUserID      uuid.UUID              `json:"from_user_id,omitempty"`
	ToUserID        *uuid.UUID             `json:"to_user_id,omitempty"`
	SDP             string                 `json:"sdp,omitempty"`
	Candidate       map[string]interface{} `json:"candidate,omitempty"`
	IsMuted         *bool                  `json:"is_muted,omitempty"`
	IsVideoEnabled  *bool                  `json:"is_video_enabled,omitempty"`
	IsScreenSharing *bool                  `json:"is_screen_sharing,omitempty"`
	Code            string                 `json:"code,omitempty"`
	Message         string                 `json:"message,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// CallAuthorizer answers whether a user holds a durable joined row in a
// call. The relay never trusts its in-memory membership for authorization.
type CallAuthorizer interface {
	IsParticipantJoined(ctx context.Context, callID, userID uuid.UUID) (bool, error)
}

// PresenceTracker mirrors connection liveness into the presence store
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	Refresh(ctx context.Context, userID uuid.UUID) error
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return GetAllowedOrigins()[origin]
	},
}

// SignalingHandler upgrades connections and runs the per-connection relay loop
type SignalingHandler struct {
	registry *registry.Registry
	calls    CallAuthorizer
	presence PresenceTracker
	jwt      *jwt.JWTManager
	metrics  *metrics.Metrics

	maxConnections int
	semaphore      chan struct{}
}

// NewSignalingHandler creates a new signaling handler. presence and metrics
// may be nil.
func NewSignalingHandler(reg *registry.Registry, calls CallAuthorizer, presence PresenceTracker, jwtManager *jwt.JWTManager, m *metrics.Metrics) *SignalingHandler {
	maxConns := env.GetInt("WS_MAX_SIGNALING_CONNECTIONS", 1000)
	if maxConns <= 0 {
		maxConns = 1000
	}

	return &SignalingHandler{
		registry:       reg,
		calls:          calls,
		presence:       presence,
		jwt:            jwtManager,
		metrics:        m,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// Client is one device's signaling connection
type Client struct {
	handler *SignalingHandler
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	userID  uuid.UUID

	// calls this connection has passed the durable joined check for;
	// touched only by the read pump
	authorized map[uuid.UUID]bool
}

// UserID implements registry.Conn
func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// Enqueue implements registry.Conn. Non-blocking: a slow consumer loses
// frames rather than stalling the sender.
func (c *Client) Enqueue(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// ServeWS authenticates the token query parameter, upgrades the connection
// and registers it for the owning user.
func (h *SignalingHandler) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("websocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	token := c.Query("token")
	if token == "" {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID := claims.UserID

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &Client{
		handler:    h,
		conn:       conn,
		send:       make(chan []byte, constants.WebSocketSendBuffer),
		done:       make(chan struct{}),
		userID:     userID,
		authorized: make(map[uuid.UUID]bool),
	}

	h.registry.Connect(client)
	if h.metrics != nil {
		h.metrics.WebSocketConnected()
	}
	if h.presence != nil {
		if err := h.presence.SetOnline(c.Request.Context(), userID); err != nil {
			logger.Warn("failed to set presence", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}

	go client.writePump()
	go client.readPump(release)
}

func (h *SignalingHandler) teardown(c *Client) {
	h.registry.Disconnect(c)
	c.close()
	c.conn.Close()

	if h.metrics != nil {
		h.metrics.WebSocketDisconnected()
	}
	if h.presence != nil && !h.registry.IsOnline(c.userID) {
		if err := h.presence.SetOffline(context.Background(), c.userID); err != nil {
			logger.Warn("failed to clear presence", zap.String("user_id", c.userID.String()), zap.Error(err))
		}
	}
}

// readPump reads frames from the connection and relays them
func (c *Client) readPump(release func()) {
	defer func() {
		c.handler.teardown(c)
		release()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WebSocketWriteTimeout))
		if c.handler.presence != nil {
			c.handler.presence.Refresh(context.Background(), c.userID)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}
		if c.handler.metrics != nil {
			c.handler.metrics.RecordWebSocketMessage("inbound")
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.sendError(uuid.Nil, errCodeInvalidFrame, "invalid message format")
			continue
		}

		c.handler.handleFrame(c, &frame)
	}
}

// handleFrame validates and routes one inbound frame. A bad frame answers
// the sender only; other connections are never affected.
func (h *SignalingHandler) handleFrame(c *Client, frame *Frame) {
	if frame.Type == "" || frame.CallID == uuid.Nil {
		c.sendError(frame.CallID, errCodeInvalidFrame, "type and call_id are required")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordSignalingFrame(frame.Type)
	}

	// every frame establishes signaling membership lazily, backed by the
	// durable participant row rather than the in-memory set
	if !c.authorized[frame.CallID] {
		joined, err := h.calls.IsParticipantJoined(context.Background(), frame.CallID, c.userID)
		if err != nil {
			logger.Error("failed to authorize signaling frame",
				zap.String("call_id", frame.CallID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			c.sendError(frame.CallID, errCodeInternal, "could not verify call membership")
			return
		}
		if !joined {
			c.sendError(frame.CallID, errCodeNotAParticipant, "not a joined participant of this call")
			return
		}
		h.registry.AddToCall(frame.CallID, c.userID)
		c.authorized[frame.CallID] = true
	}

	switch frame.Type {
	case FrameOffer, FrameAnswer:
		if frame.SDP == "" {
			c.sendError(frame.CallID, errCodeInvalidFrame, "sdp is required")
			return
		}
		h.route(c, frame)

	case FrameICECandidate:
		if len(frame.Candidate) == 0 {
			c.sendError(frame.CallID, errCodeInvalidFrame, "candidate is required")
			return
		}
		h.route(c, frame)

	case FrameMediaState:
		frame.ToUserID = nil
		h.route(c, frame)

	case FrameJoinCall:
		h.broadcastMembership(c, frame.CallID, FrameParticipantJoined)

	case FrameLeaveCall:
		h.registry.RemoveFromCall(frame.CallID, c.userID)
		delete(c.authorized, frame.CallID)
		h.broadcastMembership(c, frame.CallID, FrameParticipantLeft)

	default:
		c.sendError(frame.CallID, errCodeInvalidFrame, "unknown frame type")
	}
}

// route forwards a frame to one peer or to the whole call mesh
func (h *SignalingHandler) route(c *Client, frame *Frame) {
	frame.FromUserID = c.userID
	frame.Timestamp = time.Now()

	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("failed to marshal signaling frame", zap.Error(err))
		return
	}

	if frame.ToUserID != nil {
		if err := h.registry.SendToPeer(frame.CallID, c.userID, *frame.ToUserID, data); err != nil {
			if h.metrics != nil {
				h.metrics.RecordSignalingDrop(frame.Type)
			}
			c.sendError(frame.CallID, errCodePeerUnreachable, "peer is not reachable in this call")
		}
		return
	}

	h.registry.SendToCall(frame.CallID, data, c.userID)
}

func (h *SignalingHandler) broadcastMembership(c *Client, callID uuid.UUID, eventType string) {
	data, err := json.Marshal(&Frame{
		Type:       eventType,
		CallID:     callID,
		FromUserID: c.userID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return
	}
	h.registry.SendToCall(callID, data, c.userID)
}

func (c *Client) sendError(callID uuid.UUID, code, message string) {
	if c.handler.metrics != nil {
		c.handler.metrics.RecordWebSocketError(code)
	}
	data, err := json.Marshal(&Frame{
		Type:      FrameError,
		CallID:    callID,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	c.Enqueue(data)
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
			if c.handler.metrics != nil {
				c.handler.metrics.RecordWebSocketMessage("outbound")
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
