package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/middleware"
	"chat-plugin/internal/observability"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFrameBytes = 4096
	replyPrefix   = "/chat-reply/"
)

// Authorizer decides whether a user may subscribe to a topic.
type Authorizer interface {
	CanSubscribe(ctx context.Context, userID int, topic string) bool
}

// Handler serves GET /ws/chat?topics=a,b.
type Handler struct {
	hub    *Hub
	auth   middleware.TokenValidator
	authz  Authorizer
	logger *slog.Logger
}

func NewHandler(hub *Hub, auth middleware.TokenValidator, authz Authorizer, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, auth: auth, authz: authz, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inbound is a client frame. Only typing presence on reply topics is
// accepted.
type inbound struct {
	Topic string          `json:"channel"`
	Data  json.RawMessage `json:"data"`
}

type typingEvent struct {
	Type   string `json:"type"`
	UserID int    `json:"user_id"`
}

// Handle authenticates, authorizes every requested topic and upgrades.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-plugin/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization", "reason": "unauthenticated"})
		return
	}
	userID, err := h.auth.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "reason": "unauthenticated"})
		return
	}

	topics := parseTopics(c.Query("topics"))
	if len(topics) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no topics requested", "reason": ""})
		return
	}
	for _, topic := range topics {
		if !h.authz.CanSubscribe(ctx, userID, topic) {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot subscribe to " + topic, "reason": apperrors.ReasonNotAllowed})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	client := NewClient(ConnInfo{
		UserID:      userID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   c.GetString(observability.RequestIDKey),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}, topics)
	h.hub.Subscribe(client, topics...)

	observability.IncWSActive()
	observability.IncWSEvent("connect")
	h.logger.Info("websocket connected", "conn_id", client.info.ConnID, "user_id", userID, "topics", topics)

	go h.writeLoop(conn, client)
	go h.readLoop(conn, client)
}

func parseTopics(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (h *Handler) writeLoop(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-c.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case payload := <-c.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				observability.IncWSEvent("error")
				h.logger.Warn("websocket write error", "conn_id", c.info.ConnID, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, c *Client) {
	var closeReason string
	defer func() {
		h.hub.Unsubscribe(c, c.topics...)
		c.Close()
		observability.DecWSActive()
		observability.IncWSEvent("disconnect")
		h.logger.Info("websocket disconnected", "conn_id", c.info.ConnID, "user_id", c.info.UserID,
			"duration", time.Since(c.info.ConnectedAt), "reason", closeReason)
	}()

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("error")
			}
			return
		}
		h.receive(c, raw)
	}
}

// receive relays typing presence to the reply topic of a subscribed
// channel. Other frames are ignored.
func (h *Handler) receive(c *Client, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return
	}
	if !strings.HasPrefix(in.Topic, replyPrefix) || !c.subscribed(in.Topic) {
		return
	}
	observability.IncWSEvent("typing")
	h.hub.Publish(context.Background(), in.Topic, typingEvent{Type: "typing", UserID: c.info.UserID}, nil)
}
