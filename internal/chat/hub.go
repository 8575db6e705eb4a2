package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/pkg/protocol"
	"golang.org/x/time/rate"
)

// Per-connection inbound frame budget.
const (
	frameRate  = rate.Limit(30)
	frameBurst = 50
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// wsSender wraps a websocket connection with a write mutex so concurrent
// broadcasts do not interleave frames.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub owns the WebSocket endpoint and routes everything that flows over it:
// chat messages, presence, typing indicators, history requests and call
// signaling.
type Hub struct {
	store    store.Store
	auth     *auth.Service
	registry *Registry
	calls    *callTable
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	group    *store.GroupContext
	cfg      config.ChatConfig
}

// New creates a Hub. The group context must already be provisioned in the
// store (see store.EnsureGroup).
func New(s store.Store, a *auth.Service, group *store.GroupContext, logger *slog.Logger, m *metrics.Metrics, cfg config.ChatConfig, allowedOrigins []string) *Hub {
	return &Hub{
		store:    s,
		auth:     a,
		registry: NewRegistry(cfg.MaxConnsPerIdentity),
		calls:    newCallTable(),
		logger:   logger.With("component", "hub"),
		metrics:  m,
		upgrader: makeUpgrader(allowedOrigins),
		group:    group,
		cfg:      cfg,
	}
}

// Registry exposes the connection registry for presence queries.
func (h *Hub) Registry() *Registry { return h.registry }

// HandleWS upgrades an authenticated request and runs its read loop.
func (h *Hub) HandleWS(w http.ResponseWriter, req *http.Request) {
	// JWT in a query parameter is required for WebSocket connections since
	// browsers cannot set custom headers during the handshake. Keep query
	// strings out of access logs.
	tokenStr := req.URL.Query().Get("token")
	if tokenStr == "" {
		tokenStr = req.Header.Get("Authorization")
		if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
			tokenStr = tokenStr[7:]
		}
	}

	identity, err := h.auth.ValidateToken(req.Context(), tokenStr)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	sender := &wsSender{conn: conn}
	c := NewConn(uuid.New().String(), identity.UserID, identity.DisplayName, sender)

	if err := h.connect(c); err != nil {
		h.logger.Warn("connection cap reached", "identity", identity.DisplayName, "limit", h.cfg.MaxConnsPerIdentity)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		return
	}
	defer h.disconnect(c)

	stopKeepalive := h.keepAlive(sender)
	defer stopKeepalive()

	limiter := rate.NewLimiter(frameRate, frameBurst)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("read error", "conn_id", c.ID, "error", err)
			return
		}

		if !limiter.Allow() {
			h.logger.Debug("frame rate limited", "conn_id", c.ID)
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			h.logger.Warn("invalid frame", "conn_id", c.ID, "error", err)
			continue
		}

		h.dispatch(c, env)
	}
}

// connect registers a connection and runs the join side of the lifecycle:
// welcome frame, group membership, a userJoined announcement on the
// identity's first connection only, and a roster push. Extra tabs come and
// go silently.
func (h *Hub) connect(c *Conn) error {
	first, err := h.registry.Register(c)
	if err != nil {
		return err
	}

	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ActiveConnections.Inc()
	h.metrics.OnlineIdentities.Set(float64(h.registry.IdentityCount()))

	ctx := context.Background()
	if err := h.store.AddGroupMember(ctx, h.group.GroupID, c.IdentityID); err != nil {
		h.logger.Warn("failed to record group membership", "identity", c.IdentityID, "error", err)
	}

	h.sendTo(c, protocol.TypeWelcome, protocol.Welcome{
		ConnectionID: c.ID,
		IdentityID:   c.IdentityID,
		DisplayName:  c.DisplayName,
		Room:         room.Group,
	})

	if first {
		h.broadcastExcept(c.ID, protocol.TypeUserJoined, protocol.PresenceEvent{
			DisplayName: c.DisplayName,
			Timestamp:   time.Now().UTC(),
		})
	}
	h.pushRoster()

	h.logger.Info("client connected", "identity", c.DisplayName, "conn_id", c.ID, "first", first)
	return nil
}

// disconnect mirrors connect: on the identity's last connection it hangs up
// its calls and announces userLeft, then pushes the updated roster.
func (h *Hub) disconnect(c *Conn) {
	_, last := h.registry.Deregister(c.ID)
	h.metrics.ActiveConnections.Dec()
	h.metrics.OnlineIdentities.Set(float64(h.registry.IdentityCount()))
	if last {
		h.endCallsFor(c.IdentityID)
		h.broadcast(protocol.TypeUserLeft, protocol.PresenceEvent{
			DisplayName: c.DisplayName,
			Timestamp:   time.Now().UTC(),
		})
	}
	h.pushRoster()
	h.logger.Info("client disconnected", "identity", c.DisplayName, "conn_id", c.ID, "last", last)
}

func (h *Hub) dispatch(c *Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSendMessage:
		var msg protocol.SendMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			h.reject(c, protocol.ReasonServerError)
			return
		}
		h.handleSend(c, msg)

	case protocol.TypeTyping:
		var t protocol.Typing
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return
		}
		h.handleTyping(c, t)

	case protocol.TypeSwitchRoom:
		var sw protocol.SwitchRoom
		if err := json.Unmarshal(env.Payload, &sw); err != nil {
			return
		}
		h.handleSwitchRoom(c, sw)

	case protocol.TypeGetHistory:
		var req protocol.GetChatHistory
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return
		}
		h.handleHistory(c, req)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		var sig protocol.Signal
		if err := json.Unmarshal(env.Payload, &sig); err != nil {
			return
		}
		h.handleSignal(c, env.Type, sig)

	case protocol.TypeEndCall:
		var end protocol.EndCall
		if err := json.Unmarshal(env.Payload, &end); err != nil {
			return
		}
		h.handleEndCall(c, end)

	default:
		h.logger.Warn("unknown frame type", "type", env.Type, "identity", c.DisplayName)
	}
}

// handleTyping forwards a typing indicator to everyone else who can see the
// room: the whole roster for the group, the counterpart for a private room.
func (h *Hub) handleTyping(c *Conn, t protocol.Typing) {
	ind := protocol.UserTyping{
		ConnectionID: c.ID,
		DisplayName:  c.DisplayName,
		Room:         t.Room,
		IsTyping:     t.IsTyping,
	}

	if pr, ok := room.ParsePrivate(t.Room); ok {
		if !pr.Has(c.IdentityID) {
			return
		}
		env, err := protocol.NewEnvelope(protocol.TypeUserTyping, ind)
		if err != nil {
			return
		}
		h.registry.SendToIdentity(pr.Other(c.IdentityID), env)
		return
	}

	h.broadcastExcept(c.ID, protocol.TypeUserTyping, ind)
}

// handleSwitchRoom changes the connection's room view. Group membership is
// permanent: switching to a private room does not leave the group.
func (h *Hub) handleSwitchRoom(c *Conn, sw protocol.SwitchRoom) {
	if sw.Room == room.Group {
		h.registry.SetRoom(c.ID, room.Group)
		return
	}
	pr, ok := room.ParsePrivate(sw.Room)
	if !ok || !pr.Has(c.IdentityID) {
		h.logger.Warn("switch to invalid room", "room", sw.Room, "identity", c.DisplayName)
		return
	}
	h.registry.SetRoom(c.ID, pr.String())
}

func (h *Hub) pushRoster() {
	users := h.registry.Snapshot()
	h.broadcast(protocol.TypeOnlineUsers, protocol.OnlineUsers{
		Users: users,
		Count: len(users),
	})
}

func (h *Hub) sendTo(c *Conn, msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Warn("marshal failed", "type", msgType, "error", err)
		return
	}
	if err := c.Send(env); err != nil {
		h.logger.Debug("send failed", "conn_id", c.ID, "error", err)
	}
}

func (h *Hub) broadcast(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Warn("marshal failed", "type", msgType, "error", err)
		return
	}
	h.registry.Broadcast(env)
}

func (h *Hub) broadcastExcept(exceptConnID, msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		h.logger.Warn("marshal failed", "type", msgType, "error", err)
		return
	}
	h.registry.BroadcastExcept(env, exceptConnID)
}

// NotifyRename pushes a display-name change to every open connection and
// patches the roster. Called by the HTTP API after a successful rename.
func (h *Hub) NotifyRename(identityID, displayName string) {
	h.registry.Rename(identityID, displayName)
	h.broadcast(protocol.TypeNicknameUpdated, protocol.NicknameUpdated{
		IdentityID:  identityID,
		DisplayName: displayName,
	})
	h.pushRoster()
}
