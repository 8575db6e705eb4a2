package chat

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/pkg/protocol"
)

// handleSend validates, persists and delivers a chat message. Persistence
// happens before delivery so a recipient never sees a message that history
// will not return.
func (h *Hub) handleSend(c *Conn, msg protocol.SendMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}
	if msg.Type == "" {
		msg.Type = protocol.ContentText
	}

	if msg.Type == protocol.ContentImage && h.inlineImageTooLarge(content) {
		h.reject(c, protocol.ReasonImageTooLarge)
		return
	}

	if msg.Target == "" || msg.Target == room.Group {
		h.sendGroup(c, content, msg.Type)
		return
	}
	h.sendPrivate(c, msg.Target, content, msg.Type)
}

func (h *Hub) sendGroup(c *Conn, content, contentType string) {
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := h.store.InsertMessage(ctx, &store.Message{
		ConversationID: h.group.ConversationID,
		SenderID:       c.IdentityID,
		Content:        content,
		Type:           contentType,
		CreatedAt:      now,
	})
	if err != nil {
		h.logger.Error("persist group message failed", "error", err)
		h.reject(c, protocol.ReasonServerError)
		return
	}

	// The group broadcast includes the sender, which doubles as the send ack.
	h.broadcast(protocol.TypeNewMessage, protocol.ChatMessage{
		ID:          strconv.FormatInt(id, 10),
		IdentityID:  c.IdentityID,
		DisplayName: c.DisplayName,
		Content:     content,
		Type:        contentType,
		Room:        room.Group,
		Timestamp:   now,
	})
	h.metrics.MessagesTotal.WithLabelValues("group").Inc()
}

func (h *Hub) sendPrivate(c *Conn, rawTarget, content, contentType string) {
	// Targets arrive as either a connection id from the presence snapshot or
	// an identity id. A stale connection id no longer resolves.
	target, ok := h.registry.ResolveIdentity(rawTarget)
	if !ok {
		h.reject(c, protocol.ReasonTargetOffline)
		return
	}
	if target == c.IdentityID {
		h.reject(c, protocol.ReasonInvalidTarget)
		return
	}

	ctx := context.Background()
	conversationID, err := h.store.EnsureDirectConversation(ctx, c.IdentityID, target)
	if err != nil {
		h.logger.Error("ensure conversation failed", "error", err)
		h.reject(c, protocol.ReasonServerError)
		return
	}

	now := time.Now().UTC()
	id, err := h.store.InsertMessage(ctx, &store.Message{
		ConversationID: conversationID,
		SenderID:       c.IdentityID,
		Content:        content,
		Type:           contentType,
		CreatedAt:      now,
	})
	if err != nil {
		h.logger.Error("persist private message failed", "error", err)
		h.reject(c, protocol.ReasonServerError)
		return
	}

	pr := room.DerivePrivate(c.IdentityID, target)
	env, err := protocol.NewEnvelope(protocol.TypeNewMessage, protocol.ChatMessage{
		ID:          strconv.FormatInt(id, 10),
		IdentityID:  c.IdentityID,
		DisplayName: c.DisplayName,
		Content:     content,
		Type:        contentType,
		Room:        pr.String(),
		Timestamp:   now,
	})
	if err != nil {
		h.reject(c, protocol.ReasonServerError)
		return
	}

	// Echo to the sending connection and deliver to exactly one of the
	// counterpart's connections.
	_ = c.Send(env)
	if !h.registry.SendToOne(target, env) {
		// The target dropped offline between the check and delivery. The
		// message is already persisted, so history still carries it.
		h.logger.Debug("private delivery raced disconnect", "target", target)
	}
	h.metrics.MessagesTotal.WithLabelValues("private").Inc()
}

// inlineImageTooLarge checks the decoded size of a base64 data URL against
// the inline image ceiling.
func (h *Hub) inlineImageTooLarge(content string) bool {
	data := content
	if _, rest, ok := strings.Cut(content, ","); ok {
		data = rest
	}
	decoded := base64.StdEncoding.DecodedLen(len(data))
	return int64(decoded) > h.cfg.MaxInlineImageBytes
}

func (h *Hub) reject(c *Conn, reason string) {
	h.metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	h.sendTo(c, protocol.TypeMessageRejected, protocol.MessageRejected{Reason: reason})
}
