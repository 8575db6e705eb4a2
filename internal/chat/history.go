package chat

import (
	"context"
	"strconv"

	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/pkg/protocol"
)

// handleHistory returns the recent messages of a room. Private history is
// gated on pair membership: a connection only reads rooms its identity is
// part of.
func (h *Hub) handleHistory(c *Conn, req protocol.GetChatHistory) {
	ctx := context.Background()

	limit := req.Limit
	if limit <= 0 || limit > h.cfg.HistoryLimit {
		limit = h.cfg.HistoryLimit
	}

	roomID := req.Room
	if roomID == "" {
		roomID = room.Group
	}

	var conversationID string
	var members []protocol.GroupMember

	if roomID == room.Group {
		conversationID = h.group.ConversationID
		stored, err := h.store.ListGroupMembers(ctx, h.group.GroupID)
		if err != nil {
			h.logger.Warn("list group members failed", "error", err)
		}
		for _, m := range stored {
			members = append(members, protocol.GroupMember{
				IdentityID:  m.UserID,
				DisplayName: m.Username,
			})
		}
	} else {
		pr, ok := room.ParsePrivate(roomID)
		if !ok || !pr.Has(c.IdentityID) {
			h.logger.Warn("history request for inaccessible room", "room", roomID, "identity", c.DisplayName)
			return
		}
		roomID = pr.String()
		var err error
		conversationID, err = h.store.EnsureDirectConversation(ctx, c.IdentityID, pr.Other(c.IdentityID))
		if err != nil {
			h.logger.Error("ensure conversation failed", "error", err)
			return
		}
	}

	stored, err := h.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		h.logger.Error("list messages failed", "room", roomID, "error", err)
		return
	}

	msgs := make([]protocol.ChatMessage, len(stored))
	for i, m := range stored {
		msgs[i] = protocol.ChatMessage{
			ID:          strconv.FormatInt(m.ID, 10),
			IdentityID:  m.SenderID,
			DisplayName: m.SenderName,
			Content:     m.Content,
			Type:        m.Type,
			Room:        roomID,
			Timestamp:   m.CreatedAt,
		}
	}

	h.sendTo(c, protocol.TypeChatHistory, protocol.ChatHistory{
		Room:     roomID,
		Messages: msgs,
		Members:  members,
	})
}
