package client

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/pkg/protocol"
)

const typingTimeout = 3 * time.Second

// Mirror holds the client's view of server state: who we are, who is online,
// and the message log per room. UIs read it after each Apply.
type Mirror struct {
	ConnectionID string
	IdentityID   string
	DisplayName  string

	ActiveRoom string
	Roster     []protocol.PresenceUser
	Members    []protocol.GroupMember

	messages map[string][]protocol.ChatMessage
	unread   map[string]int
	typing   map[string]time.Time // room -> last typing signal
	typers   map[string]string    // room -> display name of typer

	Notices []string // transient lines: joins, leaves, rejections
}

// NewMirror returns an empty mirror with the group room active.
func NewMirror() *Mirror {
	return &Mirror{
		ActiveRoom: room.Group,
		messages:   make(map[string][]protocol.ChatMessage),
		unread:     make(map[string]int),
		typing:     make(map[string]time.Time),
		typers:     make(map[string]string),
	}
}

// Messages returns the log for a room, oldest first.
func (m *Mirror) Messages(roomID string) []protocol.ChatMessage {
	return m.messages[roomID]
}

// Unread returns the unread count for a room.
func (m *Mirror) Unread(roomID string) int { return m.unread[roomID] }

// SetActiveRoom switches the focused room and clears its unread count.
func (m *Mirror) SetActiveRoom(roomID string) {
	m.ActiveRoom = roomID
	m.unread[roomID] = 0
}

// PrivateRoomWith returns the canonical private room shared with the given
// identity.
func (m *Mirror) PrivateRoomWith(identityID string) string {
	return room.DerivePrivate(m.IdentityID, identityID).String()
}

// TypingIn reports the display name typing in a room, if the last signal is
// still fresh.
func (m *Mirror) TypingIn(roomID string, now time.Time) (string, bool) {
	last, ok := m.typing[roomID]
	if !ok || now.Sub(last) > typingTimeout {
		return "", false
	}
	return m.typers[roomID], true
}

// Apply folds a server envelope into the mirror. Unknown types are ignored.
func (m *Mirror) Apply(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeWelcome:
		var p protocol.Welcome
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		m.ConnectionID = p.ConnectionID
		m.IdentityID = p.IdentityID
		m.DisplayName = p.DisplayName
		if p.Room != "" {
			m.ActiveRoom = p.Room
		}

	case protocol.TypeNewMessage:
		var p protocol.ChatMessage
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		m.messages[p.Room] = append(m.messages[p.Room], p)
		delete(m.typing, p.Room)
		if p.Room != m.ActiveRoom && p.IdentityID != m.IdentityID {
			m.unread[p.Room]++
		}

	case protocol.TypeChatHistory:
		var p protocol.ChatHistory
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		m.messages[p.Room] = p.Messages
		if p.Room == room.Group {
			m.Members = p.Members
		}

	case protocol.TypeOnlineUsers:
		var p protocol.OnlineUsers
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		users := p.Users
		sort.Slice(users, func(i, j int) bool {
			return users[i].DisplayName < users[j].DisplayName
		})
		m.Roster = users

	case protocol.TypeUserJoined:
		var p protocol.PresenceEvent
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		m.notice(p.DisplayName + " joined")

	case protocol.TypeUserLeft:
		var p protocol.PresenceEvent
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		m.notice(p.DisplayName + " left")

	case protocol.TypeUserTyping:
		var p protocol.UserTyping
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		if p.IsTyping {
			m.typing[p.Room] = time.Now()
			m.typers[p.Room] = p.DisplayName
		} else {
			delete(m.typing, p.Room)
		}

	case protocol.TypeNicknameUpdated:
		var p protocol.NicknameUpdated
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		if p.IdentityID == m.IdentityID {
			m.DisplayName = p.DisplayName
		}
		old := ""
		for i := range m.Roster {
			if m.Roster[i].IdentityID == p.IdentityID {
				old = m.Roster[i].DisplayName
				m.Roster[i].DisplayName = p.DisplayName
			}
		}
		if old != "" && old != p.DisplayName {
			m.notice(old + " is now " + p.DisplayName)
		}

	case protocol.TypeMessageRejected:
		var p protocol.MessageRejected
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		m.notice("message rejected: " + rejectionText(p.Reason))
	}
}

func (m *Mirror) notice(s string) {
	m.Notices = append(m.Notices, s)
	if len(m.Notices) > 50 {
		m.Notices = m.Notices[len(m.Notices)-50:]
	}
}

func rejectionText(reason string) string {
	switch reason {
	case protocol.ReasonImageTooLarge:
		return "image too large"
	case protocol.ReasonTargetOffline:
		return "recipient is offline"
	case protocol.ReasonInvalidTarget:
		return "invalid recipient"
	default:
		return "server error"
	}
}
