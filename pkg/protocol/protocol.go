// Package protocol defines the wire protocol exchanged between the Parley
// server and chat clients over WebSocket.
//
// All messages are JSON-encoded and share a common envelope with a "type"
// field that determines the payload structure.
package protocol

import (
	"encoding/json"
	"time"
)

// Envelope is the top-level wire format for all messages.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Message types sent by clients.
const (
	TypeSendMessage  = "sendMessage"
	TypeTyping       = "typing"
	TypeSwitchRoom   = "switchRoom"
	TypeGetHistory   = "getChatHistory"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "iceCandidate"
	TypeEndCall      = "endCall"
)

// Message types sent by the server.
const (
	TypeWelcome         = "welcome"
	TypeNewMessage      = "newMessage"
	TypeMessageRejected = "messageRejected"
	TypeUserTyping      = "userTyping"
	TypeChatHistory     = "chatHistory"
	TypeOnlineUsers     = "onlineUsers"
	TypeUserJoined      = "userJoined"
	TypeUserLeft        = "userLeft"
	TypeNicknameUpdated = "nicknameUpdated"
)

// Content types for chat messages.
const (
	ContentText  = "text"
	ContentImage = "image"
)

// Rejection reasons for messageRejected. Clients that do not recognize a
// reason render a generic failure message.
const (
	ReasonImageTooLarge = "IMAGE_TOO_LARGE"
	ReasonTargetOffline = "TARGET_OFFLINE"
	ReasonInvalidTarget = "INVALID_TARGET"
	ReasonServerError   = "SERVER_ERROR"
)

// NewEnvelope wraps a payload in an Envelope, stamping the current time.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Timestamp: time.Now(), Payload: data}, nil
}

// --- Client → server payloads ---

// SendMessage carries a chat message to the group room or a private
// counterpart. Target is the group token (or empty), the counterpart's
// identity id, or one of its connection ids as listed in the presence
// snapshot.
type SendMessage struct {
	Content string `json:"content"`
	Type    string `json:"type"` // "text" or "image"
	Target  string `json:"target"`
}

// Typing reports the sender's typing state for a room.
type Typing struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

// SwitchRoom changes the connection's active room.
type SwitchRoom struct {
	Room string `json:"room"`
}

// GetChatHistory requests persisted history for a room. A Limit of 0 asks
// for the server default.
type GetChatHistory struct {
	Room  string `json:"room"`
	Limit int    `json:"limit,omitempty"`
}

// Signal carries an opaque call-signaling payload (SDP offer/answer or ICE
// candidate) addressed to a counterpart identity or connection id. From is
// normalized to the sender's identity id by the server on relay.
type Signal struct {
	To      string          `json:"to"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// EndCall tears down an in-progress call. From is filled in by the server.
type EndCall struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
}

// --- Server → client payloads ---

// Welcome is sent once after a connection registers, telling the client its
// own identity and connection ids.
type Welcome struct {
	ConnectionID string `json:"connectionId"`
	IdentityID   string `json:"identityId"`
	DisplayName  string `json:"displayName"`
	Room         string `json:"room"`
}

// ChatMessage is a delivered (and persisted) chat message.
type ChatMessage struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identityId"`
	DisplayName string    `json:"displayName"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	Room        string    `json:"room"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageRejected tells the sender why a message was not delivered.
type MessageRejected struct {
	Reason string `json:"reason"`
}

// UserTyping relays a typing indicator to a room or counterpart.
type UserTyping struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Room         string `json:"room"`
	IsTyping     bool   `json:"isTyping"`
}

// GroupMember describes a persisted member of the group room.
type GroupMember struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// ChatHistory returns persisted history for a room. Members is only set for
// the group room.
type ChatHistory struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
	Members  []GroupMember `json:"members,omitempty"`
}

// PresenceUser is one online identity in a presence snapshot. ConnectionID is
// a representative connection for the identity; an identity with several open
// connections appears exactly once.
type PresenceUser struct {
	ConnectionID string `json:"connectionId"`
	IdentityID   string `json:"identityId"`
	DisplayName  string `json:"displayName"`
}

// OnlineUsers is the full presence snapshot, replacing any prior snapshot on
// the client.
type OnlineUsers struct {
	Users []PresenceUser `json:"users"`
	Count int            `json:"count"`
}

// PresenceEvent announces an identity joining or leaving. It fires only on
// the identity's first connect and last disconnect, never per connection.
type PresenceEvent struct {
	DisplayName string    `json:"displayName"`
	Timestamp   time.Time `json:"timestamp"`
}

// NicknameUpdated announces a display-name change for an identity.
type NicknameUpdated struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
}
