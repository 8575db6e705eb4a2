// Package store defines the persistence interface for the chat service and
// provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrConflict is returned when an insert or update violates a uniqueness
// constraint (duplicate username, duplicate email).
var ErrConflict = errors.New("store: conflict")

// conversationNamespace seeds deterministic conversation ids so that the
// same group or identity pair always maps to the same conversation row,
// regardless of which process created it first.
var conversationNamespace = uuid.MustParse("9f2c1afa-54f5-4be0-8a73-26e90ac8e357")

// DefaultGroupName is the name of the single shared group chat.
const DefaultGroupName = "group"

// Store is the persistence interface consumed by the chat core.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByName(ctx context.Context, username string) (*User, error)
	EnsureUser(ctx context.Context, username string) (*User, error)
	RenameUser(ctx context.Context, id, username string) error

	// Group room
	EnsureGroup(ctx context.Context) (*GroupContext, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error)

	// Direct conversations
	EnsureDirectConversation(ctx context.Context, idA, idB string) (string, error)

	// Messages
	InsertMessage(ctx context.Context, msg *Message) (int64, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error)
	PurgeOldMessages(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User is a stable identity. Username doubles as the display name and is
// unique across the service.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GroupContext identifies the default group room and its backing conversation.
type GroupContext struct {
	GroupID        string `json:"group_id"`
	ConversationID string `json:"conversation_id"`
}

// GroupMember is one persisted member of the group room.
type GroupMember struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Message is a chat message to persist.
type Message struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Type           string    `json:"type"` // "text" or "image"
	CreatedAt      time.Time `json:"created_at"`
}

// StoredMessage is a persisted message joined with its sender's current
// display name.
type StoredMessage struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

// GroupConversationID derives the deterministic conversation id backing a
// group.
func GroupConversationID(groupID string) string {
	return uuid.NewSHA1(conversationNamespace, []byte("group:"+groupID)).String()
}

// DirectConversationID derives the deterministic conversation id for an
// identity pair. The pair is canonicalized so the argument order does not
// matter.
func DirectConversationID(idA, idB string) string {
	if idB < idA {
		idA, idB = idB, idA
	}
	return uuid.NewSHA1(conversationNamespace, []byte("dm:"+idA+":"+idB)).String()
}
