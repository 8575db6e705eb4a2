package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the
	// pool see the same data. Without this, each pooled connection gets a
	// separate empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email) WHERE email IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			group_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL REFERENCES groups(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func sqliteIsConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	var email any
	if user.Email != "" {
		email = user.Email
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Username, email, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if sqliteIsConflict(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM users WHERE id = ?", id))
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM users WHERE username = ?", username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	var email sql.NullString
	err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	return &u, nil
}

// EnsureUser provisions a user keyed on the unique display name. Concurrent
// calls with the same name converge on a single row.
func (s *SQLiteStore) EnsureUser(ctx context.Context, username string) (*User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		uuid.NewString(), username, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUserByName(ctx, username)
}

func (s *SQLiteStore) RenameUser(ctx context.Context, id, username string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET username = ?, updated_at = ? WHERE id = ?",
		username, time.Now().UTC(), id,
	)
	if sqliteIsConflict(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Group room ---

func (s *SQLiteStore) EnsureGroup(ctx context.Context) (*GroupContext, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, description) VALUES (?, ?, 'Default group chat')
		 ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), DefaultGroupName,
	)
	if err != nil {
		return nil, err
	}

	var groupID string
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM groups WHERE name = ?", DefaultGroupName,
	).Scan(&groupID); err != nil {
		return nil, err
	}

	conversationID := GroupConversationID(groupID)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, type, group_id) VALUES (?, 'group', ?)
		 ON CONFLICT(id) DO NOTHING`,
		conversationID, groupID,
	); err != nil {
		return nil, err
	}

	return &GroupContext{GroupID: groupID, ConversationID: conversationID}, nil
}

func (s *SQLiteStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
		 ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID, userID,
	)
	return err
}

func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, COALESCE(u.email, '')
		 FROM group_members gm
		 JOIN users u ON u.id = gm.user_id
		 WHERE gm.group_id = ?
		 ORDER BY u.username`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.UserID, &m.Username, &m.Email); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// --- Direct conversations ---

func (s *SQLiteStore) EnsureDirectConversation(ctx context.Context, idA, idB string) (string, error) {
	conversationID := DirectConversationID(idA, idB)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, type) VALUES (?, 'dm')
		 ON CONFLICT(id) DO NOTHING`,
		conversationID,
	)
	if err != nil {
		return "", err
	}
	return conversationID, nil
}

// --- Messages ---

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, content, type, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.sender_id, COALESCE(u.username, 'Unknown'), m.content, m.type, m.created_at
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = ?
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Content, &m.Type, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Most recent N, returned oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteStore) PurgeOldMessages(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE created_at < ?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
