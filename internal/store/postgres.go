package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
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
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func pgIsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	var email any
	if user.Email != "" {
		email = user.Email
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		user.ID, user.Username, email, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if pgIsConflict(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM users WHERE id = $1", id))
}

func (s *PostgresStore) GetUserByName(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM users WHERE username = $1", username))
}

func (s *PostgresStore) scanUser(row *sql.Row) (*User, error) {
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

func (s *PostgresStore) EnsureUser(ctx context.Context, username string) (*User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username) DO NOTHING`,
		uuid.NewString(), username, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUserByName(ctx, username)
}

func (s *PostgresStore) RenameUser(ctx context.Context, id, username string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET username = $1, updated_at = $2 WHERE id = $3",
		username, time.Now().UTC(), id,
	)
	if pgIsConflict(err) {
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

func (s *PostgresStore) EnsureGroup(ctx context.Context) (*GroupContext, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, description) VALUES ($1, $2, 'Default group chat')
		 ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(), DefaultGroupName,
	)
	if err != nil {
		return nil, err
	}

	var groupID string
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM groups WHERE name = $1", DefaultGroupName,
	).Scan(&groupID); err != nil {
		return nil, err
	}

	conversationID := GroupConversationID(groupID)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, type, group_id) VALUES ($1, 'group', $2)
		 ON CONFLICT (id) DO NOTHING`,
		conversationID, groupID,
	); err != nil {
		return nil, err
	}

	return &GroupContext{GroupID: groupID, ConversationID: conversationID}, nil
}

func (s *PostgresStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID,
	)
	return err
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, COALESCE(u.email, '')
		 FROM group_members gm
		 JOIN users u ON u.id = gm.user_id
		 WHERE gm.group_id = $1
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

func (s *PostgresStore) EnsureDirectConversation(ctx context.Context, idA, idB string) (string, error) {
	conversationID := DirectConversationID(idA, idB)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, type) VALUES ($1, 'dm')
		 ON CONFLICT (id) DO NOTHING`,
		conversationID,
	)
	if err != nil {
		return "", err
	}
	return conversationID, nil
}

// --- Messages ---

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *Message) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, type, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.sender_id, COALESCE(u.username, 'Unknown'), m.content, m.type, m.created_at
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $2`,
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
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) PurgeOldMessages(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
