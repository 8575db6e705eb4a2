package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUser is a helper that inserts a user and returns it.
func createTestUser(t *testing.T, s *SQLiteStore, username string) *User {
	t.Helper()
	now := time.Now().UTC()
	u := &User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("createTestUser(%s): %v", username, err)
	}
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, s, "alice")

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected user, got nil")
	}
	if got.Username != "alice" {
		t.Errorf("username = %q, want alice", got.Username)
	}

	byName, err := s.GetUserByName(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if byName == nil || byName.ID != u.ID {
		t.Errorf("GetUserByName returned %v, want id %s", byName, u.ID)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetUser(context.Background(), "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing user, got %v", got)
	}
}

func TestCreateUser_DuplicateName(t *testing.T) {
	s := newTestStore(t)

	createTestUser(t, s, "alice")
	now := time.Now().UTC()
	err := s.CreateUser(context.Background(), &User{
		ID: uuid.New().String(), Username: "alice", CreatedAt: now, UpdatedAt: now,
	})
	if err != ErrConflict {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestEnsureUser_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.EnsureUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("EnsureUser created two rows: %s != %s", first.ID, second.ID)
	}
}

func TestRenameUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, s, "alice")
	createTestUser(t, s, "bob")

	if err := s.RenameUser(ctx, u.ID, "carol"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "carol" {
		t.Errorf("username = %q, want carol", got.Username)
	}

	// Taking an existing name must fail.
	if err := s.RenameUser(ctx, u.ID, "bob"); err != ErrConflict {
		t.Errorf("expected ErrConflict renaming to taken name, got %v", err)
	}
}

func TestEnsureGroup_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureGroup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.EnsureGroup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.GroupID != second.GroupID {
		t.Errorf("EnsureGroup created two groups: %s != %s", first.GroupID, second.GroupID)
	}
	if first.ConversationID != second.ConversationID {
		t.Errorf("conversation ids differ: %s != %s", first.ConversationID, second.ConversationID)
	}
	if first.ConversationID != GroupConversationID(first.GroupID) {
		t.Error("conversation id is not derived from the group id")
	}
}

func TestGroupMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	grp, err := s.EnsureGroup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	alice := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")

	for _, u := range []*User{alice, bob, alice} {
		if err := s.AddGroupMember(ctx, grp.GroupID, u.ID); err != nil {
			t.Fatalf("AddGroupMember(%s): %v", u.Username, err)
		}
	}

	members, err := s.ListGroupMembers(ctx, grp.GroupID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].Username != "alice" || members[1].Username != "bob" {
		t.Errorf("unexpected member order: %v", members)
	}
}

func TestEnsureDirectConversation_Canonical(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createTestUser(t, s, "alice")
	b := createTestUser(t, s, "bob")

	ab, err := s.EnsureDirectConversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := s.EnsureDirectConversation(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Errorf("conversation id depends on argument order: %s != %s", ab, ba)
	}
	if ab != DirectConversationID(a.ID, b.ID) {
		t.Error("conversation id is not the deterministic pair id")
	}
}

func TestInsertAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, s, "alice")
	grp, err := s.EnsureGroup(ctx)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		_, err := s.InsertMessage(ctx, &Message{
			ConversationID: grp.ConversationID,
			SenderID:       u.ID,
			Content:        string(rune('a' + i)),
			Type:           "text",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertMessage %d: %v", i, err)
		}
	}

	msgs, err := s.ListMessages(ctx, grp.ConversationID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// Most recent three, oldest first.
	if msgs[0].Content != "c" || msgs[2].Content != "e" {
		t.Errorf("unexpected window: %v %v %v", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
	if msgs[0].SenderName != "alice" {
		t.Errorf("sender name = %q, want alice", msgs[0].SenderName)
	}
}

func TestListMessages_EmptyConversation(t *testing.T) {
	s := newTestStore(t)

	msgs, err := s.ListMessages(context.Background(), "nope", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestPurgeOldMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, s, "alice")
	grp, err := s.EnsureGroup(ctx)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	for _, age := range []time.Duration{48 * time.Hour, 36 * time.Hour, time.Hour} {
		_, err := s.InsertMessage(ctx, &Message{
			ConversationID: grp.ConversationID,
			SenderID:       u.ID,
			Content:        "m",
			Type:           "text",
			CreatedAt:      now.Add(-age),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	purged, err := s.PurgeOldMessages(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}

	msgs, err := s.ListMessages(ctx, grp.ConversationID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 surviving message, got %d", len(msgs))
	}
}
