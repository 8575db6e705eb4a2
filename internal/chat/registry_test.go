package chat

import (
	"sync"
	"testing"

	"github.com/parley-chat/parley/pkg/protocol"
)

// fakeSender records envelopes delivered to one connection.
type fakeSender struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (f *fakeSender) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, env)
	return nil
}

func (f *fakeSender) received() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.envs...)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envs)
}

func addConn(t *testing.T, r *Registry, connID, identityID, name string) (*Conn, *fakeSender, bool) {
	t.Helper()
	fs := &fakeSender{}
	c := NewConn(connID, identityID, name, fs)
	first, err := r.Register(c)
	if err != nil {
		t.Fatalf("Register(%s): %v", connID, err)
	}
	return c, fs, first
}

func TestRegistry_Multiplicity(t *testing.T) {
	r := NewRegistry(0)

	_, _, first := addConn(t, r, "c1", "alice", "alice")
	if !first {
		t.Error("first connection should report first=true")
	}
	_, _, first = addConn(t, r, "c2", "alice", "alice")
	if first {
		t.Error("second connection of same identity should report first=false")
	}

	if _, last := r.Deregister("c1"); last {
		t.Error("identity still has a connection, last should be false")
	}
	if _, last := r.Deregister("c2"); !last {
		t.Error("final connection should report last=true")
	}
	if r.IsOnline("alice") {
		t.Error("identity should be offline after last deregister")
	}
}

func TestRegistry_ConnectionCap(t *testing.T) {
	r := NewRegistry(2)

	addConn(t, r, "c1", "alice", "alice")
	addConn(t, r, "c2", "alice", "alice")

	c3 := NewConn("c3", "alice", "alice", &fakeSender{})
	if _, err := r.Register(c3); err != ErrTooManyConns {
		t.Errorf("expected ErrTooManyConns, got %v", err)
	}

	// A different identity is unaffected.
	addConn(t, r, "c4", "bob", "bob")
}

func TestRegistry_SnapshotDedup(t *testing.T) {
	r := NewRegistry(0)

	addConn(t, r, "c1", "bob", "bob")
	addConn(t, r, "c2", "alice", "alice")
	addConn(t, r, "c3", "alice", "alice")

	users := r.Snapshot()
	if len(users) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(users))
	}
	if users[0].DisplayName != "alice" || users[1].DisplayName != "bob" {
		t.Errorf("roster not sorted by name: %v", users)
	}
	if users[0].ConnectionID != "c2" {
		t.Errorf("representative connection should be stable lowest id, got %s", users[0].ConnectionID)
	}
}

func TestRegistry_SendToOne(t *testing.T) {
	r := NewRegistry(0)

	_, f1, _ := addConn(t, r, "c1", "alice", "alice")
	_, f2, _ := addConn(t, r, "c2", "alice", "alice")

	env := protocol.Envelope{Type: "test"}
	if !r.SendToOne("alice", env) {
		t.Fatal("expected delivery to succeed")
	}
	if f1.count()+f2.count() != 1 {
		t.Errorf("expected exactly one delivery, got %d", f1.count()+f2.count())
	}
	if f1.count() != 1 {
		t.Error("delivery should pick the lowest connection id")
	}

	if r.SendToOne("nobody", env) {
		t.Error("delivery to unknown identity should report false")
	}
}

func TestRegistry_BroadcastExcept(t *testing.T) {
	r := NewRegistry(0)

	_, f1, _ := addConn(t, r, "c1", "alice", "alice")
	_, f2, _ := addConn(t, r, "c2", "bob", "bob")

	r.BroadcastExcept(protocol.Envelope{Type: "test"}, "c1")
	if f1.count() != 0 {
		t.Error("excluded connection received the broadcast")
	}
	if f2.count() != 1 {
		t.Error("other connection missed the broadcast")
	}
}

func TestRegistry_Rename(t *testing.T) {
	r := NewRegistry(0)

	c1, _, _ := addConn(t, r, "c1", "alice", "alice")
	c2, _, _ := addConn(t, r, "c2", "alice", "alice")
	addConn(t, r, "c3", "bob", "bob")

	if n := r.Rename("alice", "alicia"); n != 2 {
		t.Errorf("patched %d connections, want 2", n)
	}
	if c1.DisplayName != "alicia" || c2.DisplayName != "alicia" {
		t.Error("rename did not reach all connections")
	}
}

func TestRegistry_Rooms(t *testing.T) {
	r := NewRegistry(0)

	addConn(t, r, "c1", "alice", "alice")
	if r.RoomOf("c1") != "group" {
		t.Errorf("new connection should start in the group room, got %q", r.RoomOf("c1"))
	}
	r.SetRoom("c1", "private_alice_bob")
	if r.RoomOf("c1") != "private_alice_bob" {
		t.Errorf("room not updated, got %q", r.RoomOf("c1"))
	}
}

func TestRegistry_ResolveIdentity(t *testing.T) {
	r := NewRegistry(0)
	addConn(t, r, "c1", "alice", "alice")
	addConn(t, r, "c2", "alice", "alice")

	if id, ok := r.ResolveIdentity("alice"); !ok || id != "alice" {
		t.Errorf("identity target = %q, %v", id, ok)
	}
	if id, ok := r.ResolveIdentity("c2"); !ok || id != "alice" {
		t.Errorf("connection target = %q, %v", id, ok)
	}
	if _, ok := r.ResolveIdentity("nobody"); ok {
		t.Error("unknown target should not resolve")
	}

	r.Deregister("c1")
	r.Deregister("c2")
	if _, ok := r.ResolveIdentity("c1"); ok {
		t.Error("stale connection id should not resolve")
	}
	if _, ok := r.ResolveIdentity("alice"); ok {
		t.Error("offline identity should not resolve")
	}
}
