package room

import "testing"

func TestDerivePrivate_OrderIndependent(t *testing.T) {
	ab := DerivePrivate("alice-id", "bob-id")
	ba := DerivePrivate("bob-id", "alice-id")
	if ab != ba {
		t.Fatalf("derive not order-independent: %v vs %v", ab, ba)
	}
	if ab.String() != "private_alice-id_bob-id" {
		t.Errorf("unexpected wire format %q", ab.String())
	}
}

func TestParsePrivate_RoundTrip(t *testing.T) {
	derived := DerivePrivate("2", "1")
	parsed, ok := ParsePrivate(derived.String())
	if !ok {
		t.Fatalf("ParsePrivate(%q) failed", derived.String())
	}
	low, high := parsed.Pair()
	if low != "1" || high != "2" {
		t.Errorf("pair = (%q, %q), want (1, 2)", low, high)
	}
	if parsed != derived {
		t.Errorf("round trip mismatch: %v vs %v", parsed, derived)
	}
}

func TestParsePrivate_Rejects(t *testing.T) {
	tests := []string{
		"",
		"group",
		"private_",
		"private_only-one",
		"private__",
		"private_a_",
		"dm_a_b",
	}
	for _, s := range tests {
		if _, ok := ParsePrivate(s); ok {
			t.Errorf("ParsePrivate(%q) = ok, want reject", s)
		}
	}
}

func TestPrivateRoomID_Membership(t *testing.T) {
	r := DerivePrivate("u1", "u2")

	if !r.Has("u1") || !r.Has("u2") {
		t.Error("expected both identities to be members")
	}
	if r.Has("u3") {
		t.Error("u3 must not be a member")
	}
	if got := r.Other("u1"); got != "u2" {
		t.Errorf("Other(u1) = %q, want u2", got)
	}
	if got := r.Other("u2"); got != "u1" {
		t.Errorf("Other(u2) = %q, want u1", got)
	}
	if got := r.Other("u3"); got != "" {
		t.Errorf("Other(u3) = %q, want empty", got)
	}
}
