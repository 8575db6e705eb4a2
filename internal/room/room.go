// Package room defines canonical room identifiers: the constant group room
// and order-independent private rooms derived from an identity pair.
package room

import "strings"

// Group is the identifier of the single shared group room. Every connection
// joins it on connect and never leaves it.
const Group = "group"

const privatePrefix = "private_"

// PrivateRoomID identifies a pairwise private room. The zero value is not a
// valid room; construct one with DerivePrivate or ParsePrivate.
//
// The two identity ids are held in lexicographic order, so the id derived
// from (A, B) and from (B, A) is the same value.
type PrivateRoomID struct {
	low, high string
}

// DerivePrivate returns the canonical private room for an identity pair.
func DerivePrivate(a, b string) PrivateRoomID {
	if b < a {
		a, b = b, a
	}
	return PrivateRoomID{low: a, high: b}
}

// ParsePrivate parses a wire-format private room id. It reports false when
// the string does not match the private-room grammar.
func ParsePrivate(s string) (PrivateRoomID, bool) {
	rest, ok := strings.CutPrefix(s, privatePrefix)
	if !ok {
		return PrivateRoomID{}, false
	}
	a, b, ok := strings.Cut(rest, "_")
	if !ok || a == "" || b == "" {
		return PrivateRoomID{}, false
	}
	return DerivePrivate(a, b), true
}

// IsPrivate reports whether s looks like a private room id.
func IsPrivate(s string) bool {
	_, ok := ParsePrivate(s)
	return ok
}

// String renders the wire format: "private_<low>_<high>".
func (r PrivateRoomID) String() string {
	return privatePrefix + r.low + "_" + r.high
}

// Pair returns both identity ids in lexicographic order.
func (r PrivateRoomID) Pair() (string, string) {
	return r.low, r.high
}

// Has reports whether identityID is one of the room's pair.
func (r PrivateRoomID) Has(identityID string) bool {
	return identityID == r.low || identityID == r.high
}

// Other returns the counterpart of identityID in the pair. It returns the
// empty string when identityID is not part of the pair.
func (r PrivateRoomID) Other(identityID string) string {
	switch identityID {
	case r.low:
		return r.high
	case r.high:
		return r.low
	default:
		return ""
	}
}
