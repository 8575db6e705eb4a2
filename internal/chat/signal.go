package chat

import (
	"sync"

	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/pkg/protocol"
)

// Call states tracked per private room. A room with no entry is idle.
const (
	callOffering  = "offering"
	callConnected = "connected"
)

type callTable struct {
	mu    sync.Mutex
	calls map[string]string // private room id -> state
}

func newCallTable() *callTable {
	return &callTable{calls: make(map[string]string)}
}

func (t *callTable) state(roomID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[roomID]
}

func (t *callTable) set(roomID, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[roomID] = state
}

func (t *callTable) clear(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.calls, roomID)
}

// roomsOf returns the private rooms with an active call involving identityID.
func (t *callTable) roomsOf(identityID string) []room.PrivateRoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var rooms []room.PrivateRoomID
	for roomID := range t.calls {
		if pr, ok := room.ParsePrivate(roomID); ok && pr.Has(identityID) {
			rooms = append(rooms, pr)
		}
	}
	return rooms
}

// handleSignal relays an SDP or ICE frame to the counterpart. The payload is
// opaque: it is forwarded byte for byte with only the routing fields
// rewritten. A frame with no reachable target is dropped without a response,
// the caller's own timeout handles the dead end.
func (h *Hub) handleSignal(c *Conn, msgType string, sig protocol.Signal) {
	target, ok := h.registry.ResolveIdentity(sig.To)
	if !ok || target == c.IdentityID {
		h.metrics.SignalsDropped.Inc()
		return
	}
	sig.To = target

	pr := room.DerivePrivate(c.IdentityID, sig.To)

	switch msgType {
	case protocol.TypeOffer:
		h.calls.set(pr.String(), callOffering)
	case protocol.TypeAnswer:
		h.calls.set(pr.String(), callConnected)
	case protocol.TypeICECandidate:
		// Candidates trickle in any state.
	}

	env, err := protocol.NewEnvelope(msgType, protocol.Signal{
		To:      sig.To,
		From:    c.IdentityID,
		Payload: sig.Payload,
	})
	if err != nil {
		h.metrics.SignalsDropped.Inc()
		return
	}

	if !h.registry.SendToOne(sig.To, env) {
		h.logger.Debug("signal dropped, target offline", "type", msgType, "target", sig.To)
		h.calls.clear(pr.String())
		h.metrics.SignalsDropped.Inc()
		return
	}
	h.metrics.SignalsForwarded.Inc()
}

// handleEndCall tears down the call state and relays the hangup.
func (h *Hub) handleEndCall(c *Conn, end protocol.EndCall) {
	target, ok := h.registry.ResolveIdentity(end.To)
	if !ok || target == c.IdentityID {
		return
	}
	end.To = target

	pr := room.DerivePrivate(c.IdentityID, end.To)
	h.calls.clear(pr.String())

	env, err := protocol.NewEnvelope(protocol.TypeEndCall, protocol.EndCall{
		To:   end.To,
		From: c.IdentityID,
	})
	if err != nil {
		return
	}
	if h.registry.SendToOne(end.To, env) {
		h.metrics.SignalsForwarded.Inc()
	} else {
		h.metrics.SignalsDropped.Inc()
	}
}

// endCallsFor hangs up every call involving an identity that just went
// offline, notifying the surviving peer.
func (h *Hub) endCallsFor(identityID string) {
	for _, pr := range h.calls.roomsOf(identityID) {
		h.calls.clear(pr.String())
		peer := pr.Other(identityID)
		env, err := protocol.NewEnvelope(protocol.TypeEndCall, protocol.EndCall{
			To:   peer,
			From: identityID,
		})
		if err != nil {
			continue
		}
		if h.registry.SendToOne(peer, env) {
			h.metrics.SignalsForwarded.Inc()
		}
	}
}
