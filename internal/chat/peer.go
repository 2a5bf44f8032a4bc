// Package chat holds the chat session state machine: mode switching between
// the AI assistant and human contacts, contact selection, conversation
// loading, optimistic sends and the polling loop that keeps the open
// conversation fresh.
package chat

import (
	"time"

	"github.com/raphaelgruber/medchat/internal/client"
)

// Peer is the counterpart of a conversation: the AI assistant (zero value)
// or a contact.
type Peer struct {
	ContactID string
}

// AIPeer is the AI assistant.
var AIPeer = Peer{}

// ContactPeer returns the peer for a contact id.
func ContactPeer(id string) Peer {
	return Peer{ContactID: id}
}

// IsAI reports whether p is the AI assistant.
func (p Peer) IsAI() bool {
	return p.ContactID == ""
}

func (p Peer) String() string {
	if p.IsAI() {
		return "ai"
	}
	return p.ContactID
}

// Includes reports whether m belongs to the conversation with p, where self is
// the authenticated user's id. A null sender or receiver routes a message to
// the AI conversation and nowhere else.
func (p Peer) Includes(m client.Message, self string) bool {
	if m.SenderID == nil || m.ReceiverID == nil {
		return p.IsAI()
	}
	if p.IsAI() {
		return false
	}
	sender, receiver := *m.SenderID, *m.ReceiverID
	return (sender == p.ContactID && receiver == self) ||
		(sender == self && receiver == p.ContactID)
}

// FilterConversation returns the messages of msgs that belong to the
// conversation with peer, in input order, and the newest timestamp among them
// (nil if none match).
//
// Callers pass the user's entire history; the cost of every conversation load
// therefore grows with total message volume.
func FilterConversation(msgs []client.Message, peer Peer, self string) ([]client.Message, *time.Time) {
	out := make([]client.Message, 0, len(msgs))
	var latest *time.Time
	for _, m := range msgs {
		if !peer.Includes(m, self) {
			continue
		}
		out = append(out, m)
		if ts := m.Timestamp.Time; latest == nil || ts.After(*latest) {
			latest = &ts
		}
	}
	return out, latest
}
