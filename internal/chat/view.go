package chat

import (
	"time"

	"github.com/raphaelgruber/medchat/internal/client"
)

// Mode selects which kind of peer the chat panel talks to.
type Mode int

const (
	ModeAI Mode = iota
	ModeContact
)

func (m Mode) String() string {
	switch m {
	case ModeAI:
		return "ai"
	case ModeContact:
		return "contact"
	default:
		return "unknown"
	}
}

// Author says who wrote a displayed message.
type Author int

const (
	AuthorSelf Author = iota
	AuthorAI
	AuthorContact
)

// Delivery tracks a displayed message from optimistic append to server ack.
type Delivery int

const (
	// Confirmed messages came from, or were acknowledged by, the server.
	Confirmed Delivery = iota
	// Pending messages are shown before the server has acknowledged them.
	Pending
	// Failed messages could not be persisted.
	Failed
	// Local messages are never sent to the server (the AI apology).
	Local
)

func (d Delivery) String() string {
	switch d {
	case Confirmed:
		return "confirmed"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	case Local:
		return "local"
	default:
		return "unknown"
	}
}

// DisplayMessage is one entry of the rendered transcript.
type DisplayMessage struct {
	// ID is the server id; empty until confirmed.
	ID string
	// LocalID identifies optimistic entries until the server acknowledges them.
	LocalID  string
	Author   Author
	Text     string
	Time     time.Time
	Delivery Delivery
}

// NoticeLevel grades a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

// RetryAction is the explicit retry a notice offers.
type RetryAction int

const (
	RetryNone RetryAction = iota
	RetryRoster
	RetryConversation
)

// Notice is a dismissible, auto-expiring message for the user.
type Notice struct {
	Level NoticeLevel
	Text  string
	Retry RetryAction
	// Peer is the conversation to reload for RetryConversation.
	Peer Peer
}

// View is a snapshot of everything the rendering boundary draws.
type View struct {
	// Version increases with every snapshot; renderers drop older versions
	// that arrive late.
	Version       uint64
	Mode          Mode
	ActiveContact *client.Contact
	Roster        []client.Contact
	// Peer is the conversation Messages belongs to.
	Peer              Peer
	Messages          []DisplayMessage
	Loading           bool
	NoContactSelected bool
}

// Renderer is the rendering boundary. Calls may arrive from any goroutine.
type Renderer interface {
	Render(v View)
	Notice(n Notice)
	SessionExpired()
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) Render(View)     {}
func (NopRenderer) Notice(Notice)   {}
func (NopRenderer) SessionExpired() {}
