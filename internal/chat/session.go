package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/medchat/internal/client"
	"golang.org/x/sync/errgroup"
)

// ApologyText replaces the AI reply when the completion call fails.
const ApologyText = "Sorry, I encountered an error processing your request."

var (
	// ErrEmptyMessage is returned for blank submissions.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoContactSelected is returned when sending in contact mode without a contact.
	ErrNoContactSelected = errors.New("select a contact first")

	// ErrContactNotFound is returned when selecting an id that is not in the roster.
	ErrContactNotFound = errors.New("contact not found")

	// ErrStaleResponse is returned when a conversation load was overtaken by a newer one.
	ErrStaleResponse = errors.New("stale conversation response")

	// ErrSessionExpired is returned once the server rejected the session.
	ErrSessionExpired = errors.New("session expired")
)

// API is the subset of the chat API the session needs.
type API interface {
	ListContacts(ctx context.Context) ([]client.Contact, error)
	ListMessages(ctx context.Context, peer string) ([]client.Message, error)
	CreateMessage(ctx context.Context, input client.CreateMessageInput) (*client.Message, error)
	CompleteAI(ctx context.Context, text string) (string, error)
}

// Options configures a Session.
type Options struct {
	// SelfID is the authenticated user's id.
	SelfID   string
	Renderer Renderer
	Logger   *slog.Logger
	// OnExpired runs once when the session expires, before the renderer is
	// told. It may run on the poller goroutine and must not wait for it.
	OnExpired func()
}

// Session is the chat state of one authenticated run.
// All methods are safe for concurrent use; network calls run without the lock.
type Session struct {
	api       API
	self      string
	renderer  Renderer
	logger    *slog.Logger
	onExpired func()
	now       func() time.Time

	mu          sync.Mutex
	mode        Mode
	activeID    string
	roster      []client.Contact
	lastSeenAt  *time.Time
	viewPeer    Peer
	messages    []DisplayMessage
	loading     bool
	noSelection bool
	loadSeq     uint64
	version     uint64
	expired     bool
}

// NewSession creates a session in AI mode. Nothing is fetched until the first
// operation.
func NewSession(api API, opts Options) *Session {
	s := &Session{
		api:       api,
		self:      opts.SelfID,
		renderer:  opts.Renderer,
		logger:    opts.Logger,
		onExpired: opts.OnExpired,
		now:       time.Now,
		mode:      ModeAI,
		viewPeer:  AIPeer,
	}
	if s.renderer == nil {
		s.renderer = NopRenderer{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Mode returns the current chat mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ActiveContactID returns the selected contact, or "" if none.
func (s *Session) ActiveContactID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// LastSeenAt returns the newest message time of the active conversation.
func (s *Session) LastSeenAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSeenAt == nil {
		return nil
	}
	t := *s.lastSeenAt
	return &t
}

// Roster returns a copy of the contact list in server order.
func (s *Session) Roster() []client.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.roster)
}

// Expired reports whether the server has rejected the session.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// View returns the current render snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// SwitchMode changes between the AI conversation and contact conversations.
// Switching to AI drops the contact selection and loads the AI conversation;
// switching to contacts refreshes the roster, which selects the first contact
// when none is selected.
func (s *Session) SwitchMode(ctx context.Context, mode Mode) error {
	if err := s.alive(); err != nil {
		return err
	}

	s.mu.Lock()
	s.mode = mode
	if mode == ModeAI {
		s.activeID = ""
		s.lastSeenAt = nil
		s.noSelection = false
	} else if s.activeID == "" {
		s.showNoSelectionLocked()
	}
	v := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("mode switched", "mode", mode.String())
	s.renderer.Render(v)

	if mode == ModeAI {
		_, err := s.LoadConversation(ctx, AIPeer)
		return err
	}
	return s.RefreshRoster(ctx)
}

// RefreshRoster replaces the roster with the server's contact list. In contact
// mode it drops a selection that is no longer listed and selects the first
// contact when none is selected. On failure the previous roster stays.
func (s *Session) RefreshRoster(ctx context.Context) error {
	return s.refreshRoster(ctx, true)
}

// refreshRoster fetches contacts. With manageSelection=false the selection is
// never touched, which is what polling needs.
func (s *Session) refreshRoster(ctx context.Context, manageSelection bool) error {
	if err := s.alive(); err != nil {
		return err
	}

	contacts, err := s.api.ListContacts(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("load contacts: %w", err), Notice{
			Text:  "Failed to load contacts. Please try again.",
			Retry: RetryRoster,
		})
	}

	s.mu.Lock()
	s.roster = contacts
	var autoSelect string
	if manageSelection && s.mode == ModeContact {
		if s.activeID != "" && indexOf(contacts, s.activeID) < 0 {
			s.logger.Info("active contact left the roster", "contact_id", s.activeID)
			s.activeID = ""
			s.showNoSelectionLocked()
		}
		if s.activeID == "" {
			if len(contacts) > 0 {
				autoSelect = contacts[0].UserID
			} else {
				s.showNoSelectionLocked()
			}
		}
	}
	v := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("roster refreshed", "contacts", len(contacts))
	s.renderer.Render(v)

	if autoSelect != "" {
		return s.SelectContact(ctx, autoSelect)
	}
	return nil
}

// SelectContact makes id the active contact and loads its conversation.
// Unknown ids leave the state unchanged and return ErrContactNotFound.
func (s *Session) SelectContact(ctx context.Context, id string) error {
	if err := s.alive(); err != nil {
		return err
	}

	s.mu.Lock()
	if indexOf(s.roster, id) < 0 {
		s.mu.Unlock()
		s.renderer.Notice(Notice{Level: NoticeInfo, Text: "Contact not found"})
		return fmt.Errorf("%w: %s", ErrContactNotFound, id)
	}
	s.mode = ModeContact
	s.activeID = id
	s.noSelection = false
	s.lastSeenAt = nil
	s.mu.Unlock()

	s.logger.Debug("contact selected", "contact_id", id)

	_, err := s.LoadConversation(ctx, ContactPeer(id))
	return err
}

// LoadConversation fetches the user's entire message history, keeps the
// messages that belong to peer, and makes them the rendered transcript.
// lastSeenAt becomes the newest timestamp among them. A response overtaken by
// a newer load, or for a peer that is no longer active, is dropped with
// ErrStaleResponse.
func (s *Session) LoadConversation(ctx context.Context, peer Peer) ([]client.Message, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	if s.viewPeer != peer {
		s.viewPeer = peer
		s.messages = nil
	}
	s.loading = true
	v := s.snapshotLocked()
	s.mu.Unlock()
	s.renderer.Render(v)

	msgs, err := s.api.ListMessages(ctx, "")
	if err != nil {
		s.mu.Lock()
		if seq == s.loadSeq {
			s.loading = false
		}
		v := s.snapshotLocked()
		s.mu.Unlock()
		s.renderer.Render(v)

		return nil, s.fail(fmt.Errorf("load conversation %s: %w", peer, err), Notice{
			Text:  "Failed to load messages. Please try again.",
			Retry: RetryConversation,
			Peer:  peer,
		})
	}

	filtered, latest := FilterConversation(msgs, peer, s.self)

	s.mu.Lock()
	active, ok := s.activePeerLocked()
	if seq != s.loadSeq || !ok || active != peer {
		s.mu.Unlock()
		s.logger.Debug("dropping stale conversation response", "peer", peer.String(), "seq", seq)
		return nil, ErrStaleResponse
	}
	s.lastSeenAt = latest
	s.messages = s.mergeLocked(filtered)
	s.loading = false
	v = s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("conversation loaded", "peer", peer.String(), "messages", len(filtered))
	s.renderer.Render(v)
	return filtered, nil
}

// SubmitMessage sends text to the active peer. The message is shown at once as
// pending and confirmed or marked failed when the server answers. In AI mode
// the assistant's reply is fetched, persisted and appended; if the assistant
// fails, a local apology is shown instead.
func (s *Session) SubmitMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if err := s.alive(); err != nil {
		return err
	}

	s.mu.Lock()
	peer, ok := s.activePeerLocked()
	if !ok {
		s.mu.Unlock()
		s.renderer.Notice(Notice{Level: NoticeInfo, Text: "Select a contact first"})
		return ErrNoContactSelected
	}
	if s.viewPeer != peer {
		s.viewPeer = peer
		s.messages = nil
	}
	pending := DisplayMessage{
		LocalID:  uuid.New().String(),
		Author:   AuthorSelf,
		Text:     text,
		Time:     s.now(),
		Delivery: Pending,
	}
	s.messages = append(s.messages, pending)
	v := s.snapshotLocked()
	s.mu.Unlock()
	s.renderer.Render(v)

	input := client.CreateMessageInput{Text: text}
	if !peer.IsAI() {
		id := peer.ContactID
		input.ReceiverID = &id
	}

	ack, err := s.api.CreateMessage(ctx, input)
	if err != nil {
		s.settle(peer, pending.LocalID, func(m *DisplayMessage) { m.Delivery = Failed })
		return s.fail(fmt.Errorf("send message: %w", err), Notice{
			Text: "Failed to send message. Please try again.",
		})
	}
	s.settle(peer, pending.LocalID, func(m *DisplayMessage) {
		m.ID = ack.ID
		m.Time = ack.Timestamp.Time
		m.Delivery = Confirmed
	})

	if !peer.IsAI() {
		s.updatePreview(peer.ContactID, text, ack.Timestamp)
		return nil
	}
	return s.askAssistant(ctx, text)
}

// askAssistant fetches and persists the AI reply to text.
func (s *Session) askAssistant(ctx context.Context, text string) error {
	reply, err := s.api.CompleteAI(ctx, text)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return s.fail(err, Notice{})
		}
		s.logger.Warn("ai completion failed, showing apology", "error", err)
		s.appendTo(AIPeer, DisplayMessage{
			LocalID:  uuid.New().String(),
			Author:   AuthorAI,
			Text:     ApologyText,
			Time:     s.now(),
			Delivery: Local,
		})
		return nil
	}

	self := s.self
	saved, err := s.api.CreateMessage(ctx, client.CreateMessageInput{
		Text:       reply,
		ReceiverID: &self,
		FromAI:     true,
	})
	if err != nil {
		s.appendTo(AIPeer, DisplayMessage{
			LocalID:  uuid.New().String(),
			Author:   AuthorAI,
			Text:     reply,
			Time:     s.now(),
			Delivery: Failed,
		})
		return s.fail(fmt.Errorf("save ai reply: %w", err), Notice{
			Text: "Failed to save the assistant's reply.",
		})
	}

	s.appendTo(AIPeer, DisplayMessage{
		ID:       saved.ID,
		Author:   AuthorAI,
		Text:     reply,
		Time:     saved.Timestamp.Time,
		Delivery: Confirmed,
	})
	return nil
}

// Poll refreshes the active contact conversation if the server has newer
// messages, and refreshes the roster. It never changes the mode or the
// selection. In AI mode it does nothing. Failures are logged and noticed but
// not returned; only ErrSessionExpired is, so the poller can stop.
func (s *Session) Poll(ctx context.Context) error {
	if err := s.alive(); err != nil {
		return err
	}

	s.mu.Lock()
	mode, activeID := s.mode, s.activeID
	s.mu.Unlock()

	if mode == ModeAI {
		return nil
	}

	var g errgroup.Group
	if activeID != "" {
		g.Go(func() error {
			return s.checkForNewMessages(ctx, activeID)
		})
	}
	g.Go(func() error {
		return s.refreshRoster(ctx, false)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, ErrStaleResponse) {
		s.logger.Warn("poll tick incomplete", "error", err)
	}

	if s.Expired() {
		return ErrSessionExpired
	}
	return nil
}

// checkForNewMessages reloads the conversation with contactID when the
// server holds a message newer than lastSeenAt.
func (s *Session) checkForNewMessages(ctx context.Context, contactID string) error {
	peer := ContactPeer(contactID)

	msgs, err := s.api.ListMessages(ctx, contactID)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return s.fail(err, Notice{})
		}
		return fmt.Errorf("check messages %s: %w", contactID, err)
	}

	_, latest := FilterConversation(msgs, peer, s.self)
	if latest == nil {
		return nil
	}

	s.mu.Lock()
	active, ok := s.activePeerLocked()
	fresh := ok && active == peer && (s.lastSeenAt == nil || latest.After(*s.lastSeenAt))
	s.mu.Unlock()

	if !fresh {
		return nil
	}

	s.logger.Debug("new messages found", "contact_id", contactID, "latest", latest.Format(time.RFC3339Nano))
	_, err = s.LoadConversation(ctx, peer)
	return err
}

// Retry runs the action a notice offers.
func (s *Session) Retry(ctx context.Context, n Notice) error {
	switch n.Retry {
	case RetryRoster:
		return s.RefreshRoster(ctx)
	case RetryConversation:
		_, err := s.LoadConversation(ctx, n.Peer)
		return err
	default:
		return nil
	}
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Session) alive() error {
	if s.Expired() {
		return ErrSessionExpired
	}
	return nil
}

// fail reports err to the user. Unauthorized errors expire the session
// instead of raising a notice.
func (s *Session) fail(err error, n Notice) error {
	if errors.Is(err, client.ErrUnauthorized) {
		s.expire(err)
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if n.Text != "" {
		n.Level = NoticeError
		s.renderer.Notice(n)
	}
	return err
}

func (s *Session) expire(cause error) {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.mu.Unlock()

	s.logger.Warn("session expired, logging out", "error", cause)
	if s.onExpired != nil {
		s.onExpired()
	}
	s.renderer.SessionExpired()
}

// activePeerLocked returns the peer whose conversation should be shown.
// ok is false in contact mode without a selection.
func (s *Session) activePeerLocked() (Peer, bool) {
	if s.mode == ModeAI {
		return AIPeer, true
	}
	if s.activeID == "" {
		return Peer{}, false
	}
	return ContactPeer(s.activeID), true
}

// showingLocked reports whether peer is active and its transcript is shown.
func (s *Session) showingLocked(peer Peer) bool {
	active, ok := s.activePeerLocked()
	return ok && active == peer && s.viewPeer == peer
}

func (s *Session) showNoSelectionLocked() {
	s.noSelection = true
	s.lastSeenAt = nil
	s.messages = nil
	s.loading = false
}

// mergeLocked converts server messages to display entries and keeps the
// optimistic entries that the server has not confirmed yet.
func (s *Session) mergeLocked(msgs []client.Message) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.toDisplay(m))
	}
	for _, m := range s.messages {
		if m.Delivery == Pending || m.Delivery == Failed {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) toDisplay(m client.Message) DisplayMessage {
	author := AuthorContact
	switch {
	case m.SenderID == nil:
		author = AuthorAI
	case *m.SenderID == s.self:
		author = AuthorSelf
	}
	return DisplayMessage{
		ID:       m.ID,
		Author:   author,
		Text:     m.Text,
		Time:     m.Timestamp.Time,
		Delivery: Confirmed,
	}
}

// settle updates the optimistic entry localID if peer's conversation is still
// shown. A confirmed entry whose server id is already present (a reload raced
// the ack) is removed instead.
func (s *Session) settle(peer Peer, localID string, update func(*DisplayMessage)) {
	s.mu.Lock()
	if !s.showingLocked(peer) {
		s.mu.Unlock()
		return
	}
	i := slices.IndexFunc(s.messages, func(m DisplayMessage) bool { return m.LocalID == localID })
	if i < 0 {
		s.mu.Unlock()
		return
	}
	updated := s.messages[i]
	update(&updated)
	duplicate := updated.ID != "" && slices.ContainsFunc(s.messages, func(m DisplayMessage) bool {
		return m.LocalID == "" && m.ID == updated.ID
	})
	if duplicate {
		s.messages = slices.Delete(s.messages, i, i+1)
	} else {
		s.messages[i] = updated
	}
	v := s.snapshotLocked()
	s.mu.Unlock()
	s.renderer.Render(v)
}

// appendTo adds m to the transcript if peer's conversation is still shown.
func (s *Session) appendTo(peer Peer, m DisplayMessage) {
	s.mu.Lock()
	if !s.showingLocked(peer) {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, m)
	v := s.snapshotLocked()
	s.mu.Unlock()
	s.renderer.Render(v)
}

// updatePreview sets the roster's last-message preview for a contact after a
// successful send, until the next roster refresh replaces it.
func (s *Session) updatePreview(contactID, text string, at client.Timestamp) {
	s.mu.Lock()
	i := indexOf(s.roster, contactID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.roster = slices.Clone(s.roster)
	s.roster[i].LastMessage = &text
	s.roster[i].LastMessageTime = &at
	v := s.snapshotLocked()
	s.mu.Unlock()
	s.renderer.Render(v)
}

func (s *Session) snapshotLocked() View {
	s.version++
	v := View{
		Version:           s.version,
		Mode:              s.mode,
		Roster:            slices.Clone(s.roster),
		Peer:              s.viewPeer,
		Messages:          slices.Clone(s.messages),
		Loading:           s.loading,
		NoContactSelected: s.mode == ModeContact && s.noSelection,
	}
	if i := indexOf(s.roster, s.activeID); s.activeID != "" && i >= 0 {
		c := s.roster[i]
		v.ActiveContact = &c
	}
	return v
}

func indexOf(roster []client.Contact, id string) int {
	return slices.IndexFunc(roster, func(c client.Contact) bool { return c.UserID == id })
}
