package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/medchat/internal/chat"
	"github.com/raphaelgruber/medchat/internal/client"
)

const rosterWidth = 32

// viewMsg carries a session snapshot
type viewMsg chat.View

// noticeMsg carries a notice raised by the session
type noticeMsg chat.Notice

// noticeTimeoutMsg hides the notice with the given sequence number
type noticeTimeoutMsg int

// expiredMsg reports that the server rejected the session
type expiredMsg struct{}

// opDoneMsg reports the end of a session operation started from a key press
type opDoneMsg struct {
	op  string
	err error
}

// tuiRenderer forwards session updates into the bubbletea event loop.
type tuiRenderer struct {
	send func(tea.Msg)
}

func (r *tuiRenderer) Render(v chat.View)   { r.send(viewMsg(v)) }
func (r *tuiRenderer) Notice(n chat.Notice) { r.send(noticeMsg(n)) }
func (r *tuiRenderer) SessionExpired()      { r.send(expiredMsg{}) }

// chatModel is the bubbletea model for the interactive chat.
type chatModel struct {
	ctx     context.Context
	session *chat.Session
	logger  *slog.Logger
	startup func(ctx context.Context) error

	user      string
	theme     Theme
	input     textinput.Model
	view      chat.View
	notice    *chat.Notice
	noticeSeq int
	noticeTTL time.Duration
	searching bool
	search    string
	width     int
	height    int
	expired   bool
	now       func() time.Time
}

// newChatModel creates the chat model. startup runs once when the program starts.
func newChatModel(ctx context.Context, s *chat.Session, noticeTTL time.Duration, logger *slog.Logger) chatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	return chatModel{
		ctx:       ctx,
		session:   s,
		logger:    logger,
		theme:     defaultTheme,
		input:     ti,
		view:      s.View(),
		noticeTTL: noticeTTL,
		now:       time.Now,
	}
}

// Init runs the startup action.
func (m chatModel) Init() tea.Cmd {
	if m.startup == nil {
		return nil
	}
	return m.run("startup", m.startup)
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(max(msg.Width-6, 10))
		return m, nil

	case viewMsg:
		// Snapshots from concurrent operations can arrive out of order.
		if msg.Version > m.view.Version {
			m.view = chat.View(msg)
		}
		return m, nil

	case noticeMsg:
		n := chat.Notice(msg)
		m.notice = &n
		m.noticeSeq++
		seq := m.noticeSeq
		return m, tea.Tick(m.noticeTTL, func(time.Time) tea.Msg {
			return noticeTimeoutMsg(seq)
		})

	case noticeTimeoutMsg:
		if int(msg) == m.noticeSeq {
			m.notice = nil
		}
		return m, nil

	case expiredMsg:
		m.expired = true
		return m, tea.Quit

	case opDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, chat.ErrStaleResponse) {
			m.logger.Debug("operation failed", "op", msg.op, "error", msg.err)
		}
		return m, nil
	}

	return m, nil
}

func (m chatModel) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "tab":
		target := chat.ModeContact
		if m.session.Mode() == chat.ModeContact {
			target = chat.ModeAI
		}
		m.clearSearch()
		return m, m.run("switch mode", func(ctx context.Context) error {
			return m.session.SwitchMode(ctx, target)
		})

	case "ctrl+r":
		if m.notice == nil || m.notice.Retry == chat.RetryNone {
			return m, nil
		}
		n := *m.notice
		m.notice = nil
		return m, m.run("retry", func(ctx context.Context) error {
			return m.session.Retry(ctx, n)
		})

	case "up", "down":
		if m.view.Mode != chat.ModeContact {
			return m, nil
		}
		id := m.neighbour(msg.String() == "up")
		if id == "" {
			return m, nil
		}
		return m, m.selectContact(id)

	case "esc":
		if m.searching {
			m.clearSearch()
		}
		return m, nil

	case "/":
		if m.view.Mode == chat.ModeContact && !m.searching && m.input.Value() == "" {
			m.searching = true
			return m, nil
		}

	case "enter":
		if m.searching {
			list := m.visibleRoster()
			m.clearSearch()
			if len(list) == 0 {
				return m, nil
			}
			return m, m.selectContact(list[0].UserID)
		}

		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.run("send", func(ctx context.Context) error {
			return m.session.SubmitMessage(ctx, text)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.searching {
		m.search = m.input.Value()
	}
	return m, cmd
}

func (m *chatModel) clearSearch() {
	if m.searching {
		m.input.Reset()
	}
	m.searching = false
	m.search = ""
}

// run executes a session operation outside the event loop.
func (m chatModel) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m chatModel) selectContact(id string) tea.Cmd {
	return m.run("select contact", func(ctx context.Context) error {
		return m.session.SelectContact(ctx, id)
	})
}

// visibleRoster is the roster narrowed by the search term.
func (m chatModel) visibleRoster() []client.Contact {
	return chat.FilterContacts(m.view.Roster, m.search)
}

// neighbour returns the contact above or below the active one in the visible
// roster, or the first contact when none is active.
func (m chatModel) neighbour(up bool) string {
	list := m.visibleRoster()
	if len(list) == 0 {
		return ""
	}
	i := -1
	if m.view.ActiveContact != nil {
		i = slices.IndexFunc(list, func(c client.Contact) bool { return c.UserID == m.view.ActiveContact.UserID })
	}
	switch {
	case i < 0:
		i = 0
	case up && i > 0:
		i--
	case !up && i < len(list)-1:
		i++
	default:
		return ""
	}
	return list[i].UserID
}

// View renders the chat display.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m chatModel) renderContent() string {
	if m.expired {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	transcript := m.renderTranscript()
	if m.view.Mode == chat.ModeContact {
		roster := m.theme.panelStyle().Width(rosterWidth).Render(m.renderRoster())
		width := max(m.width-rosterWidth-6, 30)
		panel := m.theme.panelStyle().Width(width).Render(transcript)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, roster, panel))
	} else {
		b.WriteString(m.theme.panelStyle().Width(max(m.width-2, 40)).Render(transcript))
	}
	b.WriteString("\n")

	if line := m.renderNotice(); line != "" {
		b.WriteString(line + "\n")
	}

	in := m.input
	in.Placeholder = m.placeholder()
	if m.searching {
		in.Prompt = "/ "
	}
	b.WriteString(in.View() + "\n")
	b.WriteString(m.theme.hintStyle().Render(m.hint()))
	return b.String()
}

func (m chatModel) renderHeader() string {
	ai, contacts := m.theme.tabStyle(), m.theme.tabStyle()
	if m.view.Mode == chat.ModeAI {
		ai = m.theme.activeTabStyle()
	} else {
		contacts = m.theme.activeTabStyle()
	}
	header := m.theme.titleStyle().Render("medchat") + "  " +
		ai.Render("AI Assistant") + "  " + contacts.Render("Contacts")
	if m.user != "" {
		header += "  " + m.theme.hintStyle().Render(m.user)
	}
	return header
}

func (m chatModel) renderRoster() string {
	list := m.visibleRoster()
	if len(list) == 0 {
		if m.search != "" {
			return m.theme.hintStyle().Render("No matches")
		}
		return m.theme.hintStyle().Render("No contacts")
	}

	now := m.now()
	var lines []string
	for _, c := range list {
		marker := "  "
		if m.view.ActiveContact != nil && m.view.ActiveContact.UserID == c.UserID {
			marker = m.theme.titleStyle().Render("▸ ")
		}
		name := c.Name
		if c.UnreadCount > 0 {
			name += m.theme.successStyle().Render(fmt.Sprintf(" (%d)", c.UnreadCount))
		}
		lines = append(lines, marker+name)

		detail := c.RoleLabel()
		if c.LastMessage != nil && *c.LastMessage != "" {
			detail = truncate(*c.LastMessage, rosterWidth-10)
			if c.LastMessageTime != nil {
				detail = chat.FormatChatTime(c.LastMessageTime.Time, now) + " " + detail
			}
		}
		lines = append(lines, "  "+m.theme.hintStyle().Render(detail))
	}
	return strings.Join(lines, "\n")
}

func (m chatModel) renderTranscript() string {
	if m.view.NoContactSelected {
		return m.theme.hintStyle().Render("Select a contact to start chatting")
	}

	var title string
	switch {
	case m.view.Mode == chat.ModeAI:
		title = "AI Health Assistant"
	case m.view.ActiveContact != nil:
		title = fmt.Sprintf("%s · %s", m.view.ActiveContact.Name, m.view.ActiveContact.RoleLabel())
	default:
		title = "Contacts"
	}

	lines := []string{m.theme.titleStyle().Render(title), ""}
	if m.view.Loading && len(m.view.Messages) == 0 {
		lines = append(lines, m.theme.hintStyle().Render("Loading messages..."))
	} else if len(m.view.Messages) == 0 {
		lines = append(lines, m.theme.hintStyle().Render("No messages yet. Say hello!"))
	}

	msgs := m.view.Messages
	if limit := m.height - 10; limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	now := m.now()
	for _, dm := range msgs {
		lines = append(lines, m.renderMessage(dm, now))
	}
	return strings.Join(lines, "\n")
}

func (m chatModel) renderMessage(dm chat.DisplayMessage, now time.Time) string {
	var author string
	switch dm.Author {
	case chat.AuthorSelf:
		author = m.theme.authorStyle(m.theme.Self).Render("You")
	case chat.AuthorAI:
		author = m.theme.authorStyle(m.theme.AI).Render("AI")
	default:
		name := "Contact"
		if m.view.ActiveContact != nil {
			name = m.view.ActiveContact.Name
		}
		author = m.theme.authorStyle(m.theme.Contact).Render(name)
	}

	line := fmt.Sprintf("%s %s: %s", m.theme.hintStyle().Render(chat.FormatChatTime(dm.Time, now)), author, dm.Text)
	switch dm.Delivery {
	case chat.Pending:
		line += m.theme.hintStyle().Render(" (sending…)")
	case chat.Failed:
		line += m.theme.errorStyle().Render(" ✗ not sent")
	}
	return line
}

func (m chatModel) renderNotice() string {
	if m.notice == nil {
		return ""
	}
	text := m.notice.Text
	if m.notice.Retry != chat.RetryNone {
		text += " (ctrl+r to retry)"
	}
	if m.notice.Level == chat.NoticeError {
		return m.theme.errorStyle().Render("✗ " + text)
	}
	return m.theme.successStyle().Render(text)
}

func (m chatModel) placeholder() string {
	switch {
	case m.searching:
		return "Search contacts..."
	case m.view.Mode == chat.ModeAI:
		return "Ask the AI health assistant..."
	case m.view.NoContactSelected:
		return "Select a contact first"
	default:
		return "Type a message..."
	}
}

func (m chatModel) hint() string {
	if m.view.Mode == chat.ModeAI {
		return "tab: contacts • enter: send • ctrl+c: quit"
	}
	if m.searching {
		return "enter: open first match • esc: cancel search"
	}
	return "tab: AI assistant • ↑/↓: switch contact • /: search • enter: send • ctrl+c: quit"
}
