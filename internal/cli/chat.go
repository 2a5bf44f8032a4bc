package cli

import (
	"context"
	"fmt"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/medchat/internal/chat"
	"github.com/spf13/cobra"
)

var (
	chatWith     string
	chatContacts bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat",
	Long: `Open the interactive chat view. It starts with the AI health assistant;
press tab to switch to your contacts.

The open contact conversation is checked for new messages every
MEDCHAT_POLL_INTERVAL (default 10s). Logs go to MEDCHAT_LOG_FILE only.

Examples:
  medchat chat
  medchat chat --contacts
  medchat chat --with 6f1c...`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatWith, "with", "w", "", "open the conversation with this contact id")
	chatCmd.Flags().BoolVarP(&chatContacts, "contacts", "c", false, "start in contact mode")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	renderer := &tuiRenderer{}
	session, err := newSession(renderer)
	if err != nil {
		return err
	}
	creds, err := store.Load()
	if err != nil {
		return err
	}

	model := newChatModel(ctx, session, cfg.NoticeTTL, logger)
	model.user = displayName(*creds)
	model.startup = startupAction(session, chatWith, chatContacts)

	p := tea.NewProgram(model)
	renderer.send = p.Send

	poller := chat.NewPoller(session, cfg.PollInterval, logger)
	poller.Start(ctx)
	defer poller.Stop()

	logger.Info("chat started", "user_id", creds.UserID, "poll_interval", cfg.PollInterval)
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}

	if m, ok := finalModel.(chatModel); ok && m.expired {
		return errSessionExpired
	}
	return nil
}

// startupAction picks what the chat shows first.
func startupAction(s *chat.Session, with string, contacts bool) func(ctx context.Context) error {
	switch {
	case with != "":
		return func(ctx context.Context) error {
			if err := s.RefreshRoster(ctx); err != nil {
				return err
			}
			return s.SelectContact(ctx, with)
		}
	case contacts:
		return func(ctx context.Context) error {
			return s.SwitchMode(ctx, chat.ModeContact)
		}
	default:
		return func(ctx context.Context) error {
			_, err := s.LoadConversation(ctx, chat.AIPeer)
			return err
		}
	}
}
