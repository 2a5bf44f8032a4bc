package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/raphaelgruber/medchat/internal/chat"
	"github.com/raphaelgruber/medchat/internal/client"
	"github.com/spf13/cobra"
)

var (
	messagesWith  string
	messagesLimit int
	messagesRaw   bool
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Show a conversation",
	Long: `Show the conversation with the AI assistant, or with a contact when --with
is given. Messages are printed in server order.

Examples:
  medchat messages
  medchat messages --with 6f1c...
  medchat messages --with 6f1c... -n 10`,
	RunE: runMessages,
}

func init() {
	messagesCmd.Flags().StringVarP(&messagesWith, "with", "w", "", "contact user id (default: AI assistant)")
	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "show only the last n messages")
	messagesCmd.Flags().BoolVar(&messagesRaw, "raw", false, "print assistant replies without markdown rendering")
}

func runMessages(cmd *cobra.Command, args []string) error {
	creds, err := currentUser()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClientTimeout)
	defer cancel()

	history, err := apiClient.ListMessages(ctx, "")
	if err != nil {
		return fmt.Errorf("list messages: %w", apiError(err))
	}

	peer := chat.AIPeer
	if messagesWith != "" {
		peer = chat.ContactPeer(messagesWith)
	}
	msgs, _ := chat.FilterConversation(history, peer, creds.UserID)
	if messagesLimit > 0 && len(msgs) > messagesLimit {
		msgs = msgs[len(msgs)-messagesLimit:]
	}

	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return nil
	}
	printMessages(out, msgs, creds.UserID, time.Now(), !messagesRaw)
	return nil
}

func printMessages(out io.Writer, msgs []client.Message, self string, now time.Time, markdown bool) {
	for _, m := range msgs {
		text := m.Text
		if m.SenderID == nil && markdown {
			text = "\n" + renderMarkdown(text)
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", chat.FormatChatTime(m.Timestamp.Time, now), senderLabel(m, self), text)
		if m.AttachmentURL != nil && *m.AttachmentURL != "" {
			fmt.Fprintf(out, "  attachment: %s\n", *m.AttachmentURL)
		}
	}
}

func senderLabel(m client.Message, self string) string {
	switch {
	case m.SenderID == nil:
		return "AI"
	case *m.SenderID == self:
		return "You"
	default:
		return *m.SenderID
	}
}
