package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/raphaelgruber/medchat/internal/chat"
	"github.com/spf13/cobra"
)

var sendTo string

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to the AI assistant or a contact",
	Long: `Send one message. Without --to the message goes to the AI assistant and
its reply is printed.

Examples:
  medchat send "I have had a headache for two days"
  medchat send --to 6f1c... "Can we move my appointment?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "contact user id (default: AI assistant)")
}

// noticePrinter is a chat.Renderer for one-shot commands: it ignores views
// and prints notices.
type noticePrinter struct {
	out io.Writer
}

func (p noticePrinter) Render(chat.View) {}

func (p noticePrinter) Notice(n chat.Notice) {
	if n.Level == chat.NoticeError {
		fmt.Fprintf(p.out, "Error: %s\n", n.Text)
		return
	}
	fmt.Fprintln(p.out, n.Text)
}

func (p noticePrinter) SessionExpired() {}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	session, err := newSession(noticePrinter{out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	// Covers the AI round trip: send, completion, and saving the reply.
	ctx, cancel := context.WithTimeout(context.Background(), 3*cfg.ClientTimeout)
	defer cancel()

	if sendTo != "" {
		if err := session.RefreshRoster(ctx); err != nil {
			return apiError(err)
		}
		if err := session.SelectContact(ctx, sendTo); err != nil {
			if errors.Is(err, chat.ErrContactNotFound) {
				return fmt.Errorf("no contact with id %q, see 'medchat contacts -v'", sendTo)
			}
			return apiError(err)
		}
	}

	if err := session.SubmitMessage(ctx, text); err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			return errors.New("message must not be empty")
		}
		return apiError(err)
	}

	printSent(cmd.OutOrStdout(), session.View())
	return nil
}

// printSent prints the confirmation and, in AI mode, the reply that followed it.
func printSent(out io.Writer, v chat.View) {
	msgs := v.Messages
	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Author == chat.AuthorSelf {
			last = i
			break
		}
	}
	if last < 0 {
		return
	}

	if v.Mode == chat.ModeContact && v.ActiveContact != nil {
		fmt.Fprintf(out, "Sent to %s.\n", v.ActiveContact.Name)
	} else {
		fmt.Fprintln(out, "Sent.")
	}
	for _, m := range msgs[last+1:] {
		if m.Author == chat.AuthorAI {
			fmt.Fprintf(out, "\nAI:\n%s\n", renderMarkdown(m.Text))
		}
	}
}
