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

var contactsSearch string

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List the people you can chat with",
	Long: `List your contacts in server order with their last message and unread count.

Examples:
  medchat contacts
  medchat contacts --search smith
  medchat contacts -v`,
	RunE: runContacts,
}

func init() {
	contactsCmd.Flags().StringVarP(&contactsSearch, "search", "s", "", "filter by name")
}

func runContacts(cmd *cobra.Command, args []string) error {
	if _, err := currentUser(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClientTimeout)
	defer cancel()

	contacts, err := apiClient.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("list contacts: %w", apiError(err))
	}
	contacts = chat.FilterContacts(contacts, contactsSearch)

	out := cmd.OutOrStdout()
	if len(contacts) == 0 {
		fmt.Fprintln(out, "No contacts found.")
		return nil
	}

	fmt.Fprintf(out, "Contacts (%d):\n\n", len(contacts))
	printContacts(out, contacts, time.Now())
	return nil
}

func printContacts(out io.Writer, contacts []client.Contact, now time.Time) {
	for _, c := range contacts {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Fprintf(out, "- %s [%s]%s\n", c.Name, c.RoleLabel(), unread)
		if c.LastMessage != nil && *c.LastMessage != "" {
			when := ""
			if c.LastMessageTime != nil {
				when = chat.FormatChatTime(c.LastMessageTime.Time, now) + "  "
			}
			fmt.Fprintf(out, "  %s%s\n", when, truncate(*c.LastMessage, 60))
		}
		if verbose {
			fmt.Fprintf(out, "  ID: %s\n", c.UserID)
			fmt.Fprintf(out, "  Avatar: %s\n", c.Avatar())
		}
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
