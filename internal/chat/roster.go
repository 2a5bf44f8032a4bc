package chat

import (
	"strings"
	"time"

	"github.com/raphaelgruber/medchat/internal/client"
)

// FilterContacts returns the contacts whose name contains term,
// case-insensitively. An empty term returns the roster unchanged.
func FilterContacts(roster []client.Contact, term string) []client.Contact {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return roster
	}
	out := make([]client.Contact, 0, len(roster))
	for _, c := range roster {
		if strings.Contains(strings.ToLower(c.Name), term) {
			out = append(out, c)
		}
	}
	return out
}

// FormatChatTime renders a message time relative to now: the clock time for
// today, "Yesterday", otherwise month and day.
func FormatChatTime(t, now time.Time) string {
	t = t.In(now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)

	switch {
	case !t.Before(today):
		return t.Format("15:04")
	case !t.Before(yesterday):
		return "Yesterday"
	default:
		return t.Format("Jan 2")
	}
}
