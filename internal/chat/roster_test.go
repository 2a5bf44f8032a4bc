package chat

import (
	"testing"
	"time"

	"github.com/raphaelgruber/medchat/internal/client"
	"github.com/stretchr/testify/assert"
)

func TestFilterContacts(t *testing.T) {
	roster := []client.Contact{
		contact("d1", "Dr. Alice Smith"),
		contact("d2", "Dr. Bob Jones"),
		contact("p1", "Carol Smithers"),
	}

	tests := []struct {
		term string
		want []string
	}{
		{"", []string{"d1", "d2", "p1"}},
		{"  ", []string{"d1", "d2", "p1"}},
		{"smith", []string{"d1", "p1"}},
		{"BOB", []string{"d2"}},
		{"zed", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got := FilterContacts(roster, tt.term)
			ids := make([]string, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.UserID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFormatChatTime(t *testing.T) {
	now := time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"today", time.Date(2025, 3, 5, 8, 5, 0, 0, time.UTC), "08:05"},
		{"midnight", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "00:00"},
		{"yesterday", time.Date(2025, 3, 4, 23, 59, 0, 0, time.UTC), "Yesterday"},
		{"older", time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), "Feb 28"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatChatTime(tt.t, now))
		})
	}
}
