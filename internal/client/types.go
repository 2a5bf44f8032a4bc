package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultAvatar is shown for contacts without a profile image.
const DefaultAvatar = "/static/img/default-avatar.svg"

// Contact is a person the user can hold a one-to-one conversation with.
type Contact struct {
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	Role            string     `json:"role"`
	ProfileImage    *string    `json:"profile_image,omitempty"`
	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageTime *Timestamp `json:"last_message_time,omitempty"`
	UnreadCount     int        `json:"unread_count"`
}

// Avatar returns the profile image reference or DefaultAvatar.
func (c Contact) Avatar() string {
	if c.ProfileImage == nil || *c.ProfileImage == "" {
		return DefaultAvatar
	}
	return *c.ProfileImage
}

// RoleLabel returns the role with its first letter upper-cased ("doctor" -> "Doctor").
func (c Contact) RoleLabel() string {
	r, size := utf8.DecodeRuneInString(c.Role)
	if r == utf8.RuneError {
		return c.Role
	}
	return string(unicode.ToUpper(r)) + c.Role[size:]
}

// Message is one chat message. A nil SenderID means the AI sent it;
// a nil ReceiverID means it was addressed to the AI.
type Message struct {
	ID            string    `json:"chat_message_id"`
	SenderID      *string   `json:"sender_id"`
	ReceiverID    *string   `json:"receiver_id"`
	Text          string    `json:"message_text"`
	AttachmentURL *string   `json:"attachment_url,omitempty"`
	Timestamp     Timestamp `json:"timestamp"`
}

// CreateMessageInput is the body of POST /chat/messages.
type CreateMessageInput struct {
	Text string
	// ReceiverID nil addresses the AI.
	ReceiverID *string
	// FromAI sends an explicit null sender_id, marking the message as the AI's reply.
	// Otherwise sender_id is omitted and the server stamps the caller.
	FromAI bool
}

// MarshalJSON encodes the wire shape, keeping receiver_id as an explicit null.
func (in CreateMessageInput) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"message_text": in.Text,
		"receiver_id":  in.ReceiverID,
	}
	if in.FromAI {
		body["sender_id"] = nil
	}
	return json.Marshal(body)
}

// LoginResult is the reply of POST /auth/login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Roles       string `json:"roles"`
}

// Timestamp accepts both RFC 3339 and zone-less ISO-8601 values.
// Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a server timestamp string.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{t}, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
