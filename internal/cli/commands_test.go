package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/medchat/internal/auth"
	"github.com/raphaelgruber/medchat/internal/client"
	"github.com/raphaelgruber/medchat/internal/config"
	"github.com/raphaelgruber/medchat/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCommands points the package globals at srv and a temporary credential store.
func setupCommands(t *testing.T, srv *httptest.Server, loggedIn bool) {
	t.Helper()

	cfg = config.Config{APIURL: srv.URL, ClientTimeout: 5 * time.Second, NoticeTTL: time.Second}
	logger = discardLogger()
	store = auth.NewStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	collector = metrics.NewCollector()
	apiClient = client.New(srv.URL, store, client.WithMetrics(collector), client.WithLogger(logger))

	if loggedIn {
		require.NoError(t, store.Save(auth.Credentials{Token: "opaque-token", UserID: "u1", Name: "Jane", Email: "jane@example.com"}))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newCmd(in string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(in))
	return cmd, &out
}

func TestRunContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/contacts", r.URL.Path)
		assert.Equal(t, "Bearer opaque-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"user_id": "d1", "name": "Dr. Alice", "role": "doctor", "unread_count": 2},
			{"user_id": "d2", "name": "Dr. Bob", "role": "doctor", "last_message": "See you", "unread_count": 0},
		})
	}))
	defer srv.Close()
	setupCommands(t, srv, true)

	cmd, out := newCmd("")
	require.NoError(t, runContacts(cmd, nil))

	assert.Contains(t, out.String(), "Contacts (2):")
	assert.Contains(t, out.String(), "- Dr. Alice [Doctor] (2 unread)")
	assert.Contains(t, out.String(), "See you")
	assert.Equal(t, int64(1), collector.Snapshot().Op(metrics.OpContacts).Count)
}

func TestRunContactsRequiresLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()
	setupCommands(t, srv, false)

	cmd, _ := newCmd("")
	assert.ErrorIs(t, runContacts(cmd, nil), errLoginRequired)
}

func TestUnauthorizedClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
	}))
	defer srv.Close()
	setupCommands(t, srv, true)

	cmd, _ := newCmd("")
	err := runMessages(cmd, nil)
	assert.ErrorIs(t, err, errSessionExpired)

	_, err = store.Load()
	assert.ErrorIs(t, err, auth.ErrNotLoggedIn)
}

func TestRunMessagesFiltersConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("receiver_id"), "the whole history is fetched")
		writeJSON(w, http.StatusOK, map[string]any{"messages": []map[string]any{
			{"chat_message_id": "1", "sender_id": nil, "receiver_id": "u1", "message_text": "How can I help?", "timestamp": "2025-03-01T09:00:00"},
			{"chat_message_id": "2", "sender_id": "d1", "receiver_id": "u1", "message_text": "Your results are fine", "timestamp": "2025-03-01T09:05:00"},
			{"chat_message_id": "3", "sender_id": "u1", "receiver_id": "d1", "message_text": "Thank you", "timestamp": "2025-03-01T09:06:00"},
		}})
	}))
	defer srv.Close()
	setupCommands(t, srv, true)

	messagesWith = "d1"
	defer func() { messagesWith = "" }()

	cmd, out := newCmd("")
	require.NoError(t, runMessages(cmd, nil))

	assert.NotContains(t, out.String(), "How can I help?")
	assert.Contains(t, out.String(), "d1: Your results are fine")
	assert.Contains(t, out.String(), "You: Thank you")
}

func TestRunSendToAI(t *testing.T) {
	var created []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/messages":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			created = append(created, body)
			writeJSON(w, http.StatusOK, map[string]any{
				"chat_message_id": "m" + string(rune('0'+len(created))),
				"sender_id":       body["sender_id"],
				"receiver_id":     body["receiver_id"],
				"message_text":    body["message_text"],
				"timestamp":       "2025-03-01T09:00:00Z",
			})
		case "/ai-chat/text":
			writeJSON(w, http.StatusOK, map[string]string{"response": "Try to rest."})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	setupCommands(t, srv, true)

	cmd, out := newCmd("")
	require.NoError(t, runSend(cmd, []string{"I", "feel", "tired"}))

	require.Len(t, created, 2)
	assert.Equal(t, "I feel tired", created[0]["message_text"])
	assert.Equal(t, "Try to rest.", created[1]["message_text"])
	assert.Contains(t, out.String(), "AI:")
	assert.Contains(t, out.String(), "Try to rest.")
}

func TestRunLoginSavesCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("password") != "s3cret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": "tok",
			"token_type":   "bearer",
			"user_id":      "u1",
			"email":        r.PostForm.Get("username"),
			"name":         "Jane",
			"roles":        "patient",
		})
	}))
	defer srv.Close()
	setupCommands(t, srv, false)

	loginEmail = "jane@example.com"
	defer func() { loginEmail = "" }()

	cmd, _ := newCmd("wrong\n")
	assert.EqualError(t, runLogin(cmd, nil), "login failed: incorrect email or password")

	cmd, out := newCmd("s3cret\n")
	require.NoError(t, runLogin(cmd, nil))
	assert.Contains(t, out.String(), "Logged in as Jane <jane@example.com> (patient)")

	creds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.Token)
	assert.Equal(t, "u1", creds.UserID)

	cmd, out = newCmd("")
	require.NoError(t, runWhoami(cmd, nil))
	assert.Contains(t, out.String(), "User ID:   u1")

	cmd, _ = newCmd("")
	require.NoError(t, runLogout(cmd, nil))
	_, err = store.Load()
	assert.ErrorIs(t, err, auth.ErrNotLoggedIn)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
