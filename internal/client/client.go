// Package client provides a JSON-over-HTTP client for the healthcare chat API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/medchat/internal/metrics"
)

// slowCallThreshold is the duration above which calls are logged at WARN level.
const slowCallThreshold = 2 * time.Second

// DefaultBaseURL is used when neither the caller nor MEDCHAT_API_URL names one.
const DefaultBaseURL = "http://localhost:8000/api/v1"

var (
	// ErrUnauthorized is returned when no usable token exists or the server
	// answers 401. Callers must treat it as a forced logout.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedResponse is returned for non-JSON or undecodable replies.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError is a non-2xx reply that is not a 401.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Detail)
}

// TokenSource supplies the bearer token for each request.
// Any error it returns is reported to the caller as ErrUnauthorized.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", errors.New("no token")
	}
	return string(t), nil
}

// Client talks to the chat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMetrics records per-endpoint call timings into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a new API client.
// If baseURL is empty, uses MEDCHAT_API_URL or DefaultBaseURL.
// Timeout can be configured via MEDCHAT_CLIENT_TIMEOUT (default 30s) or WithTimeout.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("MEDCHAT_API_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := 30 * time.Second
	if t := os.Getenv("MEDCHAT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs an authenticated JSON request against path.
// body is JSON-encoded when non-nil; result is decoded from the reply when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, result any) error {
	if c.tokens == nil {
		return fmt.Errorf("%w: no token source", ErrUnauthorized)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.send(req, op, result)
}

// send executes req and decodes a JSON reply into result.
func (c *Client) send(req *http.Request, op string, result any) (err error) {
	reqID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	defer func() {
		duration := time.Since(start)
		if c.metrics != nil {
			c.metrics.RecordCall(op, duration, err)
		}
		attrs := []any{
			"op", op,
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", reqID,
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case err != nil:
			c.logger.Warn("api call failed", append(attrs, "error", err)...)
		case duration > slowCallThreshold:
			c.logger.Warn("slow api call", attrs...)
		default:
			c.logger.Debug("api call completed", attrs...)
		}
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && req.Header.Get("Authorization") != "" {
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%w: %s returned non-JSON content (%q)", ErrMalformedResponse, resp.Status, resp.Header.Get("Content-Type"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Detail: parseDetail(data)}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// parseDetail extracts the "detail" field of an error body.
// FastAPI sends a string for handled errors and a list for validation errors.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	return string(envelope.Detail)
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// ListContacts returns the contacts the current user can chat with, in server order.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact
	if err := c.do(ctx, metrics.OpContacts, http.MethodGet, "/chat/contacts", nil, nil, &contacts); err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []Contact{}
	}
	return contacts, nil
}

// ListMessages returns the user's messages in server order.
// A non-empty peer is sent as the receiver_id filter.
func (c *Client) ListMessages(ctx context.Context, peer string) ([]Message, error) {
	var query url.Values
	if peer != "" {
		query = url.Values{"receiver_id": {peer}}
	}

	var result struct {
		Messages *[]Message `json:"messages"`
	}
	if err := c.do(ctx, metrics.OpMessages, http.MethodGet, "/chat/messages", query, nil, &result); err != nil {
		return nil, err
	}
	if result.Messages == nil {
		return nil, fmt.Errorf("%w: missing messages field", ErrMalformedResponse)
	}
	return *result.Messages, nil
}

// CreateMessage persists a message and returns the server's copy.
func (c *Client) CreateMessage(ctx context.Context, input CreateMessageInput) (*Message, error) {
	var msg Message
	if err := c.do(ctx, metrics.OpCreateMessage, http.MethodPost, "/chat/messages", nil, input, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CompleteAI sends text to the AI assistant and returns its reply.
func (c *Client) CompleteAI(ctx context.Context, text string) (string, error) {
	var result struct {
		Response *string `json:"response"`
	}
	body := map[string]string{"message": text}
	if err := c.do(ctx, metrics.OpAICompletion, http.MethodPost, "/ai-chat/text", nil, body, &result); err != nil {
		return "", err
	}
	if result.Response == nil || *result.Response == "" {
		return "", fmt.Errorf("%w: empty AI response", ErrMalformedResponse)
	}
	return *result.Response, nil
}

// =============================================================================
// AUTH
// =============================================================================

// Login exchanges email and password for an access token.
// It does not need a TokenSource; a 401 here means bad credentials, not an expired session.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	form := url.Values{
		"username": {email},
		"password": {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result LoginResult
	if err := c.send(req, metrics.OpLogin, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("%w: login reply has no access_token", ErrMalformedResponse)
	}
	return &result, nil
}
