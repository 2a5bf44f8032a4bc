// Package auth persists the login token and user identity between runs.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotLoggedIn is returned when no credentials are stored.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrTokenExpired is returned when the stored token's exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
)

// Credentials identify the authenticated user.
type Credentials struct {
	Token     string    `yaml:"token"`
	UserID    string    `yaml:"user_id"`
	Email     string    `yaml:"email,omitempty"`
	Name      string    `yaml:"name,omitempty"`
	Roles     string    `yaml:"roles,omitempty"`
	LoginTime time.Time `yaml:"login_time"`
}

// Store is a YAML-file credential store.
// All methods are safe for concurrent use.
type Store struct {
	path string
	now  func() time.Time

	mu    sync.Mutex
	creds *Credentials
}

// NewStore returns a store backed by path. Nothing is read until first use.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored credentials.
func (s *Store) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Credentials, error) {
	if s.creds != nil {
		c := *s.creds
		return &c, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Token == "" {
		return nil, ErrNotLoggedIn
	}

	s.creds = &creds
	c := creds
	return &c, nil
}

// Save writes creds to disk with owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	if creds.Token == "" {
		return errors.New("save credentials: empty token")
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}

	s.creds = &creds
	return nil
}

// Clear removes stored credentials. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// Token returns the stored bearer token.
// It fails with ErrNotLoggedIn or ErrTokenExpired so callers can force a logout
// without a network round trip.
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	if exp, ok := TokenExpiry(creds.Token); ok && !s.now().Before(exp) {
		return "", ErrTokenExpired
	}
	return creds.Token, nil
}
