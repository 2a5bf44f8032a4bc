package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"MEDCHAT_API_URL", "MEDCHAT_CLIENT_TIMEOUT", "MEDCHAT_POLL_INTERVAL",
		"MEDCHAT_NOTICE_TTL", "MEDCHAT_CREDENTIALS_FILE", "MEDCHAT_LOG_FILE", "MEDCHAT_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "http://localhost:8000/api/v1", cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.ClientTimeout)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.NoticeTTL)
	assert.Equal(t, "credentials.yaml", filepath.Base(cfg.CredentialsFile))
	assert.Equal(t, "/tmp/medchat.log", cfg.LogFile)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MEDCHAT_API_URL", "https://care.example.com/api/v1")
	t.Setenv("MEDCHAT_POLL_INTERVAL", "3s")
	t.Setenv("MEDCHAT_NOTICE_TTL", "-1s")
	t.Setenv("MEDCHAT_CLIENT_TIMEOUT", "soon")
	t.Setenv("MEDCHAT_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, "https://care.example.com/api/v1", cfg.APIURL)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.NoticeTTL, "non-positive durations fall back")
	assert.Equal(t, 30*time.Second, cfg.ClientTimeout, "invalid durations fall back")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("poll tick", "peer", "d1")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "poll tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &entry))
	assert.Equal(t, "poll tick", entry["msg"])
	assert.Equal(t, "d1", entry["peer"])
}

func TestSetupLoggerFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medchat.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo, false)
	logger.Info("written to file")
	require.NoError(t, cleanup())

	logger, cleanup = SetupLogger(filepath.Join(t.TempDir(), "missing", "dir", "x.log"), slog.LevelInfo, false)
	logger.Info("discarded")
	assert.NoError(t, cleanup())
}
