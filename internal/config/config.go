package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values.
type Config struct {
	// API
	APIURL        string
	ClientTimeout time.Duration

	// Chat session
	PollInterval time.Duration
	NoticeTTL    time.Duration

	// Credentials
	CredentialsFile string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// A .env file in the working directory is applied first; real environment
// variables win over it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIURL:        getEnv("MEDCHAT_API_URL", "http://localhost:8000/api/v1"),
		ClientTimeout: getDuration("MEDCHAT_CLIENT_TIMEOUT", 30*time.Second),

		PollInterval: getDuration("MEDCHAT_POLL_INTERVAL", 10*time.Second),
		NoticeTTL:    getDuration("MEDCHAT_NOTICE_TTL", 5*time.Second),

		CredentialsFile: getEnv("MEDCHAT_CREDENTIALS_FILE", defaultCredentialsFile()),

		LogFile:  getEnv("MEDCHAT_LOG_FILE", "/tmp/medchat.log"),
		LogLevel: parseLogLevel(getEnv("MEDCHAT_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration parses a Go duration, falling back on missing, invalid or non-positive values.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func defaultCredentialsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "medchat", "credentials.yaml")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
