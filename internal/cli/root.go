// Package cli provides the command-line interface for medchat.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/medchat/internal/auth"
	"github.com/raphaelgruber/medchat/internal/chat"
	"github.com/raphaelgruber/medchat/internal/client"
	"github.com/raphaelgruber/medchat/internal/config"
	"github.com/raphaelgruber/medchat/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and clients
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	store     *auth.Store
	collector *metrics.Collector
	apiClient *client.Client
)

// errLoginRequired is shown when a command needs credentials that are missing or expired.
var errLoginRequired = errors.New("not logged in, run 'medchat login' first")

// errSessionExpired is shown when the server rejected the stored token.
var errSessionExpired = errors.New("session expired, please log in again with 'medchat login'")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "medchat",
	Short: "Terminal client for the healthcare chat service",
	Long: `Medchat is a terminal client for the healthcare chat service.

Talk to the AI health assistant or hold one-to-one conversations with your
doctors and patients. Run 'medchat chat' for the interactive view.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		// The full-screen chat owns the terminal, so it only logs to the file.
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, cmd.Name() != "chat")
		slog.SetDefault(logger)

		store = auth.NewStore(cfg.CredentialsFile)
		collector = metrics.NewCollector()
		apiClient = client.New(cfg.APIURL, store,
			client.WithTimeout(cfg.ClientTimeout),
			client.WithMetrics(collector),
			client.WithLogger(logger),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if collector != nil {
			logMetrics(logger, collector.Snapshot())
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatCmd)
}

// currentUser returns the stored credentials, clearing them if the token
// has already expired.
func currentUser() (*auth.Credentials, error) {
	if _, err := store.Token(); err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			_ = store.Clear()
			return nil, errSessionExpired
		}
		if errors.Is(err, auth.ErrNotLoggedIn) {
			return nil, errLoginRequired
		}
		return nil, err
	}
	return store.Load()
}

// newSession creates a chat session for the logged-in user.
// An expired session clears the stored credentials.
func newSession(r chat.Renderer) (*chat.Session, error) {
	creds, err := currentUser()
	if err != nil {
		return nil, err
	}
	return chat.NewSession(apiClient, chat.Options{
		SelfID:   creds.UserID,
		Renderer: r,
		Logger:   logger,
		OnExpired: func() {
			if err := store.Clear(); err != nil {
				logger.Error("failed to clear credentials", "error", err)
			}
		},
	}), nil
}

// apiError turns an unauthorized reply into a logout.
func apiError(err error) error {
	if errors.Is(err, client.ErrUnauthorized) || errors.Is(err, chat.ErrSessionExpired) {
		if clearErr := store.Clear(); clearErr != nil {
			logger.Error("failed to clear credentials", "error", clearErr)
		}
		return errSessionExpired
	}
	return err
}

func logMetrics(l *slog.Logger, snap metrics.Snapshot) {
	for _, op := range snap.Operations {
		l.Debug("api usage",
			"op", op.Op,
			"count", op.Count,
			"failures", op.Failures,
			"avg_ms", op.AvgTimeMs,
			"max_ms", op.MaxTimeMs,
		)
	}
}
