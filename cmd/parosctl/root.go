package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	paros "github.com/parosapp/paros-go"
	"github.com/parosapp/paros-go/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	sessionFile string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "parosctl",
	Short: "Drive a paros backend from the command line",
	Long: `parosctl exercises a paros backend the way the mobile app does: phone + OTP
login, collection queries, and the realtime channel.

The backend is selected through the environment (PAROS_BACKEND=api|document
plus the kind's parameters); a .env file in the working directory is honored.
The session survives between runs in a local file, which is the persistence
contract the SDK leaves to the embedding application.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session", defaultSessionFile(), "path of the persisted session")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log SDK activity to stderr")
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".paros-session.json"
	}
	return filepath.Join(home, ".paros", "session.json")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadConfig() (paros.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return paros.Config{}, err
	}
	if verbose {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		cfg.Logger = &logger
	}
	return cfg, nil
}

// openBackend builds the configured backend, restores the persisted session
// into it, and returns a cleanup that writes the possibly rotated session
// back. Commands defer the cleanup so a refresh performed mid-command is not
// lost.
func openBackend(ctx context.Context) (paros.Backend, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	b, err := paros.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if sess, ok := loadSession(); ok {
		b.Auth().SetSession(sess)
	}
	b.Auth().OnSessionExpired(func() {
		_ = removeSession()
		fmt.Fprintln(os.Stderr, "session expired, log in again with parosctl login")
	})
	cleanup := func() {
		if sess, ok := b.Auth().Session(); ok {
			_ = saveSession(sess)
		}
		_ = b.Close(context.Background())
	}
	return b, cleanup, nil
}
