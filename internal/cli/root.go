// Package cli provides the command-line interface for sortify.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/sortify/internal/backend"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/config"
	"github.com/raphaelgruber/sortify/internal/metrics"
	"github.com/raphaelgruber/sortify/internal/responder"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose     bool
	backendFlag string
	ownerFlag   string

	// Global config and store, set up by PersistentPreRunE
	cfg      config.Config
	logger   *slog.Logger
	store    *backend.Backend
	gateway  chat.Gateway
	stats    = metrics.NewCollector()
	closeLog func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sortify",
	Short: "Recycling assistant chat",
	Long: `Sortify is a recycling assistant you can chat with.

Conversations are saved as chats you can list, reopen and delete. Chats
live in SurrealDB by default; a TOML file, process memory or a shared
sortify-server can be used instead with --backend.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip store connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if backendFlag != "" {
			cfg.Backend = backendFlag
		}
		if ownerFlag != "" {
			cfg.Owner = ownerFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		var console io.Writer
		if verbose {
			console = os.Stderr
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, console)
		slog.SetDefault(logger)

		// stats talks to the server directly and needs no store.
		if cmd.Name() == "stats" {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), chat.DefaultStoreTimeout)
		defer cancel()

		var err error
		store, err = backend.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		gateway = metrics.InstrumentGateway(store.Gateway, stats)
		logger.Debug("store opened", "backend", cfg.Backend, "location", store.Location)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// newResponder builds the configured reply source, falling back to the
// keyword rules for LLM providers. It also returns the welcome text.
func newResponder() (chat.Responder, string, error) {
	keyword, err := responder.LoadKeyword(cfg.RulesFile)
	if err != nil {
		return nil, "", err
	}

	var r chat.Responder = keyword
	if cfg.Responder != config.ResponderKeyword {
		llm, err := responder.NewLLM(cfg, keyword, logger)
		if err != nil {
			return nil, "", fmt.Errorf("init %s responder: %w", cfg.Responder, err)
		}
		r = llm
	}
	return metrics.InstrumentResponder(r, stats), keyword.Welcome(), nil
}

// newEngine wires an engine to the current store and responder.
func newEngine(listener chat.SessionListener, notifier chat.Notifier, onChange func()) (*chat.Engine, error) {
	r, welcome, err := newResponder()
	if err != nil {
		return nil, err
	}
	return chat.NewEngine(gateway, r, chat.Config{
		OwnerID:     cfg.Owner,
		ReplyDelay:  cfg.ReplyDelay,
		TitleMax:    cfg.TitleMax,
		WelcomeText: welcome,
		Sessions:    listener,
		Notifier:    notifier,
		OnChange:    onChange,
	}, logger), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr as well as the log file")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "chat store: surreal, toml, memory or remote")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "owner identity (default $SORTIFY_OWNER or $USER)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
}
