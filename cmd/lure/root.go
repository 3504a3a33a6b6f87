package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/lure/internal/config"
	"github.com/nao1215/lure/internal/database"
	"github.com/nao1215/lure/internal/log"
)

// NewRootCmd creates the root command for lure.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lure",
		Short: "Multi-protocol honeypot",
		Long: `lure listens on SSH, HTTP, RDP, SMB, FTP and Telnet ports, pretends to be
a real service and records everything connecting clients send: login
attempts, commands, probes and protocol handshakes.

Events are stored in SQLite (default) or PostgreSQL, optionally published
to NATS, and periodically filed as findings with a vulnerability tracker.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .lure.yaml in current, XDG config or home directory)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewEventsCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getConfigFlag retrieves the config flag from the command or its parent.
func getConfigFlag(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path, err = cmd.Root().PersistentFlags().GetString("config")
		if err != nil {
			return ""
		}
	}
	return path
}

// loadConfig builds the configuration from defaults, the configuration
// file and the environment, then validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(getConfigFlag(cmd), os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if getVerboseFlag(cmd) {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// validate reports configuration problems in the CLI's wording.
func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

// setupLogger creates the process logger and installs it as the default.
func setupLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	logger, err := log.New(w, log.Options{
		Level:             cfg.Log.Level,
		Format:            cfg.Log.Format,
		RedactCredentials: cfg.Log.RedactCredentials,
	})
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	slog.SetDefault(logger)
	return logger, nil
}

// openStore opens the configured event store.
func openStore(ctx context.Context, cfg *config.Config, create bool) (*database.EventDB, error) {
	location := cfg.Database.Dir
	if cfg.Database.Driver == config.DriverPostgres {
		location = cfg.Database.DSN
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = create

	store, err := database.Open(ctx, cfg.Database.Driver, location, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return store, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
