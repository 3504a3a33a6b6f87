package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/lure/internal/config"
	"github.com/nao1215/lure/internal/database"
	"github.com/nao1215/lure/internal/listener"
	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/protocol"
	"github.com/nao1215/lure/internal/reporter"
	"github.com/nao1215/lure/internal/sink"
	"github.com/nao1215/lure/internal/tracker"
)

// sinkDrainTimeout bounds how long queued events may take to be written
// at shutdown.
const sinkDrainTimeout = 10 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the honeypot listeners",
		Long: `Serve binds one port per enabled protocol and records every connection.

Set a protocol's port to 0 to disable it. When a tracker URL is configured
the reporting loop runs in the same process; use --no-report to leave it
to a separate "lure report" process.

Examples:
  # Run with defaults (SQLite under the XDG data directory)
  lure serve

  # Listen on one interface only and keep metrics off
  lure serve --bind 192.0.2.10 --metrics-port 0

  # Use PostgreSQL and publish events to NATS
  LURE_DB_DRIVER=postgres LURE_DB_DSN=postgres://lure@db/lure \
  LURE_NATS_URL=nats://nats:4222 lure serve`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("bind", "b", "", "Local address for every listener (overrides bind_address)")
	cmd.Flags().IntP("metrics-port", "m", 0, "Metrics port, 0 disables (overrides ports.metrics)")
	cmd.Flags().Bool("no-report", false, "Do not run the reporting loop")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}

	noReport, err := cmd.Flags().GetBool("no-report")
	if err != nil {
		return err
	}

	logger, err := setupLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	return runServe(ctx, cfg, !noReport, logger)
}

// applyServeFlags overlays explicitly set flags onto cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("bind") {
		bind, err := cmd.Flags().GetString("bind")
		if err != nil {
			return err
		}
		cfg.BindAddress = bind
	}
	if cmd.Flags().Changed("metrics-port") {
		port, err := cmd.Flags().GetInt("metrics-port")
		if err != nil {
			return err
		}
		cfg.Ports.Metrics = port
	}
	return nil
}

// runServe wires the event pipeline, listeners, metrics endpoint and
// reporting loop, and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, withReporter bool, logger *slog.Logger) error {
	prom := metrics.NewPrometheus()

	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close event store", "error", err)
		}
	}()
	logger.Info("event store opened", "driver", store.Driver())

	sinks := []sink.Named{{Name: "database", Sink: store}}
	if cfg.NATS.URL != "" {
		pub, err := sink.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			// Events are still stored; publishing is best effort.
			logger.Error("NATS publishing disabled", "error", err)
		} else {
			defer func() {
				if err := pub.Close(); err != nil {
					logger.Warn("failed to close NATS connection", "error", err)
				}
			}()
			sinks = append(sinks, sink.Named{Name: "nats", Sink: pub})
		}
	}

	writer := sink.NewAsyncWriter(
		sink.NewFanout(logger, prom, sinks...),
		sink.WithQueueSize(cfg.SinkQueueSize),
		sink.WithLogger(logger),
		sink.WithMetrics(prom),
	)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), sinkDrainTimeout)
		defer cancel()
		if err := writer.Close(drainCtx); err != nil {
			logger.Warn("events lost at shutdown", "queued", writer.Len(), "error", err)
		}
	}()

	emit := protocol.NewEmitter(writer, prom, logger)
	supervisor := listener.New(buildBindings(cfg, emit),
		listener.WithBindAddress(cfg.BindAddress),
		listener.WithMaxConns(cfg.MaxConnsPerPort),
		listener.WithGracePeriod(cfg.ShutdownGrace()),
		listener.WithLogger(logger),
		listener.WithMetrics(prom),
	)

	var loop *reporter.Loop
	switch {
	case withReporter && cfg.Tracker.Enabled():
		if loop, err = newReportLoop(cfg, store, prom, logger); err != nil {
			return err
		}
	case withReporter:
		logger.Info("no tracker configured, reporting disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	if cfg.Ports.Metrics != 0 {
		g.Go(func() error {
			if err := prom.Serve(gctx, cfg.BindAddress, cfg.Ports.Metrics, logger); err != nil {
				logger.Error("metrics endpoint stopped", "error", err)
			}
			return nil
		})
	}

	if loop != nil {
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, listener.ErrNoListeners) {
		return fmt.Errorf("nothing to serve: %w", err)
	}
	return err
}

// buildBindings creates one handler per protocol with its configured port.
func buildBindings(cfg *config.Config, emit *protocol.Emitter) []listener.Binding {
	return []listener.Binding{
		{
			Port: cfg.Ports.SSH,
			Handler: protocol.NewSSHHandler(emit,
				protocol.WithSSHBanner(cfg.SSH.Banner),
				protocol.WithSSHHostKeyPath(cfg.SSH.HostKeyPath),
			),
		},
		{Port: cfg.Ports.HTTP, Handler: protocol.NewHTTPHandler(emit)},
		{Port: cfg.Ports.RDP, Handler: protocol.NewRDPHandler(emit)},
		{Port: cfg.Ports.SMB, Handler: protocol.NewSMBHandler(emit)},
		{Port: cfg.Ports.FTP, Handler: protocol.NewFTPHandler(emit)},
		{Port: cfg.Ports.Telnet, Handler: protocol.NewTelnetHandler(emit)},
	}
}

// newReportLoop creates the tracker client and the reporting loop.
func newReportLoop(cfg *config.Config, store *database.EventDB, m metrics.Recorder, logger *slog.Logger) (*reporter.Loop, error) {
	client, err := tracker.New(cfg.Tracker.URL, cfg.Tracker.Token, cfg.Tracker.Workspace,
		tracker.WithTimeout(cfg.Tracker.Timeout()),
		tracker.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	opts := []reporter.Option{
		reporter.WithInterval(cfg.Tracker.Interval()),
		reporter.WithLogger(logger),
		reporter.WithMetrics(m),
	}
	if cfg.Tracker.PreviewLimit > 0 {
		opts = append(opts, reporter.WithPreviewLimit(cfg.Tracker.PreviewLimit))
	}
	return reporter.New(store, client, opts...), nil
}
