package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/lure/internal/metrics"
)

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Submit pending events to the vulnerability tracker",
		Long: `Report groups unreported events by source IP, protocol and event type,
files one finding per group with the configured tracker and marks the
events as reported.

Without --once it keeps running and repeats every tracker.interval_seconds,
which is useful when "lure serve --no-report" runs on a different host
sharing a PostgreSQL store.

Examples:
  # One cycle, then exit
  lure report --once

  # Continuous reporting
  LURE_TRACKER_URL=https://tracker.example.com LURE_TRACKER_TOKEN=secret lure report`,
		Args: cobra.NoArgs,
		RunE: runReportCmd,
	}

	cmd.Flags().Bool("once", false, "Run a single reporting cycle and exit")

	return cmd
}

// runReportCmd executes the report command.
func runReportCmd(cmd *cobra.Command, _ []string) error {
	once, err := cmd.Flags().GetBool("once")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}
	if !cfg.Tracker.Enabled() {
		return errors.New("no tracker configured: set tracker.url or LURE_TRACKER_URL")
	}

	logger, err := setupLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer store.Close()

	loop, err := newReportLoop(cfg, store, metrics.Nop{}, logger)
	if err != nil {
		return err
	}

	if !once {
		return loop.Run(ctx)
	}

	result, err := loop.Cycle(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"events: %d, groups: %d, submitted: %d, failed: %d, marked: %d\n",
		result.Events, result.Groups, result.Submitted, result.Failed, result.Marked)
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d groups could not be reported", result.Failed, result.Groups)
	}
	return nil
}
