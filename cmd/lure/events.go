package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/lure/internal/database"
	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/report"
)

// defaultEventLimit is the number of events listed without --limit.
const defaultEventLimit = 50

// NewEventsCmd creates the events command.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List captured events",
		Long: `Events reads the event store and prints captured events, newest first.

With --summary, events are aggregated per source IP, protocol and event
type, the same grouping the reporting loop files as findings.

Examples:
  # Show the 50 most recent events
  lure events

  # Show pending SSH login attempts
  lure events --unreported --protocol ssh

  # Aggregated view as Markdown
  lure events --summary --markdown > summary.md

  # Everything as JSON
  lure events --limit 0 --json`,
		Args: cobra.NoArgs,
		RunE: runEventsCmd,
	}

	cmd.Flags().BoolP("unreported", "u", false,
		"Only events not yet submitted to the tracker")
	cmd.Flags().IntP("limit", "n", defaultEventLimit,
		"Maximum number of events, 0 for all")
	cmd.Flags().StringP("protocol", "p", "",
		"Only events of this protocol (ssh, http, rdp, smb, ftp, telnet)")
	cmd.Flags().BoolP("summary", "s", false,
		"Print aggregated groups instead of individual events")
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output in Markdown format")

	return cmd
}

// eventsOptions holds parsed events flags.
type eventsOptions struct {
	unreported bool
	limit      int
	protocol   model.Protocol
	summary    bool
	json       bool
	markdown   bool
}

func parseEventsFlags(cmd *cobra.Command) (*eventsOptions, error) {
	opts := &eventsOptions{}
	var err error

	if opts.unreported, err = cmd.Flags().GetBool("unreported"); err != nil {
		return nil, err
	}
	if opts.limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return nil, err
	}
	if opts.limit < 0 {
		return nil, fmt.Errorf("--limit must not be negative: %d", opts.limit)
	}
	name, err := cmd.Flags().GetString("protocol")
	if err != nil {
		return nil, err
	}
	if name != "" {
		if opts.protocol, err = model.ParseProtocol(name); err != nil {
			return nil, err
		}
	}
	if opts.summary, err = cmd.Flags().GetBool("summary"); err != nil {
		return nil, err
	}
	if opts.json, err = cmd.Flags().GetBool("json"); err != nil {
		return nil, err
	}
	if opts.markdown, err = cmd.Flags().GetBool("markdown"); err != nil {
		return nil, err
	}
	if opts.json && opts.markdown {
		return nil, fmt.Errorf("--json and --markdown cannot be combined")
	}
	if opts.summary && opts.protocol != "" {
		return nil, fmt.Errorf("--protocol cannot be combined with --summary")
	}
	return opts, nil
}

// runEventsCmd executes the events command.
func runEventsCmd(cmd *cobra.Command, _ []string) error {
	opts, err := parseEventsFlags(cmd)
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

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer store.Close()

	writer := newEventsWriter(cmd, opts)

	if opts.summary {
		groups, err := store.Summaries(ctx, opts.unreported)
		if err != nil {
			return err
		}
		_, err = writer.WriteSummary(report.NewSummary(groups, opts.unreported, time.Now()))
		return err
	}

	events, err := store.List(ctx, database.ListOptions{
		UnreportedOnly: opts.unreported,
		Protocol:       opts.protocol,
		Limit:          opts.limit,
	})
	if err != nil {
		return err
	}
	_, err = writer.WriteEvents(events)
	return err
}

// newEventsWriter selects the output format.
func newEventsWriter(cmd *cobra.Command, opts *eventsOptions) report.Writer {
	out := cmd.OutOrStdout()
	switch {
	case opts.json:
		return report.NewJSONWriter(out, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case opts.markdown:
		return report.NewMarkdownWriter(out)
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(getVerboseFlag(cmd)))
	}
}
