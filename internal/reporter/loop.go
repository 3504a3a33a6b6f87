package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/tracker"
)

// Default loop settings.
const (
	DefaultInterval     = 300 * time.Second
	DefaultPreviewLimit = 10
	DefaultBatchSize    = 10000
)

// Store is the part of the event store the loop needs.
type Store interface {
	Unreported(ctx context.Context, limit int) ([]*model.Event, error)
	MarkReported(ctx context.Context, ids []int64, findingID int64) (int64, error)
}

// Tracker is the part of the tracker client the loop needs.
type Tracker interface {
	ResolveHost(ctx context.Context, ip, description string) (int64, error)
	CreateFinding(ctx context.Context, f tracker.Finding) (int64, error)
	Forget(ip string)
}

// Loop periodically reports pending events.
//
// Each cycle reads unreported events, groups them by source IP, protocol
// and event type, and files one finding per group with the tracker. Only
// the events of a group whose finding was created are marked reported;
// everything else is picked up again by the next cycle.
//
// Design decision: Events are marked after the finding exists, not
// before. If marking fails the group is filed again later, so a finding
// may be duplicated but an event is never marked without having been
// reported.
type Loop struct {
	store        Store
	tracker      Tracker
	interval     time.Duration
	previewLimit int
	batchSize    int
	logger       *slog.Logger
	metrics      metrics.Recorder
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the time between cycles.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithPreviewLimit caps the distinct values listed per finding.
func WithPreviewLimit(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.previewLimit = n
		}
	}
}

// WithBatchSize caps the events read per cycle.
func WithBatchSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(l *Loop) {
		if m != nil {
			l.metrics = m
		}
	}
}

// New creates a Loop.
func New(store Store, tr Tracker, opts ...Option) *Loop {
	l := &Loop{
		store:        store,
		tracker:      tr,
		interval:     DefaultInterval,
		previewLimit: DefaultPreviewLimit,
		batchSize:    DefaultBatchSize,
		logger:       slog.Default(),
		metrics:      metrics.Nop{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Result summarizes one cycle.
type Result struct {
	Events    int
	Groups    int
	Submitted int
	Failed    int
	Marked    int64
}

// Run executes a cycle every interval until ctx is cancelled.
// Cancellation is observed between cycles only.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("reporting loop started", "interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reporting loop stopped")
			return nil
		case <-ticker.C:
			if _, err := l.Cycle(ctx); err != nil {
				l.logger.Error("reporting cycle failed", "error", err)
			}
		}
	}
}

// Cycle reports all pending events once. The cycle runs to completion even
// if ctx is cancelled meanwhile. The error is non-nil only when pending
// events could not be read; per-group failures are logged and counted.
func (l *Loop) Cycle(ctx context.Context) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	events, err := l.store.Unreported(ctx, l.batchSize)
	if err != nil {
		l.metrics.ReportCycle(0, 0)
		return Result{}, fmt.Errorf("failed to read unreported events: %w", err)
	}

	groups := GroupEvents(events)
	result := Result{Events: len(events), Groups: len(groups)}

	for _, g := range groups {
		marked, err := l.reportGroup(ctx, g)
		if err != nil {
			result.Failed++
			l.logger.Warn("failed to report group",
				"source_ip", g.Key.SourceIP,
				"protocol", g.Key.Protocol,
				"event_type", g.Key.Type,
				"events", len(g.Events),
				"error", err,
			)
			continue
		}
		result.Submitted++
		result.Marked += marked
	}

	l.metrics.ReportCycle(result.Groups, result.Failed)
	if result.Groups > 0 {
		l.logger.Info("reporting cycle completed",
			"events", result.Events,
			"groups", result.Groups,
			"submitted", result.Submitted,
			"failed", result.Failed,
			"duration", time.Since(start),
		)
	} else {
		l.logger.Debug("reporting cycle completed, nothing to report")
	}
	return result, nil
}

// reportGroup submits one finding and marks its events.
func (l *Loop) reportGroup(ctx context.Context, g *Group) (int64, error) {
	ip := g.Key.SourceIP

	hostID, err := l.tracker.ResolveHost(ctx, ip, "Source of honeypot activity")
	if err != nil {
		l.metrics.TrackerError("resolve_host")
		return 0, err
	}

	desc, err := Describe(g, l.previewLimit)
	if err != nil {
		return 0, err
	}

	findingID, err := l.tracker.CreateFinding(ctx, tracker.Finding{
		Name:        FindingName(g.Key),
		Description: desc,
		Severity:    model.GetSeverity(g.Key.Protocol, g.Key.Type),
		HostID:      hostID,
	})
	if err != nil {
		l.metrics.TrackerError("create_finding")
		var apiErr *tracker.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			// The cached host id may be stale.
			l.tracker.Forget(ip)
		}
		return 0, err
	}
	l.metrics.FindingSubmitted(g.Key.Protocol, g.Key.Type)

	marked, err := l.store.MarkReported(ctx, g.IDs(), findingID)
	if err != nil {
		return 0, fmt.Errorf("finding %d created but events not marked: %w", findingID, err)
	}

	l.logger.Debug("finding submitted",
		"finding_id", findingID,
		"source_ip", ip,
		"protocol", g.Key.Protocol,
		"event_type", g.Key.Type,
		"events", marked,
	)
	return marked, nil
}
