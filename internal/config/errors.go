package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrInvalidPort is returned when a port is outside 0-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 0 and 65535")

	// ErrDuplicatePort is returned when two listeners share a port.
	ErrDuplicatePort = errors.New("duplicate port: every listener needs its own port")

	// ErrNoProtocol is returned when every protocol port is 0.
	ErrNoProtocol = errors.New("no protocol enabled: set at least one protocol port")

	// ErrInvalidMaxConns is returned when the per-port connection cap is negative.
	ErrInvalidMaxConns = errors.New("invalid max_conns_per_port: must be non-negative")

	// ErrInvalidShutdownGrace is returned when the shutdown grace period is negative.
	ErrInvalidShutdownGrace = errors.New("invalid shutdown_grace_seconds: must be non-negative")

	// ErrInvalidQueueSize is returned when the event queue has no capacity.
	ErrInvalidQueueSize = errors.New("invalid sink_queue_size: must be positive")

	// ErrUnknownDriver is returned for database drivers other than sqlite and postgres.
	ErrUnknownDriver = errors.New("unknown database driver: use sqlite or postgres")

	// ErrMissingDatabase is returned when no database location is configured.
	ErrMissingDatabase = errors.New("missing database location: set database.dsn (postgres) or database.dir (sqlite)")

	// ErrInvalidInterval is returned when reporting is enabled with a non-positive interval.
	ErrInvalidInterval = errors.New("invalid tracker.interval_seconds: must be positive")

	// ErrInvalidTimeout is returned when reporting is enabled with a non-positive timeout.
	ErrInvalidTimeout = errors.New("invalid tracker.timeout_seconds: must be positive")

	// ErrMissingWorkspace is returned when reporting is enabled without a workspace.
	ErrMissingWorkspace = errors.New("missing tracker.workspace")

	// ErrInvalidPreviewLimit is returned when the preview limit is negative.
	ErrInvalidPreviewLimit = errors.New("invalid tracker.preview_limit: must be non-negative")

	// ErrMissingSubject is returned when NATS is enabled without a subject.
	ErrMissingSubject = errors.New("missing nats.subject")
)
