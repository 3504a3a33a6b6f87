package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/lure/internal/model"
)

// Default configuration values.
// Ports avoid the privileged range where the real services normally live,
// except RDP and SMB whose scanners rarely try alternatives.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "lure"

	DefaultBindAddress = "0.0.0.0"

	DefaultSSHPort     = 2222
	DefaultHTTPPort    = 8080
	DefaultRDPPort     = 3389
	DefaultSMBPort     = 445
	DefaultFTPPort     = 2121
	DefaultTelnetPort  = 2323
	DefaultMetricsPort = 9200

	// DefaultMaxConnsPerPort caps concurrent connections on each listener.
	// Further peers wait in the kernel backlog until a slot frees up.
	DefaultMaxConnsPerPort = 256

	// DefaultShutdownGraceSeconds is how long in-flight connections may run
	// after a shutdown signal before they are closed.
	DefaultShutdownGraceSeconds = 5

	// DefaultSSHBanner mimics a stock Ubuntu 20.04 server.
	DefaultSSHBanner = "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5"

	DefaultDatabaseDriver = "sqlite"

	// DefaultReportIntervalSeconds is the pause between reporting cycles.
	DefaultReportIntervalSeconds = 300

	// DefaultTrackerWorkspace is the tracker workspace findings are filed in.
	DefaultTrackerWorkspace = "honeypot"

	// DefaultTrackerTimeoutSeconds bounds each tracker HTTP request.
	DefaultTrackerTimeoutSeconds = 15

	// DefaultPreviewLimit caps the usernames and passwords listed in a finding.
	DefaultPreviewLimit = 10

	// DefaultNATSSubject is used when a NATS URL is configured without a subject.
	DefaultNATSSubject = "lure.events"

	// DefaultSinkQueueSize is the capacity of the channel between handlers
	// and the event writer. Events are dropped when it is full.
	DefaultSinkQueueSize = 1024

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Ports holds the listening port of each emulated protocol.
// A zero port disables the protocol.
type Ports struct {
	SSH     int `yaml:"ssh"`
	HTTP    int `yaml:"http"`
	RDP     int `yaml:"rdp"`
	SMB     int `yaml:"smb"`
	FTP     int `yaml:"ftp"`
	Telnet  int `yaml:"telnet"`
	Metrics int `yaml:"metrics"`
}

// For returns the port configured for protocol p, or 0 if unknown.
func (p Ports) For(protocol model.Protocol) int {
	switch protocol {
	case model.ProtocolSSH:
		return p.SSH
	case model.ProtocolHTTP:
		return p.HTTP
	case model.ProtocolRDP:
		return p.RDP
	case model.ProtocolSMB:
		return p.SMB
	case model.ProtocolFTP:
		return p.FTP
	case model.ProtocolTelnet:
		return p.Telnet
	default:
		return 0
	}
}

// SSHConfig configures the SSH decoy.
type SSHConfig struct {
	// HostKeyPath is where the ed25519 host key is read from, or written to
	// on first start.
	HostKeyPath string `yaml:"host_key"`

	// Banner is the server version string sent to clients.
	Banner string `yaml:"banner"`
}

// DatabaseConfig configures the event store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	// DSN is the PostgreSQL connection string. Ignored by SQLite.
	DSN string `yaml:"dsn"`

	// Dir is the directory holding the SQLite database file.
	Dir string `yaml:"dir"`
}

// TrackerConfig configures the reporting loop and its tracker client.
type TrackerConfig struct {
	// URL is the tracker base URL. Empty disables reporting.
	URL string `yaml:"url"`

	// Token is sent as "Authorization: Token <token>".
	Token string `yaml:"token"`

	// Workspace is the tracker workspace findings are filed in.
	Workspace string `yaml:"workspace"`

	// IntervalSeconds is the pause between reporting cycles.
	IntervalSeconds int `yaml:"interval_seconds"`

	// TimeoutSeconds bounds each tracker HTTP request.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// PreviewLimit caps how many distinct usernames and passwords are
	// listed in a finding description.
	PreviewLimit int `yaml:"preview_limit"`
}

// Enabled reports whether a tracker is configured.
func (t TrackerConfig) Enabled() bool {
	return t.URL != ""
}

// Interval returns IntervalSeconds as a duration.
func (t TrackerConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// Timeout returns TimeoutSeconds as a duration.
func (t TrackerConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// NATSConfig configures the optional event publisher.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables publishing.
	URL string `yaml:"url"`

	// Subject is the subject events are published on.
	Subject string `yaml:"subject"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// RedactCredentials masks attacker passwords in log output.
	RedactCredentials bool `yaml:"redact_credentials"`
}

// Config holds all configuration options for lure.
// It is populated from defaults, the configuration file, the environment
// and CLI flags, in that order, and passed down explicitly.
type Config struct {
	// BindAddress is the local address every decoy listener binds to.
	BindAddress string `yaml:"bind_address"`

	Ports Ports `yaml:"ports"`

	// MaxConnsPerPort caps concurrent connections per listener. 0 means no cap.
	MaxConnsPerPort int `yaml:"max_conns_per_port"`

	// ShutdownGraceSeconds is how long in-flight connections may finish
	// after a shutdown signal.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`

	// SinkQueueSize is the capacity of the event queue.
	SinkQueueSize int `yaml:"sink_queue_size"`

	SSH      SSHConfig      `yaml:"ssh"`
	Database DatabaseConfig `yaml:"database"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`

	// ConfigFilePath is the file the configuration was loaded from, if any.
	ConfigFilePath string `yaml:"-"`
}

// NewConfig creates a Config with default values suitable for local testing.
func NewConfig() *Config {
	return &Config{
		BindAddress: DefaultBindAddress,
		Ports: Ports{
			SSH:     DefaultSSHPort,
			HTTP:    DefaultHTTPPort,
			RDP:     DefaultRDPPort,
			SMB:     DefaultSMBPort,
			FTP:     DefaultFTPPort,
			Telnet:  DefaultTelnetPort,
			Metrics: DefaultMetricsPort,
		},
		MaxConnsPerPort:      DefaultMaxConnsPerPort,
		ShutdownGraceSeconds: DefaultShutdownGraceSeconds,
		SinkQueueSize:        DefaultSinkQueueSize,
		SSH: SSHConfig{
			HostKeyPath: filepath.Join(XDGDataDir(), "ssh_host_ed25519_key"),
			Banner:      DefaultSSHBanner,
		},
		Database: DatabaseConfig{
			Driver: DefaultDatabaseDriver,
			Dir:    XDGDataDir(),
		},
		Tracker: TrackerConfig{
			Workspace:       DefaultTrackerWorkspace,
			IntervalSeconds: DefaultReportIntervalSeconds,
			TimeoutSeconds:  DefaultTrackerTimeoutSeconds,
			PreviewLimit:    DefaultPreviewLimit,
		},
		NATS: NATSConfig{
			Subject: DefaultNATSSubject,
		},
		Log: LogConfig{
			Level:             DefaultLogLevel,
			Format:            DefaultLogFormat,
			RedactCredentials: true,
		},
	}
}

// ShutdownGrace returns ShutdownGraceSeconds as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// XDGDataDir returns the XDG data directory for lure
// (~/.local/share/lure on Linux).
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for lure
// (~/.config/lure on Linux).
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	enabled := 0
	seen := make(map[int]bool)

	for _, p := range []int{
		c.Ports.SSH, c.Ports.HTTP, c.Ports.RDP, c.Ports.SMB,
		c.Ports.FTP, c.Ports.Telnet, c.Ports.Metrics,
	} {
		if p < 0 || p > 65535 {
			return ErrInvalidPort
		}
		if p == 0 {
			continue
		}
		if seen[p] {
			return ErrDuplicatePort
		}
		seen[p] = true
	}

	for _, proto := range model.Protocols {
		if c.Ports.For(proto) != 0 {
			enabled++
		}
	}
	if enabled == 0 {
		return ErrNoProtocol
	}

	if c.MaxConnsPerPort < 0 {
		return ErrInvalidMaxConns
	}
	if c.ShutdownGraceSeconds < 0 {
		return ErrInvalidShutdownGrace
	}
	if c.SinkQueueSize <= 0 {
		return ErrInvalidQueueSize
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Dir == "" {
			return ErrMissingDatabase
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return ErrMissingDatabase
		}
	default:
		return ErrUnknownDriver
	}

	if c.Tracker.Enabled() {
		if c.Tracker.IntervalSeconds <= 0 {
			return ErrInvalidInterval
		}
		if c.Tracker.TimeoutSeconds <= 0 {
			return ErrInvalidTimeout
		}
		if c.Tracker.Workspace == "" {
			return ErrMissingWorkspace
		}
	}
	if c.Tracker.PreviewLimit < 0 {
		return ErrInvalidPreviewLimit
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return ErrMissingSubject
	}

	return nil
}
