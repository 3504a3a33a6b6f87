package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/lure/internal/model"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// FileName is the SQLite database file created inside the data directory.
const FileName = "lure.db"

// markBatchSize bounds the number of ids in one UPDATE ... IN (...) statement.
const markBatchSize = 500

// ErrUnknownDriver is returned by Open for unsupported drivers.
var ErrUnknownDriver = errors.New("unknown database driver")

// EventDB stores honeypot events.
// It keeps one table of events; each row also records whether it was
// submitted to the tracker and under which finding id.
//
// Design decision: The same queries run on SQLite and PostgreSQL. Queries
// are written with ? placeholders and rebound to $n for PostgreSQL, and
// timestamps are passed in a driver-specific form by timeArg. SQLite is the
// zero-configuration default; PostgreSQL lets several honeypots and a
// separate "lure report" process share one store.
//
// Design decision: Reported events are marked, never deleted, so the
// events command can still show the full history.
type EventDB struct {
	db     *sql.DB
	driver string

	// location is the database file path (sqlite) or the DSN (postgres).
	location string
}

// Options configures EventDB behavior.
type Options struct {
	// CreateIfNotExists creates the SQLite directory and file if missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging on SQLite.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates an EventDB.
// For sqlite, location is the directory holding lure.db.
// For postgres, location is the connection string.
func Open(ctx context.Context, driver, location string, opts Options) (*EventDB, error) {
	switch driver {
	case DriverSQLite:
		return openSQLite(ctx, location, opts)
	case DriverPostgres:
		return openPostgres(ctx, location)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func openSQLite(ctx context.Context, dbDir string, opts Options) (*EventDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	mode := "rwc"
	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
		mode = "rw"
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode="+mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	edb := &EventDB{db: db, driver: DriverSQLite, location: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := edb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return edb, nil
}

func openPostgres(ctx context.Context, dsn string) (*EventDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	edb := &EventDB{db: db, driver: DriverPostgres, location: dsn}
	if err := edb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return edb, nil
}

// Close closes the database connection.
func (edb *EventDB) Close() error {
	return edb.db.Close()
}

// Driver returns the driver name.
func (edb *EventDB) Driver() string {
	return edb.driver
}

// Path returns the SQLite file path. It is empty for postgres.
func (edb *EventDB) Path() string {
	if edb.driver != DriverSQLite {
		return ""
	}
	return edb.location
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	source_port INTEGER NOT NULL DEFAULT 0,
	dest_port INTEGER NOT NULL DEFAULT 0,
	protocol TEXT NOT NULL,
	event_type TEXT NOT NULL,
	username TEXT,
	password TEXT,
	payload TEXT,
	user_agent TEXT,
	session_id TEXT,
	reported_to_tracker BOOLEAN NOT NULL DEFAULT FALSE,
	tracker_finding_id INTEGER,
	raw_data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_events_unreported ON events(reported_to_tracker);
CREATE INDEX IF NOT EXISTS idx_events_group ON events(source_ip, protocol, event_type);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	source_ip TEXT NOT NULL,
	source_port INTEGER NOT NULL DEFAULT 0,
	dest_port INTEGER NOT NULL DEFAULT 0,
	protocol TEXT NOT NULL,
	event_type TEXT NOT NULL,
	username TEXT,
	password TEXT,
	payload TEXT,
	user_agent TEXT,
	session_id TEXT,
	reported_to_tracker BOOLEAN NOT NULL DEFAULT FALSE,
	tracker_finding_id BIGINT,
	raw_data JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_events_unreported ON events(reported_to_tracker);
CREATE INDEX IF NOT EXISTS idx_events_group ON events(source_ip, protocol, event_type);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`

// createTables creates the database schema if it doesn't exist.
func (edb *EventDB) createTables(ctx context.Context) error {
	schema := sqliteSchema
	if edb.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := edb.db.ExecContext(ctx, schema)
	return err
}

// sqliteTimeFormat is fixed-width so that text ordering matches time ordering.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// timeArg converts a timestamp to the driver's bind value.
func (edb *EventDB) timeArg(t time.Time) any {
	if edb.driver == DriverPostgres {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeFormat)
}

// rebind rewrites '?' placeholders as '$1', '$2', ... for postgres.
func (edb *EventDB) rebind(query string) string {
	if edb.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// InsertEvent stores an event and returns its id.
func (edb *EventDB) InsertEvent(ctx context.Context, e *model.Event) (int64, error) {
	raw, err := e.RawJSON()
	if err != nil {
		return 0, fmt.Errorf("failed to serialize raw data: %w", err)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := edb.rebind(`
	INSERT INTO events (timestamp, source_ip, source_port, dest_port, protocol, event_type,
		username, password, payload, user_agent, session_id, raw_data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id
	`)

	var id int64
	err = edb.db.QueryRowContext(ctx, query,
		edb.timeArg(ts),
		e.SourceIP,
		e.SourcePort,
		e.DestPort,
		e.Protocol.String(),
		e.Type.String(),
		nullString(e.Username),
		nullString(e.Password),
		nullString(e.Payload),
		nullString(e.UserAgent),
		nullString(e.SessionID),
		string(raw),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// Write stores an event and records the assigned id on it.
func (edb *EventDB) Write(ctx context.Context, e *model.Event) error {
	id, err := edb.InsertEvent(ctx, e)
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

const selectEvents = `
SELECT id, timestamp, source_ip, source_port, dest_port, protocol, event_type,
	username, password, payload, user_agent, session_id,
	reported_to_tracker, tracker_finding_id, raw_data
FROM events
`

// Unreported returns events not yet submitted to the tracker, oldest first.
// A limit of zero or less returns all of them.
func (edb *EventDB) Unreported(ctx context.Context, limit int) ([]*model.Event, error) {
	query := selectEvents + ` WHERE reported_to_tracker = FALSE ORDER BY id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return edb.queryEvents(ctx, edb.rebind(query), args...)
}

// ListOptions filters List.
type ListOptions struct {
	// UnreportedOnly excludes events already submitted to the tracker.
	UnreportedOnly bool

	// Protocol restricts the result to one protocol when set.
	Protocol model.Protocol

	// Limit caps the number of events. Zero means no limit.
	Limit int
}

// List returns stored events, newest first.
func (edb *EventDB) List(ctx context.Context, opts ListOptions) ([]*model.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.UnreportedOnly {
		where = append(where, "reported_to_tracker = FALSE")
	}
	if opts.Protocol != "" {
		where = append(where, "protocol = ?")
		args = append(args, opts.Protocol.String())
	}

	query := selectEvents
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	return edb.queryEvents(ctx, edb.rebind(query), args...)
}

// BySession returns the events of one connection in emission order.
func (edb *EventDB) BySession(ctx context.Context, sessionID string) ([]*model.Event, error) {
	query := edb.rebind(selectEvents + ` WHERE session_id = ? ORDER BY id ASC`)
	return edb.queryEvents(ctx, query, sessionID)
}

func (edb *EventDB) queryEvents(ctx context.Context, query string, args ...any) ([]*model.Event, error) {
	rows, err := edb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (*model.Event, error) {
	var (
		e         model.Event
		timestamp string
		protocol  string
		eventType string
		username  sql.NullString
		password  sql.NullString
		payload   sql.NullString
		userAgent sql.NullString
		sessionID sql.NullString
		findingID sql.NullInt64
		raw       []byte
	)
	err := rows.Scan(
		&e.ID, &timestamp, &e.SourceIP, &e.SourcePort, &e.DestPort, &protocol, &eventType,
		&username, &password, &payload, &userAgent, &sessionID,
		&e.Reported, &findingID, &raw,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	e.Timestamp = parseTimestamp(timestamp)
	e.Protocol = model.Protocol(protocol)
	e.Type = model.EventType(eventType)
	e.Username = username.String
	e.Password = password.String
	e.Payload = payload.String
	e.UserAgent = userAgent.String
	e.SessionID = sessionID.String
	if findingID.Valid {
		id := findingID.Int64
		e.TrackerFindingID = &id
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.RawData); err != nil {
			return nil, fmt.Errorf("failed to decode raw data of event %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

// MarkReported flags the given events as submitted with the tracker's
// finding id. Events already reported are left untouched, so calling it
// twice for the same ids is harmless. It returns the number of rows updated.
func (edb *EventDB) MarkReported(ctx context.Context, ids []int64, findingID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := edb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(ids); start += markBatchSize {
		end := min(start+markBatchSize, len(ids))
		batch := ids[start:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, findingID)
		for _, id := range batch {
			args = append(args, id)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ")
		query := edb.rebind(`UPDATE events SET reported_to_tracker = TRUE, tracker_finding_id = ?
			WHERE reported_to_tracker = FALSE AND id IN (` + placeholders + `)`)

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to mark events reported: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count updated events: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return total, nil
}

// Count returns the number of stored events.
func (edb *EventDB) Count(ctx context.Context, unreportedOnly bool) (int64, error) {
	query := `SELECT COUNT(*) FROM events`
	if unreportedOnly {
		query += ` WHERE reported_to_tracker = FALSE`
	}
	var n int64
	if err := edb.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// GroupSummary aggregates the events of one (source IP, protocol, type) group.
type GroupSummary struct {
	Key       model.GroupKey
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// Summaries aggregates stored events per group, largest group first.
func (edb *EventDB) Summaries(ctx context.Context, unreportedOnly bool) ([]GroupSummary, error) {
	query := `SELECT source_ip, protocol, event_type, COUNT(*), MIN(timestamp), MAX(timestamp) FROM events`
	if unreportedOnly {
		query += ` WHERE reported_to_tracker = FALSE`
	}
	query += ` GROUP BY source_ip, protocol, event_type ORDER BY COUNT(*) DESC, source_ip, protocol, event_type`

	rows, err := edb.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize events: %w", err)
	}
	defer rows.Close()

	var summaries []GroupSummary
	for rows.Next() {
		var (
			s                   GroupSummary
			protocol, eventType string
			first, last         string
		)
		if err := rows.Scan(&s.Key.SourceIP, &protocol, &eventType, &s.Count, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		s.Key.Protocol = model.Protocol(protocol)
		s.Key.Type = model.EventType(eventType)
		s.FirstSeen = parseTimestamp(first)
		s.LastSeen = parseTimestamp(last)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return summaries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timestampFormats contains the timestamp formats the drivers may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	sqliteTimeFormat,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp parses a stored timestamp, returning zero time if no
// format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
