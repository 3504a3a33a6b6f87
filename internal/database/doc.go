// Package database provides the event store for lure.
//
// EventDB persists every Event emitted by the protocol handlers in a single
// events table and serves the reporting loop and the events command.
// Two drivers are supported:
//   - sqlite (modernc.org/sqlite), a single file under the data directory
//   - postgres (github.com/lib/pq), for deployments sharing one store
//
// Queries are written once with '?' placeholders and rebound to the
// '$n' form when the postgres driver is in use.
package database
