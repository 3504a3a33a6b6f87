// Package model defines the core data structures shared by every part of lure.
//
// This package contains the following main types:
//   - Protocol: the emulated service a listener speaks (ssh, http, rdp, ...)
//   - Session: the per-connection correlation context created at accept time
//   - Event: one immutable observation recorded by a protocol handler
//   - Severity: the risk level attached to findings forwarded to the tracker
//
// Models live in their own package so that the protocol handlers, the event
// store and the reporting loop can all share them without import cycles.
// Event is JSON-serializable for the NATS publisher and the events command.
package model
