// Package listener runs the decoy listeners.
//
// A Supervisor binds one TCP port per protocol handler, accepts connections
// and serves each one in its own goroutine. Ports that cannot be bound and
// handlers that fail to start are logged and skipped; the remaining
// protocols keep serving.
//
// On shutdown the Supervisor closes its listeners, lets in-flight
// connections finish for a grace period and then closes whatever is left.
package listener
