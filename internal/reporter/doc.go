// Package reporter forwards captured activity to the vulnerability tracker.
//
// On every tick the Loop reads the events not yet reported, groups them by
// (source IP, protocol, event type) and turns each group into one finding.
// A group is marked reported only after the tracker accepted its finding;
// a failed group stays pending and is retried on the next cycle.
package reporter
