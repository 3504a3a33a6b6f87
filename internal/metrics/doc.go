// Package metrics defines the counters and histograms lure updates and
// exposes them in the Prometheus text format.
//
// Handlers, the event writer and the reporting loop depend on the Recorder
// interface only. Prometheus is the production implementation; Nop is used
// where metrics are irrelevant, such as one-shot CLI commands and tests.
package metrics
