// Package progress provides the activity events, non-blocking hub and emitter
// interface that workers use to report per-document activity. The hub batches
// events on a background goroutine and fans them out to sinks such as
// Prometheus metrics, logs or the activity store.
package progress
