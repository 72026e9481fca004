// Package sinks implements progress consumers: Prometheus metrics, structured
// logs and the activity store. Each sink satisfies progress.Sink.
package sinks
