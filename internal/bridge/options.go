package bridge

import (
	"time"

	"go.uber.org/zap"
)

// Option customizes a Task.
type Option func(*options)

type options struct {
	name       string
	logger     *zap.Logger
	supervisor *Supervisor
	timeout    time.Duration
}

// WithName labels the task in logs and metrics. Keep names low-cardinality,
// e.g. "web.children".
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger used for task lifecycle messages.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSupervisor registers the task with s until Finish returns.
func WithSupervisor(s *Supervisor) Option {
	return func(o *options) {
		o.supervisor = s
	}
}

// WithTimeout bounds the task context. Expiry is reported as a RemoteIO timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func buildOptions(opts []Option) options {
	o := options{name: "bridge"}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
