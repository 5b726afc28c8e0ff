package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/fedstream/internal/flow"
	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/metrics"
)

// Option configures a Streamer.
type Option func(*options)

type options struct {
	name         string
	capacity     int
	executor     *flow.Executor
	logger       *zap.Logger
	metrics      *metrics.Collector
	closeTimeout time.Duration
}

func defaultOptions() *options {
	return &options{
		name:     "fedstream",
		capacity: config.DefaultBufferCapacity,
	}
}

// WithName sets the streamer name used in logs.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithCapacity sets the backpressure channel capacity. Values below 1 select
// the default of 100.
func WithCapacity(capacity int) Option {
	return func(o *options) {
		o.capacity = capacity
	}
}

// WithExecutor runs fetches on exec. Without it each streamer creates its
// own executor sized to the number of CPUs.
func WithExecutor(exec *flow.Executor) Option {
	return func(o *options) {
		o.executor = exec
	}
}

// WithLogger sets the logger. The default is logger.Get().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records streamer metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithCloseTimeout bounds how long Close waits for in-flight fetches. Zero
// waits indefinitely.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}
