package queue

import (
	"time"

	"github.com/fazpi-ai/fazpi-qbull/pkg/log"
)

type options struct {
	concurrency  int
	ordered      bool
	group        string
	consumerName string
	blockTime    time.Duration
	drainTimeout time.Duration
	filterExpr   string
	logger       log.Logger
}

func defaultOptions() options {
	return options{
		concurrency:  1,
		blockTime:    5 * time.Second,
		drainTimeout: 30 * time.Second,
	}
}

// Option configures a Consumer.
type Option func(*options)

// WithConcurrency bounds concurrent handler invocations. Values below 1 are
// coerced to 1 with a warning.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithOrderingByKey enables the per-key serializer: messages carrying the
// reserved ordering-key field are processed in append order per key.
func WithOrderingByKey() Option {
	return func(o *options) { o.ordered = true }
}

// WithGroup overrides the consumer-group name (default group:<stream>).
func WithGroup(name string) Option {
	return func(o *options) { o.group = name }
}

// WithConsumerName overrides the consumer identity (default
// consumer:<stream>-<pid>-<nowMs>). Must be unique within the group.
func WithConsumerName(name string) Option {
	return func(o *options) { o.consumerName = name }
}

// WithBlockTime bounds each blocking group read (default 5s).
func WithBlockTime(d time.Duration) Option {
	return func(o *options) { o.blockTime = d }
}

// WithGracefulShutdownTimeout bounds the in-flight drain on Stop (default
// 30s).
func WithGracefulShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.drainTimeout = d }
}

// WithFilter gates dispatch with a CEL expression over id, values, key and
// now_ms. Excluded messages are acknowledged and skipped. A non-compiling
// expression fails construction.
func WithFilter(expr string) Option {
	return func(o *options) { o.filterExpr = expr }
}

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}
