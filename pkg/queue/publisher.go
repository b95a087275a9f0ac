package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/fazpi-ai/fazpi-qbull/pkg/log"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// Publisher validates and tags outgoing work items, delegating the append to
// the shared store.
type Publisher struct {
	store  *store.SharedStore
	logger log.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the publisher's logger.
func WithPublisherLogger(l log.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher constructs a Publisher over the shared store.
func NewPublisher(s *store.SharedStore, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: s}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	p.logger = p.logger.WithComponent("publisher")
	return p
}

type publishConfig struct {
	orderingKey string
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishConfig)

// WithOrderingKey tags the published item so consumers with ordering enabled
// serialize it with other items sharing the key. Leading and trailing
// whitespace is trimmed; a blank key leaves the item untagged.
func WithOrderingKey(key string) PublishOption {
	return func(c *publishConfig) { c.orderingKey = key }
}

// Publish appends the payload to the stream and returns the store-assigned
// message id. The caller's payload is never mutated.
func (p *Publisher) Publish(ctx context.Context, stream string, payload store.Payload, opts ...PublishOption) (string, error) {
	if strings.TrimSpace(stream) == "" {
		return "", fmt.Errorf("%w: stream name must be a non-empty string", store.ErrInvalidArgument)
	}
	if payload == nil {
		return "", fmt.Errorf("%w: payload must be a non-nil record", store.ErrInvalidArgument)
	}

	var cfg publishConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	out := payload
	if key := strings.TrimSpace(cfg.orderingKey); key != "" {
		out = payload.Clone()
		out[store.OrderingKeyField] = key
	}

	id, err := p.store.Append(ctx, strings.TrimSpace(stream), out)
	if err != nil {
		return "", err
	}
	p.logger.Debug("published", log.Str("stream", stream), log.Str("id", id))
	return id, nil
}
