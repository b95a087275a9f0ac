package store

import (
	"context"
	"time"
)

// OrderingKeyField is the reserved payload field carrying the per-key FIFO
// ordering key. Other underscore-prefixed fields have no special meaning.
const OrderingKeyField = "_orderingKey"

// Payload is a flat record of string fields, the store's wire format.
type Payload map[string]string

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// OrderingKey returns the ordering key field, or "" when absent.
func (p Payload) OrderingKey() string { return p[OrderingKeyField] }

// Message is a payload plus the store-assigned identifier. Within a stream
// the identifier is unique and monotonically ordered by append.
type Message struct {
	ID     string
	Values Payload
}

// Status is the connection state of a client.
type Status int32

// Connection states. Publish/read/ack operations require StatusReady.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReady
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Client is the typed capability surface over the backing log store. Any
// implementation satisfying it is acceptable to the queue engine, including
// the in-memory backend used by tests.
type Client interface {
	// Connect is idempotent: it returns immediately when Ready, awaits the
	// outcome when Connecting, and otherwise dials and waits for the
	// transport's ready signal. Concurrent calls collapse into one attempt.
	Connect(ctx context.Context) error

	// Disconnect quits politely when Ready and hard-closes otherwise. It
	// never fails on an already-disconnected client.
	Disconnect(ctx context.Context) error

	// Status reports the current connection state.
	Status() Status

	// Append adds the payload to the stream and returns the store-assigned
	// message id. Fails with ErrNotReady when not connected.
	Append(ctx context.Context, stream string, payload Payload) (string, error)

	// CreateGroup ensures the group exists on the stream, creating the
	// stream if needed. The group starts reading at the tail. An "already
	// exists" signal from the store is absorbed as success.
	CreateGroup(ctx context.Context, stream, group string) error

	// ReadGroup performs a blocking group read of up to count messages,
	// waiting up to block for availability. It returns only messages never
	// before delivered to any consumer in the group, and returns an empty
	// slice on timeout.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error)

	// Ack marks the message acknowledged, removing it from the group's
	// pending set.
	Ack(ctx context.Context, stream, group, id string) error

	// Get reads an opaque scalar. Returns ErrNotFound for absent keys.
	Get(ctx context.Context, key string) (string, error)

	// Set writes an opaque scalar.
	Set(ctx context.Context, key, value string) error

	// RawHandle exposes the underlying driver handle, or nil, for
	// operations the capability surface does not cover.
	RawHandle() interface{}
}
