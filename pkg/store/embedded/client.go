// Package embedded implements the store capability surface over a local
// Pebble database: streams are append-only keyspaces with per-group cursors
// and a pending-entries list, so a single process gets durable queues without
// a server. Blocking reads are woken by in-process append notifications.
package embedded

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	pebblestore "github.com/fazpi-ai/fazpi-qbull/internal/storage/pebble"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// Options configures the embedded backend.
type Options struct {
	// DataDir is the Pebble database directory.
	DataDir string
	// SyncWrites forces a WAL fsync per committed batch.
	SyncWrites bool
}

// Client is a Pebble-backed store client. Group state is consistent across
// restarts; append notifications only reach readers in the same process.
type Client struct {
	opts Options

	mu      sync.Mutex
	status  store.Status
	db      *pebblestore.DB
	lastSeq map[string]uint64
	notify  map[string]chan struct{}
}

// NewClient constructs a disconnected client.
func NewClient(opts Options) *Client {
	return &Client{
		opts:    opts,
		lastSeq: make(map[string]uint64),
		notify:  make(map[string]chan struct{}),
	}
}

// Dial adapts the backend to store.Dialer, mapping the configured DB index to
// a subdirectory the way server backends map it to a logical namespace.
func Dial(dataDir string) store.Dialer {
	return func(cfg store.Config) store.Client {
		return NewClient(Options{DataDir: fmt.Sprintf("%s/%d", dataDir, cfg.DB)})
	}
}

// Connect opens the database. Per-stream sequence counters are read back from
// stream metadata lazily, on first use of each stream.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == store.StatusReady {
		return nil
	}
	c.status = store.StatusConnecting
	db, err := pebblestore.Open(pebblestore.Options{DataDir: c.opts.DataDir, SyncWrites: c.opts.SyncWrites})
	if err != nil {
		c.status = store.StatusDisconnected
		return fmt.Errorf("%w: open %s: %v", store.ErrConnect, c.opts.DataDir, err)
	}
	c.db = db
	c.status = store.StatusReady
	return nil
}

// Disconnect closes the database. Never fails on a disconnected client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		c.status = store.StatusDisconnected
		return nil
	}
	c.status = store.StatusClosing
	err := c.db.Close()
	c.db = nil
	c.status = store.StatusDisconnected
	return err
}

// Status reports the connection state.
func (c *Client) Status() store.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) lastSeqLocked(stream string) uint64 {
	if seq, ok := c.lastSeq[stream]; ok {
		return seq
	}
	seq := uint64(0)
	if meta, err := c.db.Get(streamMetaKey(stream)); err == nil && len(meta) >= 8 {
		seq = binary.BigEndian.Uint64(meta[:8])
	}
	c.lastSeq[stream] = seq
	return seq
}

func (c *Client) notifyChLocked(stream string) chan struct{} {
	ch, ok := c.notify[stream]
	if !ok {
		ch = make(chan struct{})
		c.notify[stream] = ch
	}
	return ch
}

// Append writes the payload as the stream's next sequence and wakes blocked
// readers.
func (c *Client) Append(ctx context.Context, stream string, payload store.Payload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return "", store.ErrNotReady
	}

	val, err := encodeRecord(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", store.ErrStore, err)
	}

	seq := c.lastSeqLocked(stream) + 1
	b := c.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(stream, seq), val, nil); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrStore, err)
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(streamMetaKey(stream), meta[:], nil); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrStore, err)
	}
	if err := c.db.CommitBatch(b); err != nil {
		return "", fmt.Errorf("%w: commit append: %v", store.ErrStore, err)
	}
	c.lastSeq[stream] = seq

	// wake waiters
	ch := c.notifyChLocked(stream)
	close(ch)
	c.notify[stream] = make(chan struct{})

	return strconv.FormatUint(seq, 10), nil
}

// CreateGroup sets the group cursor at the stream tail. Re-creating an
// existing group is absorbed as success.
func (c *Client) CreateGroup(ctx context.Context, stream, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return store.ErrNotReady
	}
	if _, err := c.db.Get(cursorKey(stream, group)); err == nil {
		return nil
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return fmt.Errorf("%w: read cursor: %v", store.ErrStore, err)
	}
	var cur [8]byte
	binary.BigEndian.PutUint64(cur[:], c.lastSeqLocked(stream)+1)
	if err := c.db.Set(cursorKey(stream, group), cur[:]); err != nil {
		return fmt.Errorf("%w: create group: %v", store.ErrStore, err)
	}
	return nil
}

// ReadGroup delivers up to count never-delivered messages, advancing the
// group cursor and recording pending entries atomically. With no messages
// available it blocks up to block for an append.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]store.Message, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)
	for {
		msgs, notify, err := c.readOnce(stream, group, consumer, count)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		select {
		case <-notify:
		case <-time.After(remaining):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) readOnce(stream, group, consumer string, count int) ([]store.Message, chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return nil, nil, store.ErrNotReady
	}

	curBytes, err := c.db.Get(cursorKey(stream, group))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: no such group %q on stream %q", store.ErrStore, group, stream)
		}
		return nil, nil, fmt.Errorf("%w: read cursor: %v", store.ErrStore, err)
	}
	cursor := binary.BigEndian.Uint64(curBytes[:8])
	last := c.lastSeqLocked(stream)

	var msgs []store.Message
	if cursor <= last {
		b := c.db.NewBatch()
		defer b.Close()
		for seq := cursor; seq <= last && len(msgs) < count; seq++ {
			val, err := c.db.Get(msgKey(stream, seq))
			if err != nil {
				if errors.Is(err, pebblestore.ErrNotFound) {
					continue
				}
				return nil, nil, fmt.Errorf("%w: read message: %v", store.ErrStore, err)
			}
			payload, ok := decodeRecord(val)
			if !ok {
				continue
			}
			if err := b.Set(pelKey(stream, group, seq), []byte(consumer), nil); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", store.ErrStore, err)
			}
			msgs = append(msgs, store.Message{ID: strconv.FormatUint(seq, 10), Values: payload})
			cursor = seq + 1
		}
		var cur [8]byte
		binary.BigEndian.PutUint64(cur[:], cursor)
		if err := b.Set(cursorKey(stream, group), cur[:], nil); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", store.ErrStore, err)
		}
		if err := c.db.CommitBatch(b); err != nil {
			return nil, nil, fmt.Errorf("%w: commit read: %v", store.ErrStore, err)
		}
	}
	return msgs, c.notifyChLocked(stream), nil
}

// Ack removes the pending entry for the message.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return store.ErrNotReady
	}
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed message id %q", store.ErrInvalidArgument, id)
	}
	if err := c.db.Delete(pelKey(stream, group, seq)); err != nil {
		return fmt.Errorf("%w: ack: %v", store.ErrStore, err)
	}
	return nil
}

// Get reads an opaque scalar.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return "", store.ErrNotReady
	}
	v, err := c.db.Get(kvKey(key))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("%w: get: %v", store.ErrStore, err)
	}
	return string(v), nil
}

// Set writes an opaque scalar.
func (c *Client) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return store.ErrNotReady
	}
	if err := c.db.Set(kvKey(key), []byte(value)); err != nil {
		return fmt.Errorf("%w: set: %v", store.ErrStore, err)
	}
	return nil
}

// RawHandle returns the wrapped Pebble database, or nil when disconnected.
func (c *Client) RawHandle() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	return c.db
}

// PendingCount reports the group's pending entries. Used by tooling and
// tests; not part of the capability surface.
func (c *Client) PendingCount(stream, group string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return 0, store.ErrNotReady
	}
	prefix := pelPrefix(stream, group)
	iter, err := c.db.NewIter(prefix, pebblestore.PrefixUpperBound(prefix))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrStore, err)
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}
