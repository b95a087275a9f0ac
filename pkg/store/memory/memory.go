// Package memory implements the store capability surface with in-process
// state. It backs unit tests and local examples; semantics mirror the real
// backends: tail-start groups, per-message pending tracking, and blocking
// reads woken by appends.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

type entry struct {
	id     string
	values store.Payload
}

type group struct {
	cursor  int
	pending map[string]pendingEntry
}

type pendingEntry struct {
	consumer string
	values   store.Payload
}

type stream struct {
	entries []entry
	lastSeq int64
	groups  map[string]*group
	notify  chan struct{}
}

// Client is an in-memory store client.
type Client struct {
	mu      sync.Mutex
	status  store.Status
	streams map[string]*stream
	kv      map[string]string

	// DialErr, when set, makes every Connect attempt fail with it.
	DialErr error
	// ConnectDelay simulates handshake latency.
	ConnectDelay time.Duration

	connectCalls int64
}

// NewClient returns an empty, disconnected client.
func NewClient() *Client {
	return &Client{
		streams: make(map[string]*stream),
		kv:      make(map[string]string),
	}
}

// ConnectCalls reports how many dial attempts ran. Used by tests asserting
// single-flight connects.
func (c *Client) ConnectCalls() int64 { return atomic.LoadInt64(&c.connectCalls) }

// Connect transitions to Ready, honoring DialErr and ConnectDelay.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == store.StatusReady {
		c.mu.Unlock()
		return nil
	}
	c.status = store.StatusConnecting
	c.mu.Unlock()

	atomic.AddInt64(&c.connectCalls, 1)
	if c.ConnectDelay > 0 {
		select {
		case <-time.After(c.ConnectDelay):
		case <-ctx.Done():
			c.setStatus(store.StatusDisconnected)
			return ctx.Err()
		}
	}
	if c.DialErr != nil {
		c.setStatus(store.StatusDisconnected)
		return fmt.Errorf("%w: %v", store.ErrConnect, c.DialErr)
	}
	c.setStatus(store.StatusReady)
	return nil
}

// Disconnect moves to Disconnected. Never fails.
func (c *Client) Disconnect(ctx context.Context) error {
	c.setStatus(store.StatusDisconnected)
	return nil
}

func (c *Client) setStatus(s store.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Status reports the connection state.
func (c *Client) Status() store.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) getStream(name string) *stream {
	s, ok := c.streams[name]
	if !ok {
		s = &stream{groups: make(map[string]*group), notify: make(chan struct{})}
		c.streams[name] = s
	}
	return s
}

// Append adds the payload to the stream and wakes blocked readers.
func (c *Client) Append(ctx context.Context, name string, payload store.Payload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return "", store.ErrNotReady
	}
	s := c.getStream(name)
	s.lastSeq++
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), s.lastSeq)
	s.entries = append(s.entries, entry{id: id, values: payload.Clone()})
	close(s.notify)
	s.notify = make(chan struct{})
	return id, nil
}

// CreateGroup ensures the group exists, starting at the tail. Re-creating an
// existing group is absorbed as success.
func (c *Client) CreateGroup(ctx context.Context, name, groupName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return store.ErrNotReady
	}
	s := c.getStream(name)
	if _, ok := s.groups[groupName]; ok {
		return nil
	}
	s.groups[groupName] = &group{cursor: len(s.entries), pending: make(map[string]pendingEntry)}
	return nil
}

// ReadGroup returns up to count never-delivered messages, blocking up to
// block when none are available.
func (c *Client) ReadGroup(ctx context.Context, name, groupName, consumer string, count int, block time.Duration) ([]store.Message, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)
	for {
		c.mu.Lock()
		if c.status != store.StatusReady {
			c.mu.Unlock()
			return nil, store.ErrNotReady
		}
		s, ok := c.streams[name]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: no such stream %q", store.ErrStore, name)
		}
		g, ok := s.groups[groupName]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: no such group %q", store.ErrStore, groupName)
		}
		var msgs []store.Message
		for g.cursor < len(s.entries) && len(msgs) < count {
			e := s.entries[g.cursor]
			g.cursor++
			g.pending[e.id] = pendingEntry{consumer: consumer, values: e.values}
			msgs = append(msgs, store.Message{ID: e.id, Values: e.values.Clone()})
		}
		notify := s.notify
		c.mu.Unlock()

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

// Ack removes the message from the group's pending set.
func (c *Client) Ack(ctx context.Context, name, groupName, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return store.ErrNotReady
	}
	s, ok := c.streams[name]
	if !ok {
		return fmt.Errorf("%w: no such stream %q", store.ErrStore, name)
	}
	g, ok := s.groups[groupName]
	if !ok {
		return fmt.Errorf("%w: no such group %q", store.ErrStore, groupName)
	}
	delete(g.pending, id)
	return nil
}

// Get reads an opaque scalar.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return "", store.ErrNotReady
	}
	v, ok := c.kv[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

// Set writes an opaque scalar.
func (c *Client) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady {
		return store.ErrNotReady
	}
	c.kv[key] = value
	return nil
}

// RawHandle returns nil; there is no underlying driver.
func (c *Client) RawHandle() interface{} { return nil }

// Pending lists the group's pending messages. Test helper, not part of the
// capability surface.
func (c *Client) Pending(name, groupName string) []store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		return nil
	}
	g, ok := s.groups[groupName]
	if !ok {
		return nil
	}
	out := make([]store.Message, 0, len(g.pending))
	for id, pe := range g.pending {
		out = append(out, store.Message{ID: id, Values: pe.values.Clone()})
	}
	return out
}

// StreamLen reports how many entries a stream holds. Test helper.
func (c *Client) StreamLen(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		return 0
	}
	return len(s.entries)
}
