// Package redis implements the store capability surface over a Redis server
// using its stream primitives: XADD, XGROUP CREATE MKSTREAM, XREADGROUP with
// the ">" pointer, and XACK.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// connectTimeout bounds the handshake: dial plus the PING that proves the
// server is actually serving commands, not merely accepting TCP.
const connectTimeout = 10 * time.Second

// Client is a Redis-backed store client. A single logical connection is
// shared by all operations; concurrent Connect calls collapse into one
// handshake.
type Client struct {
	cfg store.Config

	mu      sync.Mutex
	status  store.Status
	rdb     *goredis.Client
	attempt *attempt
}

type attempt struct {
	done chan struct{}
	err  error
}

// NewClient constructs a disconnected client for the given configuration.
func NewClient(cfg store.Config) *Client {
	return &Client{cfg: cfg}
}

// Dial is a store.Dialer for this backend.
func Dial(cfg store.Config) store.Client { return NewClient(cfg) }

// Register installs this backend as the process-wide default dialer.
func Register() { store.SetDefaultDialer(Dial) }

// Status reports the connection state.
func (c *Client) Status() store.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect is idempotent. Ready returns immediately; Connecting awaits the
// in-flight handshake; otherwise any stale handle is torn down and a new one
// is dialed. The client is Ready only once the server answers PING within the
// handshake window.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case store.StatusReady:
		c.mu.Unlock()
		return nil
	case store.StatusConnecting:
		att := c.attempt
		c.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.rdb != nil {
		_ = c.rdb.Close()
		c.rdb = nil
	}
	c.status = store.StatusConnecting
	att := &attempt{done: make(chan struct{})}
	c.attempt = att

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        c.cfg.Addr(),
		Username:    strings.TrimSpace(c.cfg.User),
		Password:    strings.TrimSpace(c.cfg.Password),
		DB:          c.cfg.DB,
		DialTimeout: connectTimeout,
	})
	c.rdb = rdb
	c.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := rdb.Ping(hctx).Err()
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %v", store.ErrConnect, err)
	}

	c.mu.Lock()
	att.err = err
	c.attempt = nil
	if err != nil {
		c.status = store.StatusDisconnected
		_ = rdb.Close()
		if c.rdb == rdb {
			c.rdb = nil
		}
	} else {
		c.status = store.StatusReady
	}
	c.mu.Unlock()
	close(att.done)
	return err
}

// Disconnect closes the connection. When Ready it sends QUIT before closing
// the driver; otherwise it drops the handle outright. It never fails on an
// already-disconnected client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == store.StatusDisconnected && c.rdb == nil {
		c.mu.Unlock()
		return nil
	}
	wasReady := c.status == store.StatusReady
	c.status = store.StatusClosing
	rdb := c.rdb
	c.rdb = nil
	c.mu.Unlock()

	if rdb != nil {
		if wasReady {
			_ = rdb.Do(ctx, "QUIT").Err()
		}
		_ = rdb.Close()
	}

	c.mu.Lock()
	c.status = store.StatusDisconnected
	c.mu.Unlock()
	return nil
}

// handle returns the driver when Ready.
func (c *Client) handle() (*goredis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady || c.rdb == nil {
		return nil, store.ErrNotReady
	}
	return c.rdb, nil
}

// Append adds the payload via XADD with a server-assigned id.
func (c *Client) Append(ctx context.Context, stream string, payload store.Payload) (string, error) {
	rdb, err := c.handle()
	if err != nil {
		return "", err
	}
	values := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		values[k] = v
	}
	id, err := rdb.XAdd(ctx, &goredis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %v", store.ErrStore, stream, err)
	}
	return id, nil
}

// CreateGroup issues XGROUP CREATE MKSTREAM starting at the tail, absorbing
// the BUSYGROUP reply for a group that already exists.
func (c *Client) CreateGroup(ctx context.Context, stream, group string) error {
	rdb, err := c.handle()
	if err != nil {
		return err
	}
	err = rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("%w: xgroup create %s %s: %v", store.ErrStore, stream, group, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ReadGroup issues XREADGROUP with the ">" pointer. A block timeout returns
// an empty batch, not an error.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]store.Message, error) {
	rdb, err := c.handle()
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 1
	}
	res, err := rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: xreadgroup %s %s: %v", store.ErrStore, stream, group, err)
	}

	var msgs []store.Message
	for _, xs := range res {
		for _, xm := range xs.Messages {
			payload := make(store.Payload, len(xm.Values))
			for k, v := range xm.Values {
				payload[k] = fmt.Sprintf("%v", v)
			}
			msgs = append(msgs, store.Message{ID: xm.ID, Values: payload})
		}
	}
	return msgs, nil
}

// Ack issues XACK for a single id.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	rdb, err := c.handle()
	if err != nil {
		return err
	}
	if err := rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("%w: xack %s %s %s: %v", store.ErrStore, stream, group, id, err)
	}
	return nil
}

// Get reads an opaque scalar, mapping the driver's nil reply to ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	rdb, err := c.handle()
	if err != nil {
		return "", err
	}
	v, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("%w: get %s: %v", store.ErrStore, key, err)
	}
	return v, nil
}

// Set writes an opaque scalar without expiry.
func (c *Client) Set(ctx context.Context, key, value string) error {
	rdb, err := c.handle()
	if err != nil {
		return err
	}
	if err := rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", store.ErrStore, key, err)
	}
	return nil
}

// RawHandle returns the *goredis.Client, or nil when disconnected.
func (c *Client) RawHandle() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	return c.rdb
}
