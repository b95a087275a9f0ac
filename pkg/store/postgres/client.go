// Package postgres implements the store capability surface over PostgreSQL.
// Streams are rows in an append-only table; groups keep a cursor row and a
// pending table mirrors the server-side pending-entries list. Blocking group
// reads are emulated by polling within the caller's block window.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

const (
	connectTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// Options configures the backend.
type Options struct {
	// ConnString is a lib/pq connection string or URL.
	ConnString string
}

// DSNFromConfig maps store coordinates to a connection URL. The logical
// namespace index selects the database name, qbull_<db>.
func DSNFromConfig(cfg store.Config) string {
	user := cfg.User
	if user == "" {
		user = "postgres"
	}
	auth := user
	if cfg.Password != "" {
		auth += ":" + cfg.Password
	}
	return fmt.Sprintf("postgres://%s@%s/qbull_%d?sslmode=disable", auth, cfg.Addr(), cfg.DB)
}

// Dial is a store.Dialer for this backend.
func Dial(cfg store.Config) store.Client {
	return NewClient(Options{ConnString: DSNFromConfig(cfg)})
}

// Client is a PostgreSQL-backed store client.
type Client struct {
	opts Options

	mu     sync.Mutex
	status store.Status
	db     *sql.DB
}

// NewClient constructs a disconnected client.
func NewClient(opts Options) *Client {
	return &Client{opts: opts}
}

// Connect opens the pool, verifies the server within the handshake window,
// and bootstraps the schema.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == store.StatusReady {
		return nil
	}
	c.status = store.StatusConnecting

	db, err := sql.Open("postgres", c.opts.ConnString)
	if err != nil {
		c.status = store.StatusDisconnected
		return fmt.Errorf("%w: open: %v", store.ErrConnect, err)
	}
	hctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(hctx); err != nil {
		_ = db.Close()
		c.status = store.StatusDisconnected
		return fmt.Errorf("%w: ping: %v", store.ErrConnect, err)
	}
	if err := initSchema(hctx, db); err != nil {
		_ = db.Close()
		c.status = store.StatusDisconnected
		return fmt.Errorf("%w: init schema: %v", store.ErrConnect, err)
	}
	c.db = db
	c.status = store.StatusReady
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	const query = `
	CREATE TABLE IF NOT EXISTS qbull_messages (
		seq BIGSERIAL PRIMARY KEY,
		stream VARCHAR(255) NOT NULL,
		payload JSONB NOT NULL,
		appended_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_qbull_messages_stream ON qbull_messages(stream, seq);

	CREATE TABLE IF NOT EXISTS qbull_groups (
		stream VARCHAR(255) NOT NULL,
		grp VARCHAR(255) NOT NULL,
		cursor BIGINT NOT NULL,
		PRIMARY KEY (stream, grp)
	);

	CREATE TABLE IF NOT EXISTS qbull_pending (
		stream VARCHAR(255) NOT NULL,
		grp VARCHAR(255) NOT NULL,
		seq BIGINT NOT NULL,
		consumer VARCHAR(255) NOT NULL,
		delivered_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		PRIMARY KEY (stream, grp, seq)
	);

	CREATE TABLE IF NOT EXISTS qbull_kv (
		key VARCHAR(255) PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.ExecContext(ctx, query)
	return err
}

// Disconnect closes the pool. Never fails on a disconnected client.
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

func (c *Client) handle() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != store.StatusReady || c.db == nil {
		return nil, store.ErrNotReady
	}
	return c.db, nil
}

// Append inserts the payload and returns the assigned sequence.
func (c *Client) Append(ctx context.Context, stream string, payload store.Payload) (string, error) {
	db, err := c.handle()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", store.ErrStore, err)
	}
	var seq int64
	err = db.QueryRowContext(ctx,
		`INSERT INTO qbull_messages (stream, payload) VALUES ($1, $2) RETURNING seq`,
		stream, body).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("%w: append: %v", store.ErrStore, err)
	}
	return strconv.FormatInt(seq, 10), nil
}

// CreateGroup inserts the group cursor at the stream tail; an existing group
// is left untouched.
func (c *Client) CreateGroup(ctx context.Context, stream, group string) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO qbull_groups (stream, grp, cursor)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM qbull_messages WHERE stream = $1))
		ON CONFLICT (stream, grp) DO NOTHING`,
		stream, group)
	if err != nil {
		return fmt.Errorf("%w: create group: %v", store.ErrStore, err)
	}
	return nil
}

// ReadGroup polls for never-delivered messages until the block window closes.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]store.Message, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)
	for {
		msgs, err := c.readOnce(ctx, stream, group, consumer, count)
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
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) readOnce(ctx context.Context, stream, group, consumer string, count int) ([]store.Message, error) {
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", store.ErrStore, err)
	}
	defer tx.Rollback()

	var cursor int64
	err = tx.QueryRowContext(ctx,
		`SELECT cursor FROM qbull_groups WHERE stream = $1 AND grp = $2 FOR UPDATE`,
		stream, group).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no such group %q on stream %q", store.ErrStore, group, stream)
		}
		return nil, fmt.Errorf("%w: read cursor: %v", store.ErrStore, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT seq, payload FROM qbull_messages WHERE stream = $1 AND seq >= $2 ORDER BY seq LIMIT $3`,
		stream, cursor, count)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", store.ErrStore, err)
	}

	var msgs []store.Message
	next := cursor
	for rows.Next() {
		var seq int64
		var body []byte
		if err := rows.Scan(&seq, &body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan: %v", store.ErrStore, err)
		}
		var payload store.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			continue
		}
		msgs = append(msgs, store.Message{ID: strconv.FormatInt(seq, 10), Values: payload})
		next = seq + 1
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", store.ErrStore, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	for _, m := range msgs {
		seq, _ := strconv.ParseInt(m.ID, 10, 64)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO qbull_pending (stream, grp, seq, consumer) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (stream, grp, seq) DO UPDATE SET consumer = $4, delivered_at = now()`,
			stream, group, seq, consumer); err != nil {
			return nil, fmt.Errorf("%w: record pending: %v", store.ErrStore, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE qbull_groups SET cursor = $3 WHERE stream = $1 AND grp = $2`,
		stream, group, next); err != nil {
		return nil, fmt.Errorf("%w: advance cursor: %v", store.ErrStore, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", store.ErrStore, err)
	}
	return msgs, nil
}

// Ack deletes the pending row for the message.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	seq, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed message id %q", store.ErrInvalidArgument, id)
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM qbull_pending WHERE stream = $1 AND grp = $2 AND seq = $3`,
		stream, group, seq); err != nil {
		return fmt.Errorf("%w: ack: %v", store.ErrStore, err)
	}
	return nil
}

// Get reads an opaque scalar.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	db, err := c.handle()
	if err != nil {
		return "", err
	}
	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM qbull_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("%w: get: %v", store.ErrStore, err)
	}
	return value, nil
}

// Set upserts an opaque scalar.
func (c *Client) Set(ctx context.Context, key, value string) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO qbull_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = $2`,
		key, value); err != nil {
		return fmt.Errorf("%w: set: %v", store.ErrStore, err)
	}
	return nil
}

// RawHandle returns the *sql.DB, or nil when disconnected.
func (c *Client) RawHandle() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	return c.db
}
