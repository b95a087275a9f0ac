package store

import (
	"context"
	"sync"

	"github.com/fazpi-ai/fazpi-qbull/pkg/log"
)

// Dialer constructs a Client for the given configuration. The default dialer
// is installed by the redis subpackage via SetDefaultDialer; tests inject the
// memory backend instead.
type Dialer func(cfg Config) Client

var (
	defaultDialerMu sync.Mutex
	defaultDialer   Dialer
)

// SetDefaultDialer installs the process-wide dialer used when a SharedStore
// is constructed without an explicit one.
func SetDefaultDialer(d Dialer) {
	defaultDialerMu.Lock()
	defer defaultDialerMu.Unlock()
	defaultDialer = d
}

func getDefaultDialer() Dialer {
	defaultDialerMu.Lock()
	defer defaultDialerMu.Unlock()
	return defaultDialer
}

// SharedStore owns at most one Client at a time and lazily (re)connects it
// with the current configuration. Consumers and Publishers hold the handle,
// not the client; they must be stopped before Disconnect.
type SharedStore struct {
	mu       sync.Mutex
	dial     Dialer
	logger   log.Logger
	defaults Config
	client   Client
	cfg      *Config
	attempt  *connectAttempt
}

// connectAttempt collapses concurrent Connect callers into one dial.
type connectAttempt struct {
	done chan struct{}
	err  error
}

func (a *connectAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SharedOption configures a SharedStore.
type SharedOption func(*SharedStore)

// WithDialer overrides the client constructor.
func WithDialer(d Dialer) SharedOption {
	return func(s *SharedStore) { s.dial = d }
}

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(l log.Logger) SharedOption {
	return func(s *SharedStore) { s.logger = l }
}

// WithDefaultConfig sets the ambient configuration used by Connect(ctx, nil).
func WithDefaultConfig(cfg Config) SharedOption {
	return func(s *SharedStore) { s.defaults = cfg }
}

// NewSharedStore constructs an unconnected SharedStore.
func NewSharedStore(opts ...SharedOption) *SharedStore {
	s := &SharedStore{defaults: DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		s.dial = getDefaultDialer()
	}
	if s.logger == nil {
		s.logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	s.logger = s.logger.WithComponent("store")
	return s
}

// Connect ensures a Ready client for the given configuration. A nil cfg uses
// the ambient configuration. Equal config + Ready is a no-op; equal config
// with a dial in flight awaits that dial; a different config tears down the
// existing client and dials a fresh one. Concurrent callers with the same
// configuration share a single attempt.
func (s *SharedStore) Connect(ctx context.Context, cfg *Config) error {
	for {
		s.mu.Lock()
		want := s.defaults
		if cfg != nil {
			want = *cfg
		}

		if att := s.attempt; att != nil {
			same := s.cfg != nil && s.cfg.Equal(want)
			s.mu.Unlock()
			if same {
				return att.wait(ctx)
			}
			// A dial for another configuration is in flight; let it settle
			// and re-evaluate.
			_ = att.wait(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		if s.client != nil && s.cfg != nil && s.cfg.Equal(want) && s.client.Status() == StatusReady {
			s.mu.Unlock()
			return nil
		}

		if s.dial == nil {
			s.mu.Unlock()
			return ErrNotConnected
		}

		var stale Client
		if s.client != nil && (s.cfg == nil || !s.cfg.Equal(want)) {
			stale = s.client
			s.client = nil
		}
		if s.client == nil {
			s.client = s.dial(want.withDefaults())
		}
		cfgCopy := want
		s.cfg = &cfgCopy
		att := &connectAttempt{done: make(chan struct{})}
		s.attempt = att
		client := s.client
		s.mu.Unlock()

		if stale != nil {
			s.logger.Info("configuration changed, replacing store client",
				log.Str("addr", want.Addr()))
			_ = stale.Disconnect(ctx)
		}

		err := client.Connect(ctx)

		s.mu.Lock()
		att.err = err
		s.attempt = nil
		s.mu.Unlock()
		close(att.done)

		if err != nil {
			s.logger.Error("store connect failed", log.Str("addr", want.Addr()), log.Err(err))
		}
		return err
	}
}

// Disconnect tears down the client and clears the cached configuration. Safe
// to call when never connected.
func (s *SharedStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	att := s.attempt
	s.mu.Unlock()
	if att != nil {
		_ = att.wait(ctx)
	}

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.cfg = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// ensureReady returns the current client, awaiting an in-flight dial. It
// fails with ErrNotConnected when Connect was never called.
func (s *SharedStore) ensureReady(ctx context.Context) (Client, error) {
	s.mu.Lock()
	att := s.attempt
	client := s.client
	s.mu.Unlock()

	if att != nil {
		if err := att.wait(ctx); err != nil {
			return nil, err
		}
		s.mu.Lock()
		client = s.client
		s.mu.Unlock()
	}
	if client == nil {
		return nil, ErrNotConnected
	}
	return client, nil
}

// Append forwards to the client after the ready guard.
func (s *SharedStore) Append(ctx context.Context, stream string, payload Payload) (string, error) {
	client, err := s.ensureReady(ctx)
	if err != nil {
		return "", err
	}
	return client.Append(ctx, stream, payload)
}

// Get forwards to the client after the ready guard.
func (s *SharedStore) Get(ctx context.Context, key string) (string, error) {
	client, err := s.ensureReady(ctx)
	if err != nil {
		return "", err
	}
	return client.Get(ctx, key)
}

// Set forwards to the client after the ready guard.
func (s *SharedStore) Set(ctx context.Context, key, value string) error {
	client, err := s.ensureReady(ctx)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, value)
}

// Client returns the current client, or nil before the first Connect.
func (s *SharedStore) Client() Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// RawHandle returns the underlying driver handle, or nil.
func (s *SharedStore) RawHandle() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	return s.client.RawHandle()
}
