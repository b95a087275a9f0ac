package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fazpi-ai/fazpi-qbull/pkg/id"
	"github.com/fazpi-ai/fazpi-qbull/pkg/log"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// Handler processes one message. Returning an error leaves the message
// pending in the store for redelivery. The context is not derived from the
// one passed to Start; the consumer never cancels it, not even during
// graceful shutdown.
type Handler func(ctx context.Context, msg store.Message) error

type consumerState int32

const (
	stateIdle consumerState = iota
	stateRunning
	stateStopping
	stateStopped
)

func (s consumerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	saturatedBackoff = time.Second
	errorBackoff     = 5 * time.Second
	drainTick        = 250 * time.Millisecond
)

type job struct {
	id      string
	payload store.Payload
}

// Consumer drives at-least-once consumption of one stream: the poll loop,
// the concurrency bound, the per-key serializer, acknowledgment, and
// graceful shutdown.
type Consumer struct {
	client  store.Client
	stream  string
	handler Handler
	logger  log.Logger

	concurrency  int
	ordered      bool
	group        string
	name         string
	blockTime    time.Duration
	drainTimeout time.Duration
	filter       celFilter

	mu             sync.Mutex
	state          consumerState
	inFlight       int
	orderingQueues map[string][]job
	busyKeys       map[string]struct{}

	pollCancel context.CancelFunc
	pollDone   chan struct{}

	// workers run on a context that survives Stop so completing handlers
	// can still ack.
	workCtx context.Context
}

// NewConsumer validates inputs and builds an idle consumer. Construction
// fails loud on a nil client, nil handler, a blank stream name, or a filter
// expression that does not compile.
func NewConsumer(client store.Client, stream string, handler Handler, opts ...Option) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: store client is required", store.ErrInvalidArgument)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", store.ErrInvalidArgument)
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, fmt.Errorf("%w: stream name must be a non-empty string", store.ErrInvalidArgument)
	}

	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	logger = logger.WithComponent("consumer").With(log.Str("stream", stream))

	if cfg.concurrency < 1 {
		logger.Warn("concurrency below 1, coercing to 1", log.Int("requested", cfg.concurrency))
		cfg.concurrency = 1
	}

	filter, err := newCELFilter(cfg.filterExpr)
	if err != nil {
		return nil, fmt.Errorf("%w: filter expression: %v", store.ErrInvalidArgument, err)
	}

	group := cfg.group
	if group == "" {
		group = id.GroupName(stream)
	}
	name := cfg.consumerName
	if name == "" {
		name = id.ConsumerName(stream)
	}

	return &Consumer{
		client:         client,
		stream:         stream,
		handler:        handler,
		logger:         logger.With(log.Str("group", group)),
		concurrency:    cfg.concurrency,
		ordered:        cfg.ordered,
		group:          group,
		name:           name,
		blockTime:      cfg.blockTime,
		drainTimeout:   cfg.drainTimeout,
		filter:         filter,
		orderingQueues: make(map[string][]job),
		busyKeys:       make(map[string]struct{}),
		workCtx:        context.Background(),
	}, nil
}

// Group returns the consumer-group name.
func (c *Consumer) Group() string { return c.group }

// Name returns the consumer identity within its group.
func (c *Consumer) Name() string { return c.name }

// InFlight reports the number of handlers currently executing.
func (c *Consumer) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Start ensures the consumer group exists (at the stream tail) and launches
// the poll loop. Valid only from the idle state; later calls are a warned
// no-op.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateIdle {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("start ignored", log.Str("state", state.String()))
		return nil
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.state = stateRunning
	c.pollCancel = cancel
	c.pollDone = done
	c.mu.Unlock()

	if err := c.client.CreateGroup(ctx, c.stream, c.group); err != nil {
		cancel()
		close(done)
		c.mu.Lock()
		if c.state == stateRunning {
			c.state = stateIdle
		}
		c.mu.Unlock()
		return fmt.Errorf("create group %s: %w", c.group, err)
	}

	go c.run(pollCtx, done)
	c.logger.Info("consumer started",
		log.Str("consumer", c.name),
		log.Int("concurrency", c.concurrency),
		log.Bool("ordered", c.ordered))
	return nil
}

// run drives poll cycles until stopped. A negative delay from poll ends the
// loop.
func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := time.Duration(0)
	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		} else if ctx.Err() != nil {
			return
		}
		delay = c.poll(ctx)
		if delay < 0 {
			return
		}
	}
}

// poll performs one cycle: gate on availability, read a batch, classify each
// message, dispatch. It returns the delay before the next cycle, or a
// negative duration to end the loop.
func (c *Consumer) poll(ctx context.Context) time.Duration {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return -1
	}
	avail := c.concurrency - c.inFlight
	if !c.ordered && avail <= 0 {
		c.mu.Unlock()
		return saturatedBackoff
	}
	fetch := c.concurrency
	if !c.ordered {
		fetch = avail
		if fetch < 1 {
			fetch = 1
		}
	}
	c.mu.Unlock()

	msgs, err := c.client.ReadGroup(ctx, c.stream, c.group, c.name, fetch, c.blockTime)
	if err != nil {
		if ctx.Err() != nil {
			return -1
		}
		c.logger.Error("group read failed, backing off", log.Err(err))
		return errorBackoff
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		// The batch is untouched: messages stay pending in the store and
		// will be redelivered.
		return -1
	}

	for i, m := range msgs {
		key := ""
		if c.ordered {
			key = m.Values.OrderingKey()
		}
		if key != "" {
			c.orderingQueues[key] = append(c.orderingQueues[key], job{id: m.ID, payload: m.Values})
			continue
		}
		if c.inFlight < c.concurrency {
			c.inFlight++
			go c.executeJob(c.workCtx, m.ID, m.Values, "")
			continue
		}
		// Pool full: leave the rest of the batch unacknowledged in our
		// pending set; later ">" group reads do not return it again.
		c.logger.Debug("worker pool saturated mid-batch",
			log.Int("remaining", len(msgs)-i))
		break
	}

	if c.ordered {
		c.dispatchOrderedLocked()
	}
	return 0
}

// dispatchOrderedLocked admits at most one job per non-busy key while slots
// remain. Callers hold c.mu.
func (c *Consumer) dispatchOrderedLocked() {
	for key, q := range c.orderingQueues {
		if c.inFlight >= c.concurrency {
			return
		}
		if len(q) == 0 {
			delete(c.orderingQueues, key)
			continue
		}
		if _, busy := c.busyKeys[key]; busy {
			continue
		}
		j := q[0]
		if len(q) == 1 {
			delete(c.orderingQueues, key)
		} else {
			c.orderingQueues[key] = q[1:]
		}
		c.busyKeys[key] = struct{}{}
		c.inFlight++
		go c.executeJob(c.workCtx, j.id, j.payload, key)
	}
}

// executeJob runs the handler and applies the acknowledgment discipline:
// ack on success, no ack on failure, ack failures logged and not retried.
func (c *Consumer) executeJob(ctx context.Context, msgID string, payload store.Payload, key string) {
	if c.filter.Eval(msgID, payload) {
		err := c.invokeHandler(ctx, store.Message{ID: msgID, Values: payload})
		if err != nil {
			c.logger.Error("handler failed, message left pending",
				log.Str("id", msgID), log.Err(err))
		} else if ackErr := c.client.Ack(ctx, c.stream, c.group, msgID); ackErr != nil {
			c.logger.Error("ack failed after successful handler, message will be redelivered",
				log.Str("id", msgID), log.Err(ackErr))
		}
	} else {
		// Excluded by the filter: nothing else will process it in this
		// group, so acknowledge and move on.
		c.logger.Debug("message excluded by filter", log.Str("id", msgID))
		if ackErr := c.client.Ack(ctx, c.stream, c.group, msgID); ackErr != nil {
			c.logger.Error("ack failed for filtered message", log.Str("id", msgID), log.Err(ackErr))
		}
	}

	c.mu.Lock()
	c.inFlight--
	if key != "" {
		delete(c.busyKeys, key)
		if c.state == stateRunning {
			c.dispatchOrderedLocked()
		}
	}
	c.mu.Unlock()
}

// invokeHandler shields the loop from handler panics.
func (c *Consumer) invokeHandler(ctx context.Context, msg store.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

// Stop halts polling and drains in-flight handlers, checking every 250ms
// until the graceful timeout. Handlers are not cancelled; keyed jobs still
// queued are counted and left pending in the store. Stop is idempotent.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateStopped, stateStopping:
		c.mu.Unlock()
		return nil
	case stateIdle:
		c.state = stateStopped
		c.mu.Unlock()
		return nil
	}
	c.state = stateStopping
	cancel := c.pollCancel
	done := c.pollDone
	c.mu.Unlock()

	// No new reads after this point.
	cancel()
	<-done

	deadline := time.Now().Add(c.drainTimeout)
	for {
		c.mu.Lock()
		n := c.inFlight
		c.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			c.logger.Warn("graceful shutdown timeout, handlers still in flight",
				log.Int("inFlight", n))
			break
		}
		select {
		case <-time.After(drainTick):
		case <-ctx.Done():
			c.logger.Warn("stop context cancelled while draining", log.Err(ctx.Err()))
			c.finishStop()
			return ctx.Err()
		}
	}

	c.finishStop()
	c.logger.Info("consumer stopped", log.Str("consumer", c.name))
	return nil
}

func (c *Consumer) finishStop() {
	c.mu.Lock()
	left := 0
	for _, q := range c.orderingQueues {
		left += len(q)
	}
	c.state = stateStopped
	c.mu.Unlock()
	if left > 0 {
		c.logger.Warn("undispatched keyed messages remain pending in the store",
			log.Int("count", left))
	}
}
