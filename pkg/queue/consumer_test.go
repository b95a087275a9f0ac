package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func readyMemory(t *testing.T) *memory.Client {
	t.Helper()
	c := memory.NewClient()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func stopConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

// recorder captures handled messages.
type recorder struct {
	mu   sync.Mutex
	msgs []store.Message
}

func (r *recorder) handle(_ context.Context, msg store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) all() []store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Message(nil), r.msgs...)
}

func TestConstructionValidation(t *testing.T) {
	client := readyMemory(t)
	handler := func(context.Context, store.Message) error { return nil }

	if _, err := NewConsumer(nil, "s", handler); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("nil client: %v", err)
	}
	if _, err := NewConsumer(client, "s", nil); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("nil handler: %v", err)
	}
	if _, err := NewConsumer(client, "   ", handler); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("blank stream: %v", err)
	}
	if _, err := NewConsumer(client, "s", handler, WithFilter("values.")); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("bad filter: %v", err)
	}
}

func TestDefaultsAndCoercion(t *testing.T) {
	client := readyMemory(t)
	handler := func(context.Context, store.Message) error { return nil }

	c, err := NewConsumer(client, "emails", handler, WithConcurrency(0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.concurrency != 1 {
		t.Fatalf("concurrency not coerced: %d", c.concurrency)
	}
	if c.Group() != "group:emails" {
		t.Fatalf("default group: %q", c.Group())
	}
	if c.Name() == "" {
		t.Fatalf("default consumer name empty")
	}
}

// S1: basic round trip with concurrency 1.
func TestRoundTrip(t *testing.T) {
	client := readyMemory(t)
	rec := &recorder{}
	c, err := NewConsumer(client, "Q1", rec.handle,
		WithConcurrency(1), WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	id, err := client.Append(ctx, "Q1", store.Payload{"email": "a@x", "subject": "s"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return rec.count() == 1 }, "handler invocation")
	got := rec.all()[0]
	if got.ID != id {
		t.Fatalf("id: %q want %q", got.ID, id)
	}
	if got.Values["email"] != "a@x" || got.Values["subject"] != "s" {
		t.Fatalf("payload: %v", got.Values)
	}
	if _, ok := got.Values[store.OrderingKeyField]; ok {
		t.Fatalf("unexpected ordering key field")
	}

	waitFor(t, 3*time.Second, func() bool { return len(client.Pending("Q1", c.Group())) == 0 }, "ack")
	// no retries
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("handler re-invoked: %d", rec.count())
	}
}

// S2: handler failure means no ack; the message stays pending.
func TestHandlerFailureLeavesPending(t *testing.T) {
	client := readyMemory(t)
	var calls int64
	handler := func(context.Context, store.Message) error {
		atomic.AddInt64(&calls, 1)
		return errors.New("always fails")
	}
	c, err := NewConsumer(client, "Q1", handler, WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	id, _ := client.Append(ctx, "Q1", store.Payload{"k": "v"})
	waitFor(t, 3*time.Second, func() bool { return atomic.LoadInt64(&calls) == 1 }, "handler invocation")

	time.Sleep(100 * time.Millisecond)
	pending := client.Pending("Q1", c.Group())
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("message not pending: %v", pending)
	}
}

func TestHandlerPanicTreatedAsFailure(t *testing.T) {
	client := readyMemory(t)
	handler := func(context.Context, store.Message) error { panic("boom") }
	c, err := NewConsumer(client, "Q1", handler, WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	_, _ = client.Append(ctx, "Q1", store.Payload{"k": "v"})
	waitFor(t, 3*time.Second, func() bool { return len(client.Pending("Q1", c.Group())) == 1 }, "pending entry")
	if got := c.InFlight(); got != 0 {
		t.Fatalf("inFlight after panic: %d", got)
	}
}

// S3: per-key FIFO with parallelism across keys.
func TestOrderedByKey(t *testing.T) {
	client := readyMemory(t)

	type event struct{ key, value string }
	var mu sync.Mutex
	perKey := map[string][]string{}
	running := map[string]*int64{"A": new(int64), "B": new(int64)}
	var overlap int64

	handler := func(_ context.Context, msg store.Message) error {
		key := msg.Values[store.OrderingKeyField]
		if n := atomic.AddInt64(running[key], 1); n > 1 {
			atomic.StoreInt64(&overlap, 1)
		}
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		perKey[key] = append(perKey[key], msg.Values["v"])
		mu.Unlock()
		atomic.AddInt64(running[key], -1)
		return nil
	}

	c, err := NewConsumer(client, "Q1", handler,
		WithConcurrency(4), WithOrderingByKey(), WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	for _, e := range []event{{"A", "1"}, {"A", "2"}, {"B", "1"}, {"A", "3"}, {"B", "2"}} {
		if _, err := client.Append(ctx, "Q1", store.Payload{"v": e.value, store.OrderingKeyField: e.key}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(perKey["A"]) == 3 && len(perKey["B"]) == 2
	}, "all keyed messages handled")

	mu.Lock()
	defer mu.Unlock()
	if got := fmt.Sprint(perKey["A"]); got != "[1 2 3]" {
		t.Fatalf("key A order: %v", perKey["A"])
	}
	if got := fmt.Sprint(perKey["B"]); got != "[1 2]" {
		t.Fatalf("key B order: %v", perKey["B"])
	}
	if atomic.LoadInt64(&overlap) != 0 {
		t.Fatalf("two handlers overlapped on one key")
	}
}

// S4: an unkeyed message in ordered mode takes the unordered path.
func TestUnkeyedMessageInOrderedMode(t *testing.T) {
	client := readyMemory(t)
	rec := &recorder{}
	c, err := NewConsumer(client, "Q1", rec.handle,
		WithConcurrency(4), WithOrderingByKey(), WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	if _, err := client.Append(ctx, "Q1", store.Payload{"v": "X"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return rec.count() == 1 }, "unkeyed handler invocation")

	c.mu.Lock()
	queues := len(c.orderingQueues)
	c.mu.Unlock()
	if queues != 0 {
		t.Fatalf("unkeyed message entered a key FIFO")
	}
}

func TestEmptiedKeyIsRemovedFromMapping(t *testing.T) {
	client := readyMemory(t)
	rec := &recorder{}
	c, err := NewConsumer(client, "Q1", rec.handle,
		WithConcurrency(2), WithOrderingByKey(), WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	for i := 0; i < 3; i++ {
		_, _ = client.Append(ctx, "Q1", store.Payload{"v": fmt.Sprint(i), store.OrderingKeyField: "K"})
	}
	waitFor(t, 3*time.Second, func() bool { return rec.count() == 3 }, "keyed messages handled")

	waitFor(t, time.Second, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.orderingQueues) == 0 && len(c.busyKeys) == 0
	}, "key mapping cleanup")
}

func TestInFlightNeverExceedsConcurrency(t *testing.T) {
	client := readyMemory(t)
	var current, peak int64
	handler := func(context.Context, store.Message) error {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil
	}
	c, err := NewConsumer(client, "Q1", handler,
		WithConcurrency(2), WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	for i := 0; i < 8; i++ {
		_, _ = client.Append(ctx, "Q1", store.Payload{"n": fmt.Sprint(i)})
	}
	waitFor(t, 5*time.Second, func() bool { return len(client.Pending("Q1", c.Group())) == 0 }, "all acked")
	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Fatalf("inFlight exceeded concurrency: %d", p)
	}
}

// countingClient wraps the memory backend to count group reads.
type countingClient struct {
	*memory.Client
	reads int64
}

func (c *countingClient) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]store.Message, error) {
	atomic.AddInt64(&c.reads, 1)
	return c.Client.ReadGroup(ctx, stream, group, consumer, count, block)
}

// S5: graceful shutdown drains in-flight handlers and stops reading.
func TestGracefulShutdownDrains(t *testing.T) {
	client := &countingClient{Client: readyMemory(t)}
	started := make(chan struct{}, 2)
	handler := func(context.Context, store.Message) error {
		started <- struct{}{}
		time.Sleep(300 * time.Millisecond)
		return nil
	}
	c, err := NewConsumer(client, "Q1", handler,
		WithConcurrency(2),
		WithBlockTime(50*time.Millisecond),
		WithGracefulShutdownTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, _ = client.Append(ctx, "Q1", store.Payload{"n": "1"})
	_, _ = client.Append(ctx, "Q1", store.Payload{"n": "2"})
	<-started
	<-started

	begin := time.Now()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	elapsed := time.Since(begin)
	if elapsed > 1300*time.Millisecond {
		t.Fatalf("stop took too long: %v", elapsed)
	}
	if got := c.InFlight(); got != 0 {
		t.Fatalf("handlers still in flight after stop: %d", got)
	}
	if pending := client.Pending("Q1", c.Group()); len(pending) != 0 {
		t.Fatalf("acks missing after drain: %v", pending)
	}

	readsAtStop := atomic.LoadInt64(&client.reads)
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt64(&client.reads); got != readsAtStop {
		t.Fatalf("reads issued after stop: %d -> %d", readsAtStop, got)
	}
}

func TestStopIdempotentAndStartAfterStopIgnored(t *testing.T) {
	client := readyMemory(t)
	rec := &recorder{}
	c, err := NewConsumer(client, "Q1", rec.handle, WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	// start from stopped is a warned no-op
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != stateStopped {
		t.Fatalf("state after ignored start: %v", state)
	}
}

func TestStopFromIdle(t *testing.T) {
	client := readyMemory(t)
	c, err := NewConsumer(client, "Q1", func(context.Context, store.Message) error { return nil })
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop from idle: %v", err)
	}
}

func TestStartFailsWhenGroupCreationFails(t *testing.T) {
	client := memory.NewClient() // never connected: CreateGroup fails NotReady
	c, err := NewConsumer(client, "Q1", func(context.Context, store.Message) error { return nil })
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, store.ErrNotReady) {
		t.Fatalf("expected group creation failure, got %v", err)
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != stateIdle {
		t.Fatalf("state after failed start: %v", state)
	}
}

func TestFilterAcksExcludedMessages(t *testing.T) {
	client := readyMemory(t)
	rec := &recorder{}
	c, err := NewConsumer(client, "Q1", rec.handle,
		WithBlockTime(50*time.Millisecond),
		WithFilter(`values.type == "ship"`))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopConsumer(t, c)

	_, _ = client.Append(ctx, "Q1", store.Payload{"type": "billing"})
	shipID, _ := client.Append(ctx, "Q1", store.Payload{"type": "ship"})

	waitFor(t, 3*time.Second, func() bool { return rec.count() == 1 }, "matching message handled")
	if got := rec.all()[0].ID; got != shipID {
		t.Fatalf("wrong message handled: %q", got)
	}
	// the excluded message is acked, not left pending
	waitFor(t, 3*time.Second, func() bool { return len(client.Pending("Q1", c.Group())) == 0 }, "excluded message acked")
}
