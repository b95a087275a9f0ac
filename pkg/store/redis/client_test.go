package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

func TestFreshClientIsDisconnected(t *testing.T) {
	c := NewClient(store.Config{Host: "127.0.0.1"})
	if c.Status() != store.StatusDisconnected {
		t.Fatalf("status: %v", c.Status())
	}
	if c.RawHandle() != nil {
		t.Fatalf("raw handle should be nil before connect")
	}
}

func TestOperationsRequireReady(t *testing.T) {
	c := NewClient(store.Config{Host: "127.0.0.1"})
	ctx := context.Background()
	if _, err := c.Append(ctx, "s", store.Payload{"k": "v"}); !errors.Is(err, store.ErrNotReady) {
		t.Fatalf("append: %v", err)
	}
	if _, err := c.ReadGroup(ctx, "s", "g", "c", 1, 0); !errors.Is(err, store.ErrNotReady) {
		t.Fatalf("read: %v", err)
	}
	if err := c.Ack(ctx, "s", "g", "1-0"); !errors.Is(err, store.ErrNotReady) {
		t.Fatalf("ack: %v", err)
	}
}

func TestDisconnectNeverFailsWhenAlreadyDown(t *testing.T) {
	c := NewClient(store.Config{Host: "127.0.0.1"})
	ctx := context.Background()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Fatalf("BUSYGROUP not absorbed")
	}
	if isBusyGroup(errors.New("ERR something else")) {
		t.Fatalf("unexpected absorption")
	}
}
