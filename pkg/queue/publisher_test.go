package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store/memory"
)

func sharedMemoryStore(t *testing.T) (*store.SharedStore, *memory.Client) {
	t.Helper()
	client := memory.NewClient()
	s := store.NewSharedStore(store.WithDialer(func(store.Config) store.Client { return client }))
	if err := s.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s, client
}

func TestPublishValidation(t *testing.T) {
	s, _ := sharedMemoryStore(t)
	p := NewPublisher(s)
	ctx := context.Background()

	if _, err := p.Publish(ctx, "  ", store.Payload{"k": "v"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("blank stream: %v", err)
	}
	if _, err := p.Publish(ctx, "Q1", nil); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("nil payload: %v", err)
	}
}

func TestPublishValidatesBeforeStoreCall(t *testing.T) {
	// Unconnected shared store: validation failures must win over
	// connection state.
	s := store.NewSharedStore(store.WithDialer(func(store.Config) store.Client { return memory.NewClient() }))
	p := NewPublisher(s)
	if _, err := p.Publish(context.Background(), "", store.Payload{"k": "v"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument before store call, got %v", err)
	}
}

func TestPublishReturnsStoreID(t *testing.T) {
	s, client := sharedMemoryStore(t)
	p := NewPublisher(s)
	ctx := context.Background()

	id, err := p.Publish(ctx, "Q1", store.Payload{"email": "a@x"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatalf("empty message id")
	}
	if client.StreamLen("Q1") != 1 {
		t.Fatalf("message not appended")
	}
}

func TestPublishOrderingKeyInjection(t *testing.T) {
	s, client := sharedMemoryStore(t)
	p := NewPublisher(s)
	ctx := context.Background()

	original := store.Payload{"v": "1"}
	if _, err := p.Publish(ctx, "Q1", original, WithOrderingKey("  K1  ")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// caller's payload is never mutated
	if _, ok := original[store.OrderingKeyField]; ok {
		t.Fatalf("caller payload mutated: %v", original)
	}

	_ = client.CreateGroup(ctx, "Q1", "g")
	if _, err := p.Publish(ctx, "Q1", store.Payload{"v": "2"}, WithOrderingKey("K1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs, _ := client.ReadGroup(ctx, "Q1", "g", "c", 10, 0)
	if len(msgs) != 1 {
		t.Fatalf("read: %v", msgs)
	}
	if msgs[0].Values[store.OrderingKeyField] != "K1" {
		t.Fatalf("ordering key not trimmed/injected: %v", msgs[0].Values)
	}
}

func TestPublishBlankOrderingKeyOmitsField(t *testing.T) {
	s, client := sharedMemoryStore(t)
	p := NewPublisher(s)
	ctx := context.Background()

	_ = client.CreateGroup(ctx, "Q1", "g")
	if _, err := p.Publish(ctx, "Q1", store.Payload{"v": "1"}, WithOrderingKey("   ")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs, _ := client.ReadGroup(ctx, "Q1", "g", "c", 1, 0)
	if len(msgs) != 1 {
		t.Fatalf("read: %v", msgs)
	}
	if _, ok := msgs[0].Values[store.OrderingKeyField]; ok {
		t.Fatalf("blank key must leave the field absent: %v", msgs[0].Values)
	}
}

func TestPublishPropagatesNotConnected(t *testing.T) {
	s := store.NewSharedStore(store.WithDialer(func(store.Config) store.Client { return memory.NewClient() }))
	p := NewPublisher(s)
	if _, err := p.Publish(context.Background(), "Q1", store.Payload{"k": "v"}); !errors.Is(err, store.ErrNotConnected) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
}
