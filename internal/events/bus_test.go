package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kolibri-omega/kolibri-studio/internal/redisx"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func publish(t *testing.T, bus *Bus, evt Event) {
	t.Helper()
	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestPublishFillsDefaults(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe(context.Background())
	defer cancel()

	publish(t, bus, Event{Type: "state", Session: "s1"})
	evt := receive(t, ch)
	if evt.ID == "" {
		t.Fatalf("expected generated id")
	}
	if evt.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
	if evt.Type != "state" {
		t.Fatalf("expected type state got %s", evt.Type)
	}
	if evt.Origin != bus.origin {
		t.Fatalf("expected origin %s got %s", bus.origin, evt.Origin)
	}
}

func TestSubscribeSessionFilters(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.SubscribeSession(context.Background(), "wanted")
	defer cancel()

	publish(t, bus, Event{Type: "log", Session: "other"})
	publish(t, bus, Event{Type: "result", Session: "wanted"})

	evt := receive(t, ch)
	if evt.Session != "wanted" || evt.Type != "result" {
		t.Fatalf("expected result for session wanted got %+v", evt)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestCancelClosesSubscription(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe := bus.Subscribe(ctx)
	if n := bus.Subscribers(); n != 1 {
		t.Fatalf("expected 1 subscriber got %d", n)
	}

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for bus.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed, still have %d", bus.Subscribers())
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected subscription channel to be closed")
	}
	unsubscribe()
}

func TestBacklogDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{Buffer: 1})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		publish(t, bus, Event{Type: "log"})
	}
	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered event got %d", len(ch))
	}
}

func TestRedisFanOutSkipsOwnEcho(t *testing.T) {
	addr := os.Getenv("KOLIBRI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KOLIBRI_TEST_REDIS_ADDR not set")
	}
	client, err := redisx.NewClient(redisx.Config{Addr: addr})
	if err != nil {
		t.Fatalf("failed to connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	channel := "kolibri-test-" + time.Now().Format("150405.000000")
	a := NewBus(Options{Client: client, Channel: channel})
	b := NewBus(Options{Client: client, Channel: channel})
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	local, cancelLocal := a.Subscribe(context.Background())
	defer cancelLocal()
	remote, cancelRemote := b.Subscribe(context.Background())
	defer cancelRemote()
	time.Sleep(100 * time.Millisecond)

	publish(t, a, Event{Type: "complete", Session: "s"})
	if got := receive(t, local).Type; got != "complete" {
		t.Fatalf("expected local complete got %s", got)
	}
	if got := receive(t, remote).Type; got != "complete" {
		t.Fatalf("expected remote complete got %s", got)
	}

	time.Sleep(100 * time.Millisecond)
	if len(local) != 0 {
		t.Fatalf("expected no echoed event, got %d queued", len(local))
	}
}
