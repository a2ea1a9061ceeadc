package channel

import (
	"testing"

	"github.com/kamwali/realtime/internal/presence"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	key := presence.ChannelFor("u1")

	var got [][]byte
	sub, err := bus.Subscribe(key, func(data []byte) {
		got = append(got, data)
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := bus.Publish(key, []byte("one")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := bus.Publish(key, []byte("two")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if len(got) != 2 || string(got[0]) != "one" || string(got[1]) != "two" {
		t.Fatalf("expected [one two], got %q", got)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
	if err := bus.Publish(key, []byte("three")); err != nil {
		t.Fatalf("Publish() after unsubscribe error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected no delivery after unsubscribe, got %d messages", len(got))
	}
}

func TestMemoryBusPublishToEmptyChannel(t *testing.T) {
	bus := NewMemoryBus()

	// Nobody registered: a successful no-op, not an error.
	if err := bus.Publish(presence.ChannelFor("ghost"), []byte("x")); err != nil {
		t.Fatalf("expected no error publishing to empty channel, got %v", err)
	}
}

func TestMemoryBusChannelsAreIsolated(t *testing.T) {
	bus := NewMemoryBus()

	var u1Got, u2Got int
	bus.Subscribe(presence.ChannelFor("u1"), func([]byte) { u1Got++ })
	bus.Subscribe(presence.ChannelFor("u2"), func([]byte) { u2Got++ })

	bus.Publish(presence.ChannelFor("u1"), []byte("x"))

	if u1Got != 1 || u2Got != 0 {
		t.Errorf("expected u1=1 u2=0, got u1=%d u2=%d", u1Got, u2Got)
	}
}

func TestMemoryBusDoubleUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	sub, _ := bus.Subscribe(presence.ChannelFor("u1"), func([]byte) {})

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("first Unsubscribe() error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe() error: %v", err)
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus()
	bus.Subscribe(presence.ChannelFor("u1"), func([]byte) {
		t.Error("handler must not fire after Close")
	})
	bus.Close()

	if err := bus.Publish(presence.ChannelFor("u1"), []byte("x")); err == nil {
		t.Error("expected error publishing on closed bus")
	}
	if _, err := bus.Subscribe(presence.ChannelFor("u1"), func([]byte) {}); err == nil {
		t.Error("expected error subscribing on closed bus")
	}
}
