package relay

import (
	"log"

	"github.com/kamwali/realtime/internal/channel"
	"github.com/kamwali/realtime/internal/metrics"
	"github.com/kamwali/realtime/internal/presence"
	"github.com/kamwali/realtime/internal/protocol"
)

// Broadcaster delivers out-of-band lifecycle events (block, report, KYC
// verification) to a user's live connection through their broadcast channel.
// It decouples the originating HTTP request from real-time delivery: every
// failure path logs and returns, nothing propagates into the caller's
// request/response cycle. Notifying a user with no live connection is a
// successful no-op.
type Broadcaster struct {
	bus channel.Bus
}

// NewBroadcaster creates a Broadcaster on the given bus. A nil bus yields a
// Broadcaster whose Notify calls log and do nothing, covering the window
// before transport initialization.
func NewBroadcaster(bus channel.Bus) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// Notify publishes a typed event to the target user's channel, best-effort.
func (b *Broadcaster) Notify(targetUserID, eventName string, payload interface{}) {
	if b == nil || b.bus == nil {
		log.Printf("relay: broadcaster not initialized, dropping %s for user=%s", eventName, targetUserID)
		return
	}
	if targetUserID == "" {
		log.Printf("relay: notify %s with empty user id, dropped", eventName)
		return
	}

	data, err := protocol.NewServerMessage(eventName, payload)
	if err != nil {
		log.Printf("relay: failed to build %s for user=%s: %v", eventName, targetUserID, err)
		return
	}

	if err := b.bus.Publish(presence.ChannelFor(targetUserID), data); err != nil {
		log.Printf("relay: failed to publish %s to user=%s: %v", eventName, targetUserID, err)
		return
	}

	metrics.NotificationsTotal.WithLabelValues(eventName).Inc()
}
