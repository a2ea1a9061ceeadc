package channel

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kamwali/realtime/internal/presence"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "kamwali-realtime",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATSBus is a Bus backed by NATS subjects. Channel keys map directly to
// subjects, so a user's channel is reachable from any process connected to
// the same NATS cluster — the API server publishes block/report/KYC events
// and whichever relay node holds the user's connection delivers them.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus connects to NATS with the given config and returns a ready bus.
// It returns an error if the initial connection fails.
func NewNATSBus(config NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("channel: nats disconnected: %v", err)
			} else {
				log.Printf("channel: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("channel: nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("channel: nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("channel: nats connect: %w", err)
	}

	log.Printf("channel: connected to nats at %s", nc.ConnectedUrl())
	return &NATSBus{conn: nc}, nil
}

// Publish sends data to the subject named by key.
func (b *NATSBus) Publish(key presence.ChannelKey, data []byte) error {
	if err := b.conn.Publish(string(key), data); err != nil {
		return fmt.Errorf("channel: nats publish %s: %w", key, err)
	}
	return nil
}

// Subscribe registers a handler for the subject named by key.
func (b *NATSBus) Subscribe(key presence.ChannelKey, fn func(data []byte)) (Subscription, error) {
	sub, err := b.conn.Subscribe(string(key), func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("channel: nats subscribe %s: %w", key, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains the NATS connection, flushing pending messages.
func (b *NATSBus) Close() {
	if err := b.conn.Drain(); err != nil {
		log.Printf("channel: nats drain: %v", err)
	}
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("channel: nats unsubscribe: %w", err)
	}
	return nil
}
