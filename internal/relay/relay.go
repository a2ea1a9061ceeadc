// Package relay mediates chat messages between connected users. It owns the
// presence directory, enforces the moderation gate (block records) before
// delivery, and fans events out through per-user broadcast channels. The
// relay never persists messages; durable history is written by the REST API
// in a separate client-initiated call, with no transactional tie between the
// two paths.
package relay

import (
	"context"
	"log"
	"time"

	"github.com/kamwali/realtime/internal/channel"
	"github.com/kamwali/realtime/internal/metrics"
	"github.com/kamwali/realtime/internal/presence"
	"github.com/kamwali/realtime/internal/protocol"
)

// ErrorPolicy decides what happens when the moderation store cannot be
// consulted.
type ErrorPolicy string

const (
	// PolicyAllow delivers the message when the block lookup fails. This is
	// the default: a failing moderation store must not take chat down with
	// it. The cost is that blocking is silently disabled while the store is
	// unavailable; the fail-open counter makes that visible.
	PolicyAllow ErrorPolicy = "allow"

	// PolicyDeny suppresses the message when the block lookup fails.
	PolicyDeny ErrorPolicy = "deny"
)

// BlockedReason is the reason string carried by messageBlocked events when a
// block record exists. The mobile client matches on it.
const BlockedReason = "User blocked"

// deniedReason is used when PolicyDeny suppresses a message because the
// moderation store was unreachable.
const deniedReason = "Moderation check unavailable"

// BlockChecker is the moderation gate's view of the block store. Blocked
// must answer true if either user has blocked the other.
type BlockChecker interface {
	Blocked(ctx context.Context, userA, userB string) (bool, error)
}

// Limiter throttles message sends per sender. Implementations fail open.
type Limiter interface {
	Allow(ctx context.Context, senderID string) (bool, error)
}

// Conn is the subset of the transport connection the relay needs: an
// identity and a way to push bytes to the client.
type Conn interface {
	SessionID() string
	Send(data []byte) error
}

// OnlineMirror mirrors presence into an external store for REST lookups.
// All methods are advisory; errors are logged, never fatal.
type OnlineMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// Config holds relay tuning parameters.
type Config struct {
	OnModerationStoreError ErrorPolicy   // "allow" (default) or "deny"
	CheckTimeout           time.Duration // budget for the block lookup
	RateLimitRetryAfter    int           // seconds reported in rateLimited events
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		OnModerationStoreError: PolicyAllow,
		CheckTimeout:           3 * time.Second,
		RateLimitRetryAfter:    10,
	}
}

// Relay routes chat messages and lifecycle events between registered users.
// All state it owns (directory, channel subscriptions) is in-memory and
// rebuilt by clients re-registering after a restart.
type Relay struct {
	config  Config
	dir     *presence.Directory
	bus     channel.Bus
	blocks  BlockChecker
	limiter Limiter      // optional
	mirror  OnlineMirror // optional

	subs *subscriptions
}

// New creates a Relay. limiter and mirror may be nil to disable rate
// limiting and the online mirror.
func New(config Config, dir *presence.Directory, bus channel.Bus, blocks BlockChecker, limiter Limiter, mirror OnlineMirror) *Relay {
	switch config.OnModerationStoreError {
	case PolicyAllow, PolicyDeny:
	case "":
		config.OnModerationStoreError = PolicyAllow
	default:
		log.Printf("relay: unknown moderation error policy %q, using %q", config.OnModerationStoreError, PolicyAllow)
		config.OnModerationStoreError = PolicyAllow
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 3 * time.Second
	}
	return &Relay{
		config:  config,
		dir:     dir,
		bus:     bus,
		blocks:  blocks,
		limiter: limiter,
		mirror:  mirror,
		subs:    newSubscriptions(),
	}
}

// Directory exposes the presence directory for transport-layer callers
// (e.g. the heartbeat refreshing the online mirror).
func (r *Relay) Directory() *presence.Directory {
	return r.dir
}

// Register binds a connection to a user identity: it records the presence
// entry, subscribes the connection to the user's broadcast channel, and
// confirms back to the client. A later registration for the same user
// silently displaces the earlier connection's entry and subscription.
func (r *Relay) Register(ctx context.Context, conn Conn, userID string) {
	if userID == "" {
		log.Printf("relay: register with empty user id session=%s, dropped", conn.SessionID())
		return
	}

	connID := conn.SessionID()

	// If this connection was registered under a different identity, tear
	// that identity down first so its channel subscription doesn't leak.
	if prevUser, ok := r.dir.UserOf(connID); ok && prevUser != userID {
		r.subs.remove(prevUser)
		r.setOffline(ctx, prevUser)
	}

	displaced, wasDisplaced := r.dir.Register(userID, connID)
	if wasDisplaced {
		log.Printf("relay: user=%s re-registered, displacing session=%s", userID, displaced)
	}

	// (Re)subscribe the user's channel pointing at this connection. The
	// subscription writes every channel event straight down the socket.
	key := presence.ChannelFor(userID)
	sub, err := r.bus.Subscribe(key, func(data []byte) {
		if err := conn.Send(data); err != nil {
			log.Printf("relay: channel write failed user=%s session=%s: %v", userID, connID, err)
		}
	})
	if err != nil {
		log.Printf("relay: channel subscribe failed user=%s: %v", userID, err)
		// Leave the directory entry in place; REST-triggered events will be
		// lost for this user but direct state is still consistent.
	} else {
		r.subs.replace(userID, sub)
	}

	r.setOnline(ctx, userID)
	metrics.RegisteredUsers.Set(float64(r.dir.Len()))

	ack, err := protocol.NewServerMessage(protocol.TypeRegistered, protocol.RegisteredMsg{UserID: userID})
	if err == nil {
		if err := conn.Send(ack); err != nil {
			log.Printf("relay: registered ack failed user=%s: %v", userID, err)
		}
	}

	log.Printf("relay: registered user=%s session=%s (users=%d)", userID, connID, r.dir.Len())
}

// Disconnect releases everything held for a closing connection. Stale
// connections displaced by a re-register are a no-op here: the directory
// only releases an entry still owned by the disconnecting connection.
func (r *Relay) Disconnect(ctx context.Context, connID string) {
	userID, ok := r.dir.Unregister(connID)
	if !ok {
		return
	}

	r.subs.remove(userID)
	r.setOffline(ctx, userID)
	metrics.RegisteredUsers.Set(float64(r.dir.Len()))

	log.Printf("relay: unregistered user=%s session=%s (users=%d)", userID, connID, r.dir.Len())
}

// HandleMessage relays a single inbound chat message. The flow is
// fire-and-forget: malformed events are logged and dropped with no error
// surfaced to the client.
//
//  1. both participant ids must be present;
//  2. the sender is rate limited;
//  3. the block store is consulted symmetrically — on lookup failure the
//     configured policy applies, fail-open by default;
//  4. a blocked message yields exactly one messageBlocked to the sender;
//  5. a clear message is published verbatim to the receiver's channel and
//     echoed to the sender's own channel.
func (r *Relay) HandleMessage(ctx context.Context, msg protocol.SendMessageMsg) {
	start := time.Now()

	sender := msg.SenderID.String()
	receiver := msg.ReceiverID.String()
	if sender == "" || receiver == "" {
		log.Printf("relay: message missing participant ids (sender=%q receiver=%q), dropped", sender, receiver)
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, sender)
		if err != nil {
			log.Printf("relay: rate limit check failed sender=%s: %v (allowing)", sender, err)
			allowed = true
		}
		if !allowed {
			log.Printf("relay: rate limited sender=%s", sender)
			r.publishTyped(sender, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: r.config.RateLimitRetryAfter,
			})
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			return
		}
	}

	blocked := r.checkBlocked(ctx, sender, receiver)
	if blocked != "" {
		r.publishTyped(sender, protocol.TypeMessageBlocked, protocol.MessageBlockedMsg{
			Reason: blocked,
			Data:   msg.Raw,
		})
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		return
	}

	out, err := protocol.NewServerMessageRaw(protocol.TypeReceiveMessage, msg.Raw)
	if err != nil {
		log.Printf("relay: failed to build receiveMessage sender=%s: %v", sender, err)
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	// Receiver first, then the sender's self-echo. Delivery to an absent
	// channel is a silent no-op: there is no offline queue at this layer.
	if err := r.bus.Publish(presence.ChannelFor(receiver), out); err != nil {
		log.Printf("relay: deliver to receiver=%s failed: %v", receiver, err)
	}
	if err := r.bus.Publish(presence.ChannelFor(sender), out); err != nil {
		log.Printf("relay: self-echo to sender=%s failed: %v", sender, err)
	}

	metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	metrics.RelayLatency.Observe(time.Since(start).Seconds())
}

// checkBlocked consults the block store both directions. It returns the
// reason to report to the sender, or "" to deliver.
func (r *Relay) checkBlocked(ctx context.Context, sender, receiver string) string {
	checkCtx, cancel := context.WithTimeout(ctx, r.config.CheckTimeout)
	defer cancel()

	isBlocked, err := r.blocks.Blocked(checkCtx, sender, receiver)
	if err != nil {
		if r.config.OnModerationStoreError == PolicyDeny {
			log.Printf("relay: block lookup failed sender=%s receiver=%s: %v (policy=deny, suppressing)", sender, receiver, err)
			return deniedReason
		}
		log.Printf("relay: block lookup failed sender=%s receiver=%s: %v (policy=allow, delivering)", sender, receiver, err)
		metrics.ModerationFailOpen.Inc()
		return ""
	}
	if isBlocked {
		return BlockedReason
	}
	return ""
}

// publishTyped builds a typed server message and publishes it to the user's
// channel, logging on failure.
func (r *Relay) publishTyped(userID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("relay: failed to build %s for user=%s: %v", msgType, userID, err)
		return
	}
	if err := r.bus.Publish(presence.ChannelFor(userID), data); err != nil {
		log.Printf("relay: failed to publish %s to user=%s: %v", msgType, userID, err)
	}
}

func (r *Relay) setOnline(ctx context.Context, userID string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.SetOnline(ctx, userID); err != nil {
		log.Printf("relay: online mirror set failed user=%s: %v", userID, err)
	}
}

func (r *Relay) setOffline(ctx context.Context, userID string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.SetOffline(ctx, userID); err != nil {
		log.Printf("relay: online mirror clear failed user=%s: %v", userID, err)
	}
}
