package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// OnlinePrefix is the Redis key prefix for online-status entries.
	OnlinePrefix = "online:"

	// OnlineTTL is how long an online entry lives without a refresh. The
	// relay refreshes it on every heartbeat sweep, so an entry that expires
	// means the user's server died without cleaning up.
	OnlineTTL = 2 * time.Minute
)

// Mirror publishes online/offline status to Redis so the REST API can answer
// availability lookups without talking to the relay. The in-process
// Directory stays authoritative for delivery decisions; the mirror is
// advisory and every write failure is survivable.
type Mirror struct {
	client *redis.Client
	server string // identifier of this relay instance
}

// NewMirror creates a Mirror using the provided Redis client. The server
// name is stored with each entry so operators can tell which relay node
// holds a user's connection.
func NewMirror(client *redis.Client, server string) *Mirror {
	return &Mirror{client: client, server: server}
}

// SetOnline marks a user online with the standard TTL.
func (m *Mirror) SetOnline(ctx context.Context, userID string) error {
	key := OnlinePrefix + userID
	if err := m.client.Set(ctx, key, m.server, OnlineTTL).Err(); err != nil {
		return fmt.Errorf("presence: set online %s: %w", userID, err)
	}
	return nil
}

// Refresh extends the TTL on a user's online entry. Called from the
// heartbeat sweep for every live registered connection.
func (m *Mirror) Refresh(ctx context.Context, userID string) error {
	key := OnlinePrefix + userID
	if err := m.client.Expire(ctx, key, OnlineTTL).Err(); err != nil {
		return fmt.Errorf("presence: refresh %s: %w", userID, err)
	}
	return nil
}

// SetOffline removes a user's online entry.
func (m *Mirror) SetOffline(ctx context.Context, userID string) error {
	key := OnlinePrefix + userID
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("presence: set offline %s: %w", userID, err)
	}
	return nil
}

// IsOnline reports whether a user currently has a live entry, and which
// relay instance holds the connection.
func (m *Mirror) IsOnline(ctx context.Context, userID string) (bool, string, error) {
	key := OnlinePrefix + userID
	server, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("presence: is online %s: %w", userID, err)
	}
	return true, server, nil
}
