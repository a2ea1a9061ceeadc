// Package presence tracks which WebSocket connection currently represents
// which user identity. The directory is purely in-memory: a process restart
// loses all entries and clients re-register on reconnect. A Redis mirror of
// online status lives alongside it for REST lookups (see mirror.go).
package presence

import "sync"

// ChannelKey names the per-user broadcast channel. With NATS as the bus it
// is the subject the user's events are published on.
type ChannelKey string

// channelPrefix is the namespace for per-user channels.
const channelPrefix = "notify.user."

// ChannelFor returns the broadcast channel key for a user id. Ids are
// already coerced to strings at protocol decode time; this is the single
// place channel names are derived, so numeric/string id drift cannot split
// a user across two channels.
func ChannelFor(userID string) ChannelKey {
	return ChannelKey(channelPrefix + userID)
}

// Directory is a goroutine-safe registry mapping user ids to their single
// active connection. It is an injectable service object, not a package
// singleton, so tests can run independent directories.
//
// Invariant: at most one connection id per user. A later Register for the
// same user silently displaces the earlier connection; the displaced id is
// returned so the caller can tear down its channel subscription.
type Directory struct {
	mu      sync.RWMutex
	byUser  map[string]string // userID -> connID
	byConn  map[string]string // connID -> userID (reverse index)
}

// NewDirectory returns an empty Directory ready for use.
func NewDirectory() *Directory {
	return &Directory{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register records connID as the active connection for userID, overwriting
// any previous entry. It returns the displaced connection id, if any. If the
// same connection was previously registered under a different user, that
// stale reverse entry is cleaned up too.
func (d *Directory) Register(userID, connID string) (displaced string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, exists := d.byUser[userID]; exists && prev != connID {
		delete(d.byConn, prev)
		displaced = prev
		ok = true
	}
	if prevUser, exists := d.byConn[connID]; exists && prevUser != userID {
		delete(d.byUser, prevUser)
	}

	d.byUser[userID] = connID
	d.byConn[connID] = userID
	return displaced, ok
}

// Unregister removes the entry owned by connID and returns the user it
// represented. The reverse index makes this O(1) rather than a scan over
// every entry. A connection that never registered is a no-op.
func (d *Directory) Unregister(connID string) (userID string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, ok = d.byConn[connID]
	if !ok {
		return "", false
	}
	delete(d.byConn, connID)

	// Only remove the forward entry if it still points at this connection.
	// A re-register may already have replaced it.
	if d.byUser[userID] == connID {
		delete(d.byUser, userID)
	}
	return userID, true
}

// Lookup returns the active connection id for a user, if any.
func (d *Directory) Lookup(userID string) (connID string, ok bool) {
	d.mu.RLock()
	connID, ok = d.byUser[userID]
	d.mu.RUnlock()
	return connID, ok
}

// UserOf returns the user id registered on a connection, if any.
func (d *Directory) UserOf(connID string) (userID string, ok bool) {
	d.mu.RLock()
	userID, ok = d.byConn[connID]
	d.mu.RUnlock()
	return userID, ok
}

// Len returns the number of registered users.
func (d *Directory) Len() int {
	d.mu.RLock()
	n := len(d.byUser)
	d.mu.RUnlock()
	return n
}
