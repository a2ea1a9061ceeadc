package relay

import (
	"sync"

	"github.com/kamwali/realtime/internal/channel"
)

// subscriptions tracks the one live channel subscription per registered
// user. Replacing a user's subscription (re-register) unsubscribes the old
// one so the displaced connection stops receiving.
type subscriptions struct {
	mu   sync.Mutex
	byID map[string]channel.Subscription // userID -> subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byID: make(map[string]channel.Subscription)}
}

// replace installs sub as the user's subscription, unsubscribing any
// previous one.
func (s *subscriptions) replace(userID string, sub channel.Subscription) {
	s.mu.Lock()
	prev := s.byID[userID]
	s.byID[userID] = sub
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Unsubscribe()
	}
}

// remove drops and unsubscribes the user's subscription, if any.
func (s *subscriptions) remove(userID string) {
	s.mu.Lock()
	sub := s.byID[userID]
	delete(s.byID, userID)
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
}
