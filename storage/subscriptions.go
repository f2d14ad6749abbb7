package storage

import (
	"context"
	"sync"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
)

// InMemorySubscriptionStore is a process-local webhook subscription registry,
// used by tests and by webhookworker when no Postgres DSN is configured.
type InMemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*webhook.Subscription
}

// NewInMemorySubscriptionStore constructs an empty store.
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{subs: make(map[string]*webhook.Subscription)}
}

// Save upserts a subscription.
func (s *InMemorySubscriptionStore) Save(ctx context.Context, sub *webhook.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return nil
}

// GetSubscription implements webhookdelivery.SubscriptionLookup.
func (s *InMemorySubscriptionStore) GetSubscription(ctx context.Context, subscriptionID string) (*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[subscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

// ByOrganization returns every subscription registered for orgID that wants
// eventType, used by the trigger path to fan an event out into deliveries.
func (s *InMemorySubscriptionStore) ByOrganization(ctx context.Context, orgID, eventType string) ([]*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*webhook.Subscription
	for _, sub := range s.subs {
		if sub.OrganizationID == orgID && sub.WantsEvent(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}
