package storage

import (
	"context"
	"testing"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
)

func newTestSubscription(id, orgID string, eventTypes ...string) *webhook.Subscription {
	set := make(map[string]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		set[et] = struct{}{}
	}
	return &webhook.Subscription{
		ID:             id,
		OrganizationID: orgID,
		URL:            "https://example.test/hook",
		EventTypeSet:   set,
		Active:         true,
		MaxRetries:     3,
	}
}

func TestInMemorySubscriptionStore_GetSubscription(t *testing.T) {
	s := NewInMemorySubscriptionStore()
	sub := newTestSubscription("sub-1", "org-1", "requirement.created")
	if err := s.Save(context.Background(), sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetSubscription(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OrganizationID != "org-1" {
		t.Fatalf("expected org-1, got %s", got.OrganizationID)
	}
}

func TestInMemorySubscriptionStore_GetSubscription_NotFound(t *testing.T) {
	s := NewInMemorySubscriptionStore()
	if _, err := s.GetSubscription(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemorySubscriptionStore_ByOrganization_FiltersByEventAndActive(t *testing.T) {
	s := NewInMemorySubscriptionStore()
	wants := newTestSubscription("sub-wants", "org-1", "requirement.created")
	other := newTestSubscription("sub-other-event", "org-1", "availability.created")
	otherOrg := newTestSubscription("sub-other-org", "org-2", "requirement.created")
	inactive := newTestSubscription("sub-inactive", "org-1", "requirement.created")
	inactive.Active = false

	for _, sub := range []*webhook.Subscription{wants, other, otherOrg, inactive} {
		if err := s.Save(context.Background(), sub); err != nil {
			t.Fatalf("save %s: %v", sub.ID, err)
		}
	}

	got, err := s.ByOrganization(context.Background(), "org-1", "requirement.created")
	if err != nil {
		t.Fatalf("by organization: %v", err)
	}
	if len(got) != 1 || got[0].ID != "sub-wants" {
		t.Fatalf("expected only sub-wants, got %v", got)
	}
}
