package webhooktrigger

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
	"github.com/rnrlcrm/tradedesk/internal/events"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/internal/metrics"
	"github.com/rnrlcrm/tradedesk/webhookqueue"
)

type fixedSubs struct {
	subs []*webhook.Subscription
}

func (f fixedSubs) ByOrganization(ctx context.Context, orgID, eventType string) ([]*webhook.Subscription, error) {
	var out []*webhook.Subscription
	for _, s := range f.subs {
		if s.OrganizationID == orgID && s.WantsEvent(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

type requirementCreatedPayload struct {
	OrganizationID string
	RequirementID  string
}

func orgFromRequirementCreated(payload any) (string, bool) {
	p, ok := payload.(requirementCreatedPayload)
	if !ok {
		return "", false
	}
	return p.OrganizationID, true
}

func testLogger() *logging.Logger { return logging.New("webhooktrigger-test", "error", "text") }
func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry("webhooktrigger-test", prometheus.NewRegistry())
}

func TestTrigger_FansOutToEachWantingSubscription(t *testing.T) {
	subs := fixedSubs{subs: []*webhook.Subscription{
		{ID: "sub-1", OrganizationID: "org-1", Active: true, EventTypeSet: map[string]struct{}{events.RequirementCreated: {}}, URL: "https://example.test/a"},
		{ID: "sub-2", OrganizationID: "org-1", Active: true, EventTypeSet: map[string]struct{}{events.RequirementCreated: {}}, URL: "https://example.test/b"},
		{ID: "sub-3", OrganizationID: "org-2", Active: true, EventTypeSet: map[string]struct{}{events.RequirementCreated: {}}, URL: "https://example.test/c"},
	}}
	queue := webhookqueue.New(webhookqueue.DefaultConfig(), webhookqueue.NoopPersister{}, testLogger(), testMetrics(), "test")
	tr := New(subs, queue, testLogger())
	bus := events.NewBus()
	tr.Register(bus, events.RequirementCreated, orgFromRequirementCreated)

	if err := bus.Publish(context.Background(), events.RequirementCreated, requirementCreatedPayload{OrganizationID: "org-1", RequirementID: "req-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if d := queue.Dequeue("org-1"); d == nil {
		t.Fatal("expected a delivery enqueued for sub-1 or sub-2")
	}
	if d := queue.Dequeue("org-1"); d == nil {
		t.Fatal("expected a second delivery enqueued")
	}
	if d := queue.Dequeue("org-2"); d != nil {
		t.Fatal("org-2 should not have received a delivery")
	}
}

func TestTrigger_SkipsWhenResolverFindsNoOrganization(t *testing.T) {
	subs := fixedSubs{}
	queue := webhookqueue.New(webhookqueue.DefaultConfig(), webhookqueue.NoopPersister{}, testLogger(), testMetrics(), "test")
	tr := New(subs, queue, testLogger())
	bus := events.NewBus()
	tr.Register(bus, events.RequirementCreated, func(payload any) (string, bool) { return "", false })

	if err := bus.Publish(context.Background(), events.RequirementCreated, "unrelated payload"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if d := queue.Dequeue("org-1"); d != nil {
		t.Fatal("expected nothing enqueued")
	}
}
