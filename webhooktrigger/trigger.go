// Package webhooktrigger subscribes the domain event bus to the Webhook
// Delivery Subsystem: every requirement/availability/risk-status event is
// fanned out to each tenant subscription that wants it, and enqueued onto
// that tenant's priority queue for the delivery worker pool to drain.
package webhooktrigger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
	"github.com/rnrlcrm/tradedesk/internal/events"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/webhookqueue"
)

// SubscriptionSource resolves which subscriptions within an organization
// want a given event type.
type SubscriptionSource interface {
	ByOrganization(ctx context.Context, orgID, eventType string) ([]*webhook.Subscription, error)
}

// OrganizationResolver extracts the owning organization id from an event
// payload — the bus itself is organization-agnostic, so each subscribed
// event name needs its own projection.
type OrganizationResolver func(payload any) (orgID string, ok bool)

// Trigger wires domain events to subscription fan-out and enqueue. Each
// registered event name carries its own OrganizationResolver, since
// requirement.created and availability.created payloads resolve their
// owning organization differently (buyer vs. seller).
type Trigger struct {
	subs  SubscriptionSource
	queue *webhookqueue.Queue
	log   *logging.Logger
}

// New constructs a Trigger.
func New(subs SubscriptionSource, queue *webhookqueue.Queue, log *logging.Logger) *Trigger {
	return &Trigger{subs: subs, queue: queue, log: log}
}

// Register subscribes the trigger's handler to eventType on bus, using
// resolver to project the event's organization id out of its payload.
func (t *Trigger) Register(bus *events.Bus, eventType string, resolver OrganizationResolver) {
	bus.Subscribe(eventType, func(ctx context.Context, payload any) error {
		return t.handle(ctx, eventType, payload, resolver)
	})
}

func (t *Trigger) handle(ctx context.Context, eventType string, payload any, resolver OrganizationResolver) error {
	orgID, ok := resolver(payload)
	if !ok {
		t.log.WithFields(map[string]interface{}{"event_type": eventType}).Debug("webhooktrigger: no organization resolved, skipping")
		return nil
	}

	subs, err := t.subs.ByOrganization(ctx, orgID, eventType)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(webhook.Event{
		ID:             uuid.NewString(),
		EventType:      eventType,
		Timestamp:      time.Now(),
		Data:           toMap(payload),
		OrganizationID: orgID,
	})
	if err != nil {
		return err
	}

	for _, sub := range subs {
		maxAttempts := sub.MaxRetries
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		delivery := &webhook.Delivery{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			OrganizationID: orgID,
			EventID:        eventType,
			Priority:       webhook.PriorityNormal,
			Status:         webhook.StatusPending,
			MaxAttempts:    maxAttempts,
			URL:            sub.URL,
			Body:           body,
			CreatedAt:      time.Now(),
		}
		t.queue.Enqueue(orgID, delivery.Priority, delivery)
	}
	return nil
}

// toMap best-effort projects a payload into a JSON-friendly map for the
// webhook body; payloads that don't marshal to an object are wrapped under
// "value" rather than dropped.
func toMap(payload any) map[string]any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return map[string]any{"value": json.RawMessage(raw)}
}
