package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
)

// PostgresSubscriptionStore implements webhookdelivery.SubscriptionLookup
// against the webhook_subscriptions table.
type PostgresSubscriptionStore struct {
	db *sql.DB
}

// NewPostgresSubscriptionStore wraps an already-opened database handle.
func NewPostgresSubscriptionStore(db *sql.DB) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{db: db}
}

// GetSubscription implements webhookdelivery.SubscriptionLookup.
func (s *PostgresSubscriptionStore) GetSubscription(ctx context.Context, subscriptionID string) (*webhook.Subscription, error) {
	var (
		sub        webhook.Subscription
		eventTypes pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, url, event_types, active, hmac_secret,
		       max_retries, retry_base_seconds, description, created_at
		FROM webhook_subscriptions WHERE id = $1`, subscriptionID).Scan(
		&sub.ID, &sub.OrganizationID, &sub.URL, &eventTypes, &sub.Active, &sub.HMACSecret,
		&sub.MaxRetries, &sub.RetryBaseSeconds, &sub.Description, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get subscription: %w", err)
	}

	sub.EventTypeSet = make(map[string]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		sub.EventTypeSet[et] = struct{}{}
	}
	return &sub, nil
}

// ByOrganization returns every active subscription registered for orgID
// that wants eventType.
func (s *PostgresSubscriptionStore) ByOrganization(ctx context.Context, orgID, eventType string) ([]*webhook.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, url, event_types, active, hmac_secret,
		       max_retries, retry_base_seconds, description, created_at
		FROM webhook_subscriptions WHERE organization_id = $1 AND active = true`, orgID)
	if err != nil {
		return nil, fmt.Errorf("storage: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*webhook.Subscription
	for rows.Next() {
		var (
			sub        webhook.Subscription
			eventTypes pq.StringArray
		)
		if err := rows.Scan(&sub.ID, &sub.OrganizationID, &sub.URL, &eventTypes, &sub.Active, &sub.HMACSecret,
			&sub.MaxRetries, &sub.RetryBaseSeconds, &sub.Description, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan subscription: %w", err)
		}
		sub.EventTypeSet = make(map[string]struct{}, len(eventTypes))
		for _, et := range eventTypes {
			sub.EventTypeSet[et] = struct{}{}
		}
		if sub.WantsEvent(eventType) {
			out = append(out, &sub)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list subscriptions: %w", err)
	}
	return out, nil
}

var _ interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*webhook.Subscription, error)
} = (*PostgresSubscriptionStore)(nil)
