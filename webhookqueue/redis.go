package webhookqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
	"github.com/rnrlcrm/tradedesk/internal/logging"
)

// RedisPersister mirrors queue and DLQ writes into Redis lists, keyed
// exactly as the original service did: webhook:queue:<org>:<priority> and
// webhook:dlq:<org>. It exists purely for durability across worker
// restarts — the in-memory Queue remains the source of truth for dequeue
// ordering within a running process.
type RedisPersister struct {
	client *redis.Client
	log    *logging.Logger
}

// NewRedisPersister wraps an existing *redis.Client.
func NewRedisPersister(client *redis.Client, log *logging.Logger) *RedisPersister {
	return &RedisPersister{client: client, log: log}
}

func queueKey(orgID string, priority webhook.Priority) string {
	return fmt.Sprintf("webhook:queue:%s:%s", orgID, string(priority))
}

func dlqKey(orgID string) string {
	return fmt.Sprintf("webhook:dlq:%s", orgID)
}

// PersistQueued best-effort pushes d onto its organization/priority list.
// A Redis error is logged and swallowed — queueing must never fail because
// durability is unavailable.
func (p *RedisPersister) PersistQueued(orgID string, priority webhook.Priority, d *webhook.Delivery) {
	payload, err := json.Marshal(d)
	if err != nil {
		p.log.WithError(err).Error("webhookqueue: failed to marshal delivery for redis persistence")
		return
	}
	ctx := context.Background()
	if err := p.client.LPush(ctx, queueKey(orgID, priority), payload).Err(); err != nil {
		p.log.WithError(err).WithFields(map[string]interface{}{"organization_id": orgID}).Warn("webhookqueue: redis persist failed")
	}
}

// PersistDLQ best-effort pushes d onto its organization's dead-letter list.
func (p *RedisPersister) PersistDLQ(orgID string, d *webhook.Delivery) {
	payload, err := json.Marshal(d)
	if err != nil {
		p.log.WithError(err).Error("webhookqueue: failed to marshal dlq delivery for redis persistence")
		return
	}
	ctx := context.Background()
	if err := p.client.LPush(ctx, dlqKey(orgID), payload).Err(); err != nil {
		p.log.WithError(err).WithFields(map[string]interface{}{"organization_id": orgID}).Warn("webhookqueue: redis dlq persist failed")
	}
}
