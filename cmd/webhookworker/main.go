// Command webhookworker is the composition root for the Webhook Delivery
// Subsystem: it wires the per-tenant priority queue, the retry scheduler,
// the HMAC-signing HTTP delivery pool, and the event-bus trigger that turns
// domain events into queued deliveries, then serves the ambient ops mux.
//
// The trigger and the delivery pool share a single in-process event bus and
// queue here. A multi-process deployment would back the queue's Persister
// with go-redis (see webhookqueue.RedisPersister) and publish domain events
// over Redis pub/sub instead of the in-process bus; that transport is out
// of scope for this composition root.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/rnrlcrm/tradedesk/internal/config"
	"github.com/rnrlcrm/tradedesk/internal/events"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/internal/metrics"
	"github.com/rnrlcrm/tradedesk/internal/opsmux"
	"github.com/rnrlcrm/tradedesk/internal/runtime"
	"github.com/rnrlcrm/tradedesk/matching"
	"github.com/rnrlcrm/tradedesk/matchservice"
	"github.com/rnrlcrm/tradedesk/storage"
	"github.com/rnrlcrm/tradedesk/webhookdelivery"
	"github.com/rnrlcrm/tradedesk/webhooktrigger"
	"github.com/rnrlcrm/tradedesk/webhookqueue"
)

const serviceName = "webhookworker"

func main() {
	log := logging.NewFromEnv(serviceName)
	met := metrics.New(serviceName)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, parties, subs, closeDB := buildStorage(ctx, log)
	if closeDB != nil {
		defer closeDB()
	}

	persister := buildPersister(log)
	queue := webhookqueue.New(buildQueueConfig(), persister, log, met, serviceName)
	queue.StartRetryScheduler()
	defer queue.Stop()

	pool := webhookdelivery.NewPool(buildDeliveryConfig(), &http.Client{}, queue, subs, log, met)
	pool.Start(ctx)
	defer pool.Stop()

	bus := events.NewBus()
	tr := webhooktrigger.New(subs, queue, log)
	tr.Register(bus, events.RequirementCreated, buyerOrganizationResolver(ctx, gw, parties))
	tr.Register(bus, events.AvailabilityCreated, sellerOrganizationResolver(ctx, gw, parties))
	tr.Register(bus, events.RiskStatusChanged, riskStatusOrganizationResolver(ctx, gw, parties))

	mux := opsmux.New(config.GetEnv("WEBHOOKWORKER_ADDR", ":8082"), log, nil)
	mux.Route("/debug/webhooks/{org}/stats", func(w http.ResponseWriter, r *http.Request) {
		org := chi.URLParam(r, "org")
		pool.Watch(org)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(queue.Stats(org))
	})

	go func() {
		if err := mux.Start(); err != nil {
			log.WithError(err).Error("webhookworker: ops mux stopped")
		}
	}()

	<-ctx.Done()
	log.WithFields(map[string]interface{}{}).Info("webhookworker: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = mux.Shutdown(shutdownCtx)
}

// subscriptionStore is the narrow surface webhookworker needs: both the
// delivery pool's SubscriptionLookup and the trigger's SubscriptionSource.
type subscriptionStore interface {
	webhookdelivery.SubscriptionLookup
	webhooktrigger.SubscriptionSource
}

// buildStorage wires the Postgres-backed gateway/party/subscription stores,
// or, when DATABASE_URL is unset, their in-memory equivalents.
func buildStorage(ctx context.Context, log *logging.Logger) (storage.Gateway, matching.PartyLookup, subscriptionStore, func()) {
	dsn := config.GetEnv("DATABASE_URL", "")
	if strings.TrimSpace(dsn) == "" {
		log.WithFields(map[string]interface{}{}).Info("webhookworker: DATABASE_URL unset, using in-memory storage")
		mem := storage.NewInMemoryGateway()
		return mem, mem, storage.NewInMemorySubscriptionStore(), nil
	}

	sqlxDB, err := storage.Open(ctx, dsn)
	if err != nil {
		log.WithError(err).Error("webhookworker: postgres open failed, falling back to in-memory")
		mem := storage.NewInMemoryGateway()
		return mem, mem, storage.NewInMemorySubscriptionStore(), nil
	}
	rawDB := sqlxDB.DB
	gw := storage.NewPostgresGateway(sqlxDB)
	partyStore := storage.NewPostgresPartyStore(rawDB)
	subs := storage.NewPostgresSubscriptionStore(rawDB)
	return gw, partyStore, subs, func() { _ = sqlxDB.Close() }
}

// buildQueueConfig starts from webhookqueue's defaults and applies
// WEBHOOK_* env overrides via internal/runtime's Resolve helpers, so an
// operator can tune retry behavior per deployment without a redeploy.
func buildQueueConfig() webhookqueue.Config {
	cfg := webhookqueue.DefaultConfig()
	cfg.MaxRetries = runtime.ResolveInt(0, "WEBHOOK_MAX_RETRIES", cfg.MaxRetries)
	cfg.BaseRetryDelay = runtime.ResolveDuration(0, "WEBHOOK_BASE_RETRY_DELAY", cfg.BaseRetryDelay)
	cfg.MaxRetryDelay = runtime.ResolveDuration(0, "WEBHOOK_MAX_RETRY_DELAY", cfg.MaxRetryDelay)
	return cfg
}

// buildDeliveryConfig starts from webhookdelivery's defaults and applies
// WEBHOOK_* env overrides the same way buildQueueConfig does.
func buildDeliveryConfig() webhookdelivery.Config {
	cfg := webhookdelivery.DefaultConfig()
	cfg.RequestTimeout = runtime.ResolveDuration(0, "WEBHOOK_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.Workers = runtime.ResolveInt(0, "WEBHOOK_WORKERS", cfg.Workers)
	return cfg
}

// buildPersister wires go-redis as the best-effort queue/DLQ persistence
// backend when REDIS_URL is set, per the "Deliveries are also persisted"
// requirement; the in-memory queue stays the source of truth for dequeue
// order either way.
func buildPersister(log *logging.Logger) webhookqueue.Persister {
	redisURL := config.GetEnv("REDIS_URL", "")
	if strings.TrimSpace(redisURL) == "" {
		return webhookqueue.NoopPersister{}
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Error("webhookworker: redis persister disabled, invalid REDIS_URL")
		return webhookqueue.NoopPersister{}
	}
	return webhookqueue.NewRedisPersister(redis.NewClient(opts), log)
}

// buyerOrganizationResolver projects a requirement.created event's
// aggregate id into its buyer's organization id.
func buyerOrganizationResolver(ctx context.Context, gw storage.Gateway, parties matching.PartyLookup) webhooktrigger.OrganizationResolver {
	return func(payload any) (string, bool) {
		evt, ok := payload.(events.DomainEvent)
		if !ok || evt.AggregateID == "" {
			return "", false
		}
		req, err := gw.GetRequirement(ctx, evt.AggregateID, false)
		if err != nil {
			return "", false
		}
		return organizationOf(ctx, parties, req.BuyerID)
	}
}

// sellerOrganizationResolver projects an availability.created event's
// aggregate id into its seller's organization id.
func sellerOrganizationResolver(ctx context.Context, gw storage.Gateway, parties matching.PartyLookup) webhooktrigger.OrganizationResolver {
	return func(payload any) (string, bool) {
		evt, ok := payload.(events.DomainEvent)
		if !ok || evt.AggregateID == "" {
			return "", false
		}
		avail, err := gw.GetAvailability(ctx, evt.AggregateID, false)
		if err != nil {
			return "", false
		}
		return organizationOf(ctx, parties, avail.SellerID)
	}
}

// riskStatusOrganizationResolver prefers the requirement side of a
// risk_status.changed payload, falling back to the availability side.
func riskStatusOrganizationResolver(ctx context.Context, gw storage.Gateway, parties matching.PartyLookup) webhooktrigger.OrganizationResolver {
	reqResolver := buyerOrganizationResolver(ctx, gw, parties)
	availResolver := sellerOrganizationResolver(ctx, gw, parties)
	return func(payload any) (string, bool) {
		evt, ok := payload.(events.DomainEvent)
		if !ok {
			return "", false
		}
		rp, ok := evt.Payload.(matchservice.RiskStatusChangedPayload)
		if !ok {
			return "", false
		}
		if rp.RequirementID != "" {
			return reqResolver(events.DomainEvent{AggregateID: rp.RequirementID})
		}
		if rp.AvailabilityID != "" {
			return availResolver(events.DomainEvent{AggregateID: rp.AvailabilityID})
		}
		return "", false
	}
}

func organizationOf(ctx context.Context, parties matching.PartyLookup, partyID string) (string, bool) {
	if partyID == "" {
		return "", false
	}
	p, err := parties.GetParty(ctx, partyID)
	if err != nil || p.OrganizationID == "" {
		return "", false
	}
	return p.OrganizationID, true
}
