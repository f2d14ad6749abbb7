package matchservice

import (
	"container/heap"
	"context"
	"testing"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/party"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/internal/events"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/internal/metrics"
	"github.com/rnrlcrm/tradedesk/matching"
	"github.com/rnrlcrm/tradedesk/risk"
	"github.com/rnrlcrm/tradedesk/scoring"
	"github.com/rnrlcrm/tradedesk/storage"
	"github.com/rnrlcrm/tradedesk/validate"

	"github.com/prometheus/client_golang/prometheus"
)

func testLogger() *logging.Logger {
	return logging.New("matchservice-test", "error", "text")
}

type fixedParties map[string]party.Party

func (f fixedParties) GetParty(ctx context.Context, id string) (party.Party, error) {
	p, ok := f[id]
	if !ok {
		return party.Party{}, storage.ErrNotFound
	}
	return p, nil
}

func cleanRiskBuilder() matching.RiskInputBuilder {
	return func(req *requirement.Requirement, avail *availability.Availability, buyer, seller party.Party) risk.CheckInput {
		return risk.CheckInput{
			BuyerID:       req.BuyerID,
			SellerID:      avail.SellerID,
			CommodityID:   req.CommodityID,
			BuyerCountry:  "India",
			SellerCountry: "India",
			BuyerHasGST:   true,
			SellerHasGST:  true,
			BuyerHasPAN:   true,
			SellerHasPAN:  true,
		}
	}
}

func newTestEngine(gw storage.Gateway, parties fixedParties) *matching.Engine {
	orch := risk.New(risk.DefaultConfig(), risk.NoopMLEngine{})
	scorer := scoring.New(scoring.DefaultConfig(), orch, nil)
	validator := validate.New(validate.DefaultConfig(), orch)
	return matching.NewEngine(gw, parties, scorer, validator, cleanRiskBuilder(), nil)
}

type recordingNotifier struct {
	mu     chan struct{}
	calls  []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{mu: make(chan struct{}, 64)}
}

func (n *recordingNotifier) Notify(ctx context.Context, recipientID, messageType string, m match.Result) {
	n.calls = append(n.calls, recipientID+":"+messageType)
	n.mu <- struct{}{}
}

func (n *recordingNotifier) ResolveBuyer(ctx context.Context, requirementID string) (string, error) {
	return "buyer-1", nil
}

func (n *recordingNotifier) ResolveSeller(ctx context.Context, availabilityID string) (string, error) {
	return "seller-1", nil
}

func seedHappyPath(t *testing.T, gw *storage.InMemoryGateway) {
	t.Helper()
	req := &requirement.Requirement{
		ID:                "req-1",
		BuyerID:           "buyer-1",
		CommodityID:       "wheat",
		Quantity:          requirement.QuantityRange{Min: 10, Max: 100, Preferred: 50, Unit: "MT"},
		MaxBudgetPerUnit:  100,
		DeliveryLocations: []requirement.DeliveryLocation{{LocationID: "loc-1", State: "Maharashtra", City: "Mumbai"}},
		Status:            requirement.StatusActive,
		CreatedAt:         time.Now(),
	}
	avail := &availability.Availability{
		ID:            "avail-1",
		SellerID:      "seller-1",
		CommodityID:   "wheat",
		LocationID:    "loc-1",
		LocationState: "Maharashtra",
		LocationCity:  "Mumbai",
		Quantities:    availability.Quantities{Total: 100, Available: 100},
		BasePrice:     90,
		Status:        availability.StatusActive,
		CreatedAt:     time.Now(),
	}
	gw.SaveRequirement(context.Background(), req)
	gw.SaveAvailability(context.Background(), avail)
}

func TestPriorityQueue_DrainsHighBeforeMediumBeforeLow(t *testing.T) {
	var q matchPriorityQueue
	heap.Init(&q)

	base := time.Now()
	heap.Push(&q, &matchRequest{priority: PriorityLow, kind: entityRequirement, entityID: "r-low", createdAt: base})
	heap.Push(&q, &matchRequest{priority: PriorityMedium, kind: entityRequirement, entityID: "r-medium", createdAt: base.Add(time.Millisecond)})
	heap.Push(&q, &matchRequest{priority: PriorityHigh, kind: entityRequirement, entityID: "r-high", createdAt: base.Add(2 * time.Millisecond)})

	var order []Priority
	for q.Len() > 0 {
		req := heap.Pop(&q).(*matchRequest)
		order = append(order, req.priority)
	}

	if len(order) != 3 || order[0] != PriorityHigh || order[1] != PriorityMedium || order[2] != PriorityLow {
		t.Fatalf("expected HIGH, MEDIUM, LOW order, got %v", order)
	}
}

func TestPriorityQueue_TiesBrokenByOldestFirst(t *testing.T) {
	var q matchPriorityQueue
	heap.Init(&q)

	base := time.Now()
	heap.Push(&q, &matchRequest{priority: PriorityHigh, kind: entityRequirement, entityID: "newer", createdAt: base.Add(time.Second)})
	heap.Push(&q, &matchRequest{priority: PriorityHigh, kind: entityRequirement, entityID: "older", createdAt: base})

	first := heap.Pop(&q).(*matchRequest)
	if first.entityID != "older" {
		t.Fatalf("expected the older same-priority request to drain first, got %s", first.entityID)
	}
}

func TestService_EnqueueSkipsDuplicateInFlightEntity(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	seedHappyPath(t, gw)
	parties := fixedParties{
		"buyer-1":  {ID: "buyer-1", OrganizationID: "org-buyer"},
		"seller-1": {ID: "seller-1", OrganizationID: "org-seller"},
	}
	engine := newTestEngine(gw, parties)
	bus := events.NewBus()
	cfg := DefaultConfig()
	cfg.SafetyCronEnabled = false
	svc := New(gw, engine, newRecordingNotifier(), bus, cfg, testLogger(), metrics.NewWithRegistry("test2", prometheus.NewRegistry()))

	svc.enqueue(PriorityMedium, entityRequirement, "req-1")
	svc.enqueue(PriorityMedium, entityRequirement, "req-1")

	if got := svc.QueueSize(); got != 1 {
		t.Fatalf("expected second enqueue of same in-flight entity to be suppressed, queue size=%d", got)
	}
}

func TestService_ProcessesEventAndNotifiesSeller(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	seedHappyPath(t, gw)
	parties := fixedParties{
		"buyer-1":  {ID: "buyer-1", OrganizationID: "org-buyer"},
		"seller-1": {ID: "seller-1", OrganizationID: "org-seller"},
	}
	engine := newTestEngine(gw, parties)
	bus := events.NewBus()
	notifier := newRecordingNotifier()
	cfg := DefaultConfig()
	cfg.SafetyCronEnabled = false
	svc := New(gw, engine, notifier, bus, cfg, testLogger(), metrics.NewWithRegistry("test3", prometheus.NewRegistry()))

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error starting service: %v", err)
	}
	defer svc.Stop()

	if err := bus.Publish(context.Background(), events.RequirementCreated, events.DomainEvent{Name: events.RequirementCreated, AggregateID: "req-1"}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case <-notifier.mu:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification dispatch")
	}

	snap := svc.Snapshot()
	if snap.TotalProcessed != 1 {
		t.Fatalf("expected 1 processed request, got %d", snap.TotalProcessed)
	}
	if snap.MediumPriority != 1 {
		t.Fatalf("expected 1 medium-priority request, got %d", snap.MediumPriority)
	}
}

func TestService_SafetyCronSweepsRecentlyActiveEntities(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	seedHappyPath(t, gw)
	parties := fixedParties{
		"buyer-1":  {ID: "buyer-1", OrganizationID: "org-buyer"},
		"seller-1": {ID: "seller-1", OrganizationID: "org-seller"},
	}
	engine := newTestEngine(gw, parties)
	bus := events.NewBus()
	cfg := DefaultConfig()
	cfg.SafetyCronEnabled = false
	svc := New(gw, engine, newRecordingNotifier(), bus, cfg, testLogger(), metrics.NewWithRegistry("test4", prometheus.NewRegistry()))

	svc.runSafetyCron(context.Background())

	if got := svc.QueueSize(); got != 2 {
		t.Fatalf("expected safety cron to enqueue both the requirement and availability, got queue size=%d", got)
	}
}

func TestHealthCheck_ReportsStoppedWorkerAsUnhealthy(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	engine := newTestEngine(gw, fixedParties{})
	bus := events.NewBus()
	cfg := DefaultConfig()
	cfg.SafetyCronEnabled = false
	svc := New(gw, engine, newRecordingNotifier(), bus, cfg, testLogger(), metrics.NewWithRegistry("test5", prometheus.NewRegistry()))

	healthy, _ := svc.HealthCheck()
	if healthy {
		t.Fatal("expected unhealthy before Start is called")
	}
}
