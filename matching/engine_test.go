package matching

import (
	"context"
	"testing"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/party"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/risk"
	"github.com/rnrlcrm/tradedesk/scoring"
	"github.com/rnrlcrm/tradedesk/storage"
	"github.com/rnrlcrm/tradedesk/validate"
)

type fixedParties map[string]party.Party

func (f fixedParties) GetParty(ctx context.Context, id string) (party.Party, error) {
	p, ok := f[id]
	if !ok {
		return party.Party{}, storage.ErrNotFound
	}
	return p, nil
}

func buildRequirement(id string, locations []requirement.DeliveryLocation) *requirement.Requirement {
	return &requirement.Requirement{
		ID:               id,
		BuyerID:          "buyer-1",
		CommodityID:      "wheat",
		Quantity:         requirement.QuantityRange{Min: 10, Max: 100, Preferred: 50, Unit: "MT"},
		MaxBudgetPerUnit: 100,
		DeliveryLocations: locations,
		Status:           requirement.StatusActive,
	}
}

func buildAvailability(id, sellerID, locationID, state, city string) *availability.Availability {
	return &availability.Availability{
		ID:            id,
		SellerID:      sellerID,
		CommodityID:   "wheat",
		LocationID:    locationID,
		LocationState: state,
		LocationCity:  city,
		Quantities:    availability.Quantities{Total: 100, Available: 100},
		BasePrice:     90,
		Status:        availability.StatusActive,
	}
}

func cleanRiskBuilder() RiskInputBuilder {
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

func newTestEngine(gw storage.Gateway, parties fixedParties) *Engine {
	orch := risk.New(risk.DefaultConfig(), risk.NoopMLEngine{})
	scorer := scoring.New(scoring.DefaultConfig(), orch, nil)
	validator := validate.New(validate.DefaultConfig(), orch)
	return NewEngine(gw, parties, scorer, validator, cleanRiskBuilder(), nil)
}

func TestEngine_HappyPathReturnsMatch(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	req := buildRequirement("req-1", []requirement.DeliveryLocation{{LocationID: "loc-1", State: "Maharashtra", City: "Mumbai"}})
	avail := buildAvailability("avail-1", "seller-1", "loc-1", "Maharashtra", "Mumbai")
	gw.SaveRequirement(context.Background(), req)
	gw.SaveAvailability(context.Background(), avail)

	parties := fixedParties{
		"buyer-1":  {ID: "buyer-1", OrganizationID: "org-buyer"},
		"seller-1": {ID: "seller-1", OrganizationID: "org-seller"},
	}
	engine := newTestEngine(gw, parties)

	results, err := engine.FindMatchesForRequirement(context.Background(), "req-1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	if results[0].AvailabilityID != "avail-1" {
		t.Fatalf("expected avail-1, got %s", results[0].AvailabilityID)
	}
}

func TestEngine_CrossStateMismatchYieldsZeroMatches(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	req := buildRequirement("req-2", []requirement.DeliveryLocation{{LocationID: "loc-x", State: "Gujarat", City: "Surat"}})
	avail := buildAvailability("avail-2", "seller-1", "loc-1", "Maharashtra", "Mumbai")
	gw.SaveRequirement(context.Background(), req)
	gw.SaveAvailability(context.Background(), avail)

	parties := fixedParties{
		"buyer-1":  {ID: "buyer-1", OrganizationID: "org-buyer"},
		"seller-1": {ID: "seller-1", OrganizationID: "org-seller"},
	}
	engine := newTestEngine(gw, parties)

	results, err := engine.FindMatchesForRequirement(context.Background(), "req-2", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 matches across mismatched states, got %d", len(results))
	}
}

func TestEngine_OverBudgetFailsValidationNotScored(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	req := buildRequirement("req-3", []requirement.DeliveryLocation{{LocationID: "loc-1", State: "Maharashtra", City: "Mumbai"}})
	req.MaxBudgetPerUnit = 50
	avail := buildAvailability("avail-3", "seller-1", "loc-1", "Maharashtra", "Mumbai")
	avail.BasePrice = 90
	gw.SaveRequirement(context.Background(), req)
	gw.SaveAvailability(context.Background(), avail)

	parties := fixedParties{
		"buyer-1":  {ID: "buyer-1", OrganizationID: "org-buyer"},
		"seller-1": {ID: "seller-1", OrganizationID: "org-seller"},
	}
	engine := newTestEngine(gw, parties)

	results, err := engine.FindMatchesForRequirement(context.Background(), "req-3", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected over-budget candidate to be excluded, got %d matches", len(results))
	}
}

func TestEngine_DuplicateSuppressedOnSecondInvocation(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	req := buildRequirement("req-4", []requirement.DeliveryLocation{{LocationID: "loc-1", State: "Maharashtra", City: "Mumbai"}})
	avail := buildAvailability("avail-4", "seller-1", "loc-1", "Maharashtra", "Mumbai")
	gw.SaveRequirement(context.Background(), req)
	gw.SaveAvailability(context.Background(), avail)

	parties := fixedParties{
		"buyer-1":  {ID: "buyer-1", OrganizationID: "org-buyer"},
		"seller-1": {ID: "seller-1", OrganizationID: "org-seller"},
	}
	engine := newTestEngine(gw, parties)

	first, err := engine.FindMatchesForRequirement(context.Background(), "req-4", nil, 0)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected first invocation to match once, got %d err=%v", len(first), err)
	}

	second, err := engine.FindMatchesForRequirement(context.Background(), "req-4", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected duplicate suppression on repeat invocation, got %d", len(second))
	}
}

func TestEngine_NotMatchableRequirementErrors(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	req := buildRequirement("req-5", nil)
	req.Status = requirement.StatusFulfilled
	gw.SaveRequirement(context.Background(), req)

	parties := fixedParties{}
	engine := newTestEngine(gw, parties)

	_, err := engine.FindMatchesForRequirement(context.Background(), "req-5", nil, 0)
	if err == nil {
		t.Fatal("expected error for non-matchable requirement")
	}
}

func TestEngine_UnknownRequirementReturnsNotFound(t *testing.T) {
	gw := storage.NewInMemoryGateway()
	engine := newTestEngine(gw, fixedParties{})

	_, err := engine.FindMatchesForRequirement(context.Background(), "missing", nil, 0)
	if err == nil {
		t.Fatal("expected not-found error")
	}
}
