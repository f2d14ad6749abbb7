// Package requirement models a buyer's procurement intent: the quantity
// range, quality tolerances, budget, delivery locations, and lifecycle
// state that the Matching Engine reads to find compatible availabilities.
package requirement

import (
	"fmt"
	"time"

	"github.com/rnrlcrm/tradedesk/internal/events"
)

// Status is the requirement lifecycle state.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusActive              Status = "ACTIVE"
	StatusPartiallyFulfilled  Status = "PARTIALLY_FULFILLED"
	StatusFulfilled           Status = "FULFILLED"
	StatusExpired             Status = "EXPIRED"
	StatusCancelled           Status = "CANCELLED"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFulfilled, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Visibility controls which sellers can see a requirement.
type Visibility string

const (
	VisibilityPublic     Visibility = "PUBLIC"
	VisibilityPrivate    Visibility = "PRIVATE"
	VisibilityRestricted Visibility = "RESTRICTED"
	VisibilityInternal   Visibility = "INTERNAL"
)

// Intent routes a published requirement to a downstream engine.
type Intent string

const (
	IntentDirectBuy            Intent = "DIRECT_BUY"
	IntentNegotiation          Intent = "NEGOTIATION"
	IntentAuctionRequest       Intent = "AUCTION_REQUEST"
	IntentPriceDiscoveryOnly   Intent = "PRICE_DISCOVERY_ONLY"
)

// QuantityRange is the buyer's acceptable quantity band, shared unit.
type QuantityRange struct {
	Min       float64
	Max       float64
	Preferred float64
	Unit      string
}

// Validate checks min ≤ preferred ≤ max.
func (q QuantityRange) Validate() error {
	if !(q.Min <= q.Preferred && q.Preferred <= q.Max) {
		return fmt.Errorf("requirement: quantity range invalid: min=%v preferred=%v max=%v", q.Min, q.Preferred, q.Max)
	}
	return nil
}

// QualityConstraint is a tagged variant over a quality parameter: at least
// one of Min/Max, Preferred, or Exact must be set. This replaces a raw
// key-value bag so the Scorer never has to re-derive which shape applies.
type QualityConstraint struct {
	Min       *float64
	Max       *float64
	Preferred *float64
	Exact     *float64
}

// HasRange reports whether both Min and Max are set.
func (c QualityConstraint) HasRange() bool {
	return c.Min != nil && c.Max != nil
}

// HasTarget reports whether Preferred or Exact is set (range absent).
func (c QualityConstraint) HasTarget() bool {
	return c.Preferred != nil || c.Exact != nil
}

// IsEmpty reports whether no constraint form is populated — invalid input.
func (c QualityConstraint) IsEmpty() bool {
	return c.Min == nil && c.Max == nil && c.Preferred == nil && c.Exact == nil
}

// DeliveryLocation is one delivery point the buyer will accept.
type DeliveryLocation struct {
	LocationID    string
	Latitude      *float64
	Longitude     *float64
	State         string
	City          string
	MaxDistanceKm *float64
}

// DeliveryWindow is an optional acceptable delivery date range.
type DeliveryWindow struct {
	Start time.Time
	End   time.Time
}

// AIContext carries the optional AI-assist fields attached to a requirement.
type AIContext struct {
	SuggestedMaxPrice   *float64
	Confidence          int // 0-100
	AlertFlag           bool
	AlertReason         string
	RecommendedSellers  []string
	MarketEmbedding     []float32 // 1536-dim when populated; nil when unset
}

// InRecommendedSellers reports set membership of sellerID in RecommendedSellers.
func (a AIContext) InRecommendedSellers(sellerID string) bool {
	for _, id := range a.RecommendedSellers {
		if id == sellerID {
			return true
		}
	}
	return false
}

// FulfillmentCounters tracks cumulative match/purchase activity.
type FulfillmentCounters struct {
	TotalMatchedQty        float64
	TotalPurchasedQty      float64
	TotalSpent             float64
	ActiveNegotiationCount int
}

// Requirement is the buyer-intent aggregate.
type Requirement struct {
	ID                  string
	Number              string
	BuyerID             string
	CommodityID         string
	VarietyID           string
	Quantity            QuantityRange
	Quality             map[string]QualityConstraint
	MaxBudgetPerUnit     float64
	PreferredPricePerUnit *float64
	CurrencyCode        string
	DeliveryLocations   []DeliveryLocation
	DeliveryWindow      *DeliveryWindow
	FlexibilityHours    int
	DestinationCountry  string
	PreferredIncoterm   string
	Visibility          Visibility
	InvitedSellerIDs    []string
	Status              Status
	Intent              Intent
	AI                  AIContext
	Fulfillment         FulfillmentCounters
	BuyerTrustScore     float64
	ValidUntil          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// New constructs a DRAFT requirement with defaults applied.
func New(id, number, buyerID, commodityID string, qty QuantityRange, maxBudget float64) *Requirement {
	return &Requirement{
		ID:               id,
		Number:           number,
		BuyerID:          buyerID,
		CommodityID:      commodityID,
		Quantity:         qty,
		MaxBudgetPerUnit: maxBudget,
		CurrencyCode:     "INR",
		FlexibilityHours: 168,
		Visibility:       VisibilityPublic,
		Status:           StatusDraft,
		Intent:           IntentDirectBuy,
		BuyerTrustScore:  1.0,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

// LocationIDs returns every location_id across DeliveryLocations.
func (r *Requirement) LocationIDs() []string {
	ids := make([]string, 0, len(r.DeliveryLocations))
	for _, loc := range r.DeliveryLocations {
		ids = append(ids, loc.LocationID)
	}
	return ids
}

// IsMatchable reports whether the requirement can currently receive matches.
func (r *Requirement) IsMatchable() bool {
	return r.Status == StatusActive || r.Status == StatusPartiallyFulfilled
}

// Publish transitions DRAFT → ACTIVE, recording requirement.created and then
// requirement.updated carrying the draft_to_active transition.
func (r *Requirement) Publish(rec *events.EventRecorder) error {
	if r.Status != StatusDraft {
		return fmt.Errorf("requirement: cannot publish from status %s", r.Status)
	}
	r.Status = StatusActive
	r.UpdatedAt = time.Now()
	rec.Record(events.RequirementCreated, r.ID, r.UpdatedAt, nil)
	rec.Record(events.RequirementUpdated, r.ID, r.UpdatedAt, map[string]string{"transition": "draft_to_active"})
	return nil
}

// RecordPartialPurchase moves ACTIVE → PARTIALLY_FULFILLED and updates
// fulfillment counters. Recording a purchase on a terminal requirement is
// rejected — terminal states accept no field mutation except audit
// timestamps.
func (r *Requirement) RecordPartialPurchase(qty, spent float64, rec *events.EventRecorder) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("requirement: cannot purchase against terminal status %s", r.Status)
	}
	if r.Status != StatusActive && r.Status != StatusPartiallyFulfilled {
		return fmt.Errorf("requirement: cannot purchase from status %s", r.Status)
	}
	r.Fulfillment.TotalPurchasedQty += qty
	r.Fulfillment.TotalSpent += spent
	if r.Fulfillment.TotalPurchasedQty > r.Quantity.Max {
		return fmt.Errorf("requirement: purchased qty %v exceeds max %v", r.Fulfillment.TotalPurchasedQty, r.Quantity.Max)
	}
	r.Status = StatusPartiallyFulfilled
	r.UpdatedAt = time.Now()
	rec.Record(events.RequirementUpdated, r.ID, r.UpdatedAt, map[string]float64{"total_purchased_qty": r.Fulfillment.TotalPurchasedQty})
	return nil
}

// RecordFullPurchase moves to FULFILLED once the buyer's quantity is met.
func (r *Requirement) RecordFullPurchase(rec *events.EventRecorder) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("requirement: cannot fulfill terminal status %s", r.Status)
	}
	r.Status = StatusFulfilled
	r.UpdatedAt = time.Now()
	rec.Record(events.RequirementClosed, r.ID, r.UpdatedAt, map[string]string{"reason": "fulfilled"})
	return nil
}

// Cancel moves to CANCELLED from any non-terminal status.
func (r *Requirement) Cancel(rec *events.EventRecorder) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("requirement: cannot cancel terminal status %s", r.Status)
	}
	r.Status = StatusCancelled
	r.UpdatedAt = time.Now()
	rec.Record(events.RequirementClosed, r.ID, r.UpdatedAt, map[string]string{"reason": "cancelled"})
	return nil
}

// Expire moves to EXPIRED once wall clock passes ValidUntil.
func (r *Requirement) Expire(now time.Time, rec *events.EventRecorder) error {
	if r.Status.IsTerminal() {
		return nil
	}
	if r.ValidUntil == nil || now.Before(*r.ValidUntil) {
		return fmt.Errorf("requirement: not yet past valid_until")
	}
	r.Status = StatusExpired
	r.UpdatedAt = now
	rec.Record(events.RequirementClosed, r.ID, r.UpdatedAt, map[string]string{"reason": "expired"})
	return nil
}
