// Package availability models a seller's posted inventory for a commodity
// at a location: quantities, pricing, quality, and the lifecycle state the
// Allocator mutates under contention.
package availability

import (
	"fmt"
	"time"

	"github.com/rnrlcrm/tradedesk/internal/events"
)

// Status is the availability lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusReserved  Status = "RESERVED"
	StatusSold      Status = "SOLD"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSold, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// PriceType determines which pricing fields are authoritative.
type PriceType string

const (
	PriceTypeFixed      PriceType = "FIXED"
	PriceTypeMatrix     PriceType = "MATRIX"
	PriceTypeNegotiable PriceType = "NEGOTIABLE"
	PriceTypeSpot       PriceType = "SPOT"
)

// Visibility mirrors requirement.Visibility for seller-side listings.
type Visibility string

const (
	VisibilityPublic     Visibility = "PUBLIC"
	VisibilityPrivate    Visibility = "PRIVATE"
	VisibilityRestricted Visibility = "RESTRICTED"
	VisibilityInternal   Visibility = "INTERNAL"
)

// Quantities holds the three-way split that must always sum to Total.
type Quantities struct {
	Total     float64
	Available float64
	Reserved  float64
	Sold      float64
}

// Validate checks the non-negativity and conservation invariant:
// total = available + reserved + sold.
func (q Quantities) Validate() error {
	if q.Total <= 0 {
		return fmt.Errorf("availability: total must be > 0, got %v", q.Total)
	}
	if q.Available < 0 || q.Reserved < 0 || q.Sold < 0 {
		return fmt.Errorf("availability: quantities must be non-negative: %+v", q)
	}
	sum := q.Available + q.Reserved + q.Sold
	const epsilon = 1e-9
	if sum < q.Total-epsilon || sum > q.Total+epsilon {
		return fmt.Errorf("availability: quantity invariant violated: total=%v available+reserved+sold=%v", q.Total, sum)
	}
	return nil
}

// AIContext carries the optional AI-assist fields attached to an availability.
type AIContext struct {
	SuggestedPrice *float64
	Confidence     int // 0-100
	AnomalyFlag    bool
}

// PartialOrderPolicy controls whether an availability accepts partial
// allocations below its full quantity.
type PartialOrderPolicy struct {
	AllowPartialOrder bool
	MinOrderQty       *float64
}

// Availability is the seller-inventory aggregate.
type Availability struct {
	ID             string
	SellerID       string
	CommodityID    string
	LocationID     string
	LocationState  string
	LocationCity   string
	Latitude       *float64
	Longitude      *float64
	Quantities     Quantities
	PriceType      PriceType
	BasePrice      float64
	PriceMatrix    map[string]float64
	CurrencyCode   string
	PriceUnit      string
	Quality        map[string]float64
	Visibility     Visibility
	RestrictedBuyerIDs []string
	Status         Status
	AI             AIContext
	Partial        PartialOrderPolicy
	SupportedIncoterms []string
	ExpiryDate     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New constructs a DRAFT availability with defaults applied.
func New(id, sellerID, commodityID, locationID string, total float64, basePrice float64) *Availability {
	return &Availability{
		ID:          id,
		SellerID:    sellerID,
		CommodityID: commodityID,
		LocationID:  locationID,
		Quantities:  Quantities{Total: total, Available: total},
		PriceType:   PriceTypeFixed,
		BasePrice:   basePrice,
		CurrencyCode: "INR",
		Status:      StatusDraft,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

// IsMatchable reports whether the availability can currently receive matches.
func (a *Availability) IsMatchable() bool {
	return a.Status == StatusActive
}

// Publish transitions DRAFT → ACTIVE.
func (a *Availability) Publish(rec *events.EventRecorder) error {
	if a.Status != StatusDraft {
		return fmt.Errorf("availability: cannot publish from status %s", a.Status)
	}
	a.Status = StatusActive
	a.UpdatedAt = time.Now()
	rec.Record(events.AvailabilityCreated, a.ID, a.UpdatedAt, nil)
	return nil
}

// deriveStatusFromQuantities recomputes status from the quantity split,
// per the state machine: available=0 ∧ reserved>0 ⇒ RESERVED;
// available=0 ∧ reserved=0 ⇒ SOLD.
func (a *Availability) deriveStatusFromQuantities() Status {
	if a.Quantities.Available == 0 {
		if a.Quantities.Reserved > 0 {
			return StatusReserved
		}
		return StatusSold
	}
	return StatusActive
}

// Reserve moves `qty` from Available to Reserved, transitioning status.
func (a *Availability) Reserve(qty float64, rec *events.EventRecorder) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("availability: cannot reserve on terminal status %s", a.Status)
	}
	if qty <= 0 || qty > a.Quantities.Available {
		return fmt.Errorf("availability: cannot reserve %v of %v available", qty, a.Quantities.Available)
	}
	a.Quantities.Available -= qty
	a.Quantities.Reserved += qty
	if err := a.Quantities.Validate(); err != nil {
		return err
	}
	a.Status = a.deriveStatusFromQuantities()
	a.UpdatedAt = time.Now()
	rec.Record(events.AvailabilityUpdated, a.ID, a.UpdatedAt, map[string]float64{"reserved_delta": qty})
	return nil
}

// Sell converts `qty` of Reserved into Sold (a reservation being completed).
func (a *Availability) Sell(qty float64, rec *events.EventRecorder) error {
	if qty <= 0 || qty > a.Quantities.Reserved {
		return fmt.Errorf("availability: cannot sell %v of %v reserved", qty, a.Quantities.Reserved)
	}
	a.Quantities.Reserved -= qty
	a.Quantities.Sold += qty
	if err := a.Quantities.Validate(); err != nil {
		return err
	}
	a.Status = a.deriveStatusFromQuantities()
	a.UpdatedAt = time.Now()
	rec.Record(events.AvailabilityUpdated, a.ID, a.UpdatedAt, map[string]float64{"sold_delta": qty})
	return nil
}

// Release moves `qty` from Reserved back to Available (reservation undone).
func (a *Availability) Release(qty float64, rec *events.EventRecorder) error {
	if qty <= 0 || qty > a.Quantities.Reserved {
		return fmt.Errorf("availability: cannot release %v of %v reserved", qty, a.Quantities.Reserved)
	}
	a.Quantities.Reserved -= qty
	a.Quantities.Available += qty
	if err := a.Quantities.Validate(); err != nil {
		return err
	}
	a.Status = StatusActive
	a.UpdatedAt = time.Now()
	rec.Record(events.AvailabilityUpdated, a.ID, a.UpdatedAt, map[string]float64{"released": qty})
	return nil
}

// Cancel moves to CANCELLED from any non-terminal status.
func (a *Availability) Cancel(rec *events.EventRecorder) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("availability: cannot cancel terminal status %s", a.Status)
	}
	a.Status = StatusCancelled
	a.UpdatedAt = time.Now()
	rec.Record(events.AvailabilityClosed, a.ID, a.UpdatedAt, map[string]string{"reason": "cancelled"})
	return nil
}

// Expire moves to EXPIRED once wall clock passes ExpiryDate.
func (a *Availability) Expire(now time.Time, rec *events.EventRecorder) error {
	if a.Status.IsTerminal() {
		return nil
	}
	if a.ExpiryDate == nil || now.Before(*a.ExpiryDate) {
		return fmt.Errorf("availability: not yet past expiry_date")
	}
	a.Status = StatusExpired
	a.UpdatedAt = now
	rec.Record(events.AvailabilityClosed, a.ID, a.UpdatedAt, map[string]string{"reason": "expired"})
	return nil
}

// MinPartialQty returns the floor this availability accepts for a partial
// allocation under its own policy (distinct from the requirement-side
// minimum used by the Validator's hard gate).
func (a *Availability) MinPartialQty() float64 {
	if !a.Partial.AllowPartialOrder {
		return a.Quantities.Available
	}
	if a.Partial.MinOrderQty != nil {
		return *a.Partial.MinOrderQty
	}
	return 0
}
