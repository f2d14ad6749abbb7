package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/party"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
)

// InMemoryGateway is the primary Gateway implementation: an in-process store
// with a location index so AvailabilitiesByLocation stays sub-linear in the
// total number of availabilities, scanning only the candidates at the
// requested locations.
type InMemoryGateway struct {
	mu sync.RWMutex

	requirements  map[string]*requirement.Requirement
	availabilities map[string]*availability.Availability
	parties       map[string]party.Party
	auditRecords  []match.AuditRecord

	// locationIndex maps location_id -> set of availability ids posted there.
	locationIndex map[string]map[string]struct{}
	// reqLocationIndex maps location_id -> set of requirement ids wanting delivery there.
	reqLocationIndex map[string]map[string]struct{}

	// locks tracks availability ids currently held by an open AllocationHandle.
	locks map[string]bool
}

// NewInMemoryGateway constructs an empty in-memory Gateway.
func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		requirements:     make(map[string]*requirement.Requirement),
		availabilities:   make(map[string]*availability.Availability),
		parties:          make(map[string]party.Party),
		locationIndex:    make(map[string]map[string]struct{}),
		reqLocationIndex: make(map[string]map[string]struct{}),
		locks:            make(map[string]bool),
	}
}

// SaveRequirement upserts a requirement and its delivery-location index entries.
func (g *InMemoryGateway) SaveRequirement(ctx context.Context, req *requirement.Requirement) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requirements[req.ID] = req
	for _, locID := range req.LocationIDs() {
		if g.reqLocationIndex[locID] == nil {
			g.reqLocationIndex[locID] = make(map[string]struct{})
		}
		g.reqLocationIndex[locID][req.ID] = struct{}{}
	}
	return nil
}

// SaveAvailability upserts an availability and its location index entry.
func (g *InMemoryGateway) SaveAvailability(ctx context.Context, avail *availability.Availability) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.availabilities[avail.ID] = avail
	if g.locationIndex[avail.LocationID] == nil {
		g.locationIndex[avail.LocationID] = make(map[string]struct{})
	}
	g.locationIndex[avail.LocationID][avail.ID] = struct{}{}
	return nil
}

func (g *InMemoryGateway) GetRequirement(ctx context.Context, id string, withRelations bool) (*requirement.Requirement, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	req, ok := g.requirements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req, nil
}

func (g *InMemoryGateway) GetAvailability(ctx context.Context, id string, withRelations bool) (*availability.Availability, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	avail, ok := g.availabilities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return avail, nil
}

// AvailabilitiesByLocation scans only the ids indexed under the requested
// locations, not the full availability table.
func (g *InMemoryGateway) AvailabilitiesByLocation(ctx context.Context, locationIDs []string, commodityID string, status availability.Status) ([]*availability.Availability, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []*availability.Availability
	for _, locID := range locationIDs {
		for availID := range g.locationIndex[locID] {
			if _, dup := seen[availID]; dup {
				continue
			}
			seen[availID] = struct{}{}
			avail := g.availabilities[availID]
			if avail == nil {
				continue
			}
			if commodityID != "" && avail.CommodityID != commodityID {
				continue
			}
			if status != "" && avail.Status != status {
				continue
			}
			result = append(result, avail)
		}
	}
	return result, nil
}

// RequirementsByDeliveryLocation scans only the ids indexed under locationID.
func (g *InMemoryGateway) RequirementsByDeliveryLocation(ctx context.Context, locationID, commodityID string, status requirement.Status) ([]*requirement.Requirement, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*requirement.Requirement
	for reqID := range g.reqLocationIndex[locationID] {
		req := g.requirements[reqID]
		if req == nil {
			continue
		}
		if commodityID != "" && req.CommodityID != commodityID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		result = append(result, req)
	}
	return result, nil
}

// memoryAllocationHandle holds the write lock on one availability row.
type memoryAllocationHandle struct {
	gw    *InMemoryGateway
	id    string
	avail *availability.Availability
	done  bool
}

func (h *memoryAllocationHandle) Availability() *availability.Availability {
	return h.avail
}

func (h *memoryAllocationHandle) Commit(ctx context.Context) error {
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	if h.done {
		return nil
	}
	h.gw.availabilities[h.id] = h.avail
	delete(h.gw.locks, h.id)
	h.done = true
	return nil
}

func (h *memoryAllocationHandle) Rollback(ctx context.Context) error {
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	if h.done {
		return nil
	}
	delete(h.gw.locks, h.id)
	h.done = true
	return nil
}

// UpdateAvailabilityForLockedAllocation acquires the exclusive hold on one
// row, refusing concurrent holders — callers under contention should retry
// with backoff (see the Allocator).
func (g *InMemoryGateway) UpdateAvailabilityForLockedAllocation(ctx context.Context, id string) (AllocationHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locks[id] {
		return nil, ErrConflict
	}
	avail, ok := g.availabilities[id]
	if !ok {
		return nil, ErrNotFound
	}
	g.locks[id] = true

	// Hand the caller a copy so mutation before Commit doesn't leak to other
	// readers taking a snapshot while the lock is held.
	snapshot := *avail
	return &memoryAllocationHandle{gw: g, id: id, avail: &snapshot}, nil
}

// AppendMatchAudit appends audit records in the order given.
func (g *InMemoryGateway) AppendMatchAudit(ctx context.Context, records []match.AuditRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auditRecords = append(g.auditRecords, records...)
	return nil
}

// AuditRecords returns a snapshot of every audit record appended so far,
// exposed for tests and the ops debug endpoints.
func (g *InMemoryGateway) AuditRecords() []match.AuditRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]match.AuditRecord, len(g.auditRecords))
	copy(out, g.auditRecords)
	return out
}

// RecentlyActiveRequirementIDs returns ids of ACTIVE requirements created
// since the given time, for the matchservice safety sweep.
func (g *InMemoryGateway) RecentlyActiveRequirementIDs(ctx context.Context, since time.Time) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for id, req := range g.requirements {
		if req.Status == requirement.StatusActive && !req.CreatedAt.Before(since) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RecentlyActiveAvailabilityIDs returns ids of ACTIVE availabilities created
// since the given time, for the matchservice safety sweep.
func (g *InMemoryGateway) RecentlyActiveAvailabilityIDs(ctx context.Context, since time.Time) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for id, avail := range g.availabilities {
		if avail.Status == availability.StatusActive && !avail.CreatedAt.Before(since) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var _ Gateway = (*InMemoryGateway)(nil)
