package storage

import (
	"context"
	"testing"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
)

func TestInMemoryGateway_SaveAndGetRequirement(t *testing.T) {
	gw := NewInMemoryGateway()
	req := requirement.New("req-1", "REQ-0001", "buyer-1", "cotton", requirement.QuantityRange{Min: 1, Max: 10, Preferred: 5}, 100)
	if err := gw.SaveRequirement(context.Background(), req); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := gw.GetRequirement(context.Background(), "req-1", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "req-1" {
		t.Fatalf("expected req-1, got %s", got.ID)
	}
}

func TestInMemoryGateway_GetRequirement_NotFound(t *testing.T) {
	gw := NewInMemoryGateway()
	_, err := gw.GetRequirement(context.Background(), "missing", false)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryGateway_AvailabilitiesByLocation_IndexedLookup(t *testing.T) {
	gw := NewInMemoryGateway()
	a1 := availability.New("a1", "seller-1", "cotton", "loc-1", 100, 50)
	a1.Status = availability.StatusActive
	a2 := availability.New("a2", "seller-2", "cotton", "loc-2", 100, 50)
	a2.Status = availability.StatusActive
	a3 := availability.New("a3", "seller-3", "wheat", "loc-1", 100, 50)
	a3.Status = availability.StatusActive

	for _, a := range []*availability.Availability{a1, a2, a3} {
		if err := gw.SaveAvailability(context.Background(), a); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	result, err := gw.AvailabilitiesByLocation(context.Background(), []string{"loc-1"}, "cotton", availability.StatusActive)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result) != 1 || result[0].ID != "a1" {
		t.Fatalf("expected exactly a1, got %+v", result)
	}
}

func TestInMemoryGateway_LockedAllocation_CommitPersists(t *testing.T) {
	gw := NewInMemoryGateway()
	a := availability.New("a1", "seller-1", "cotton", "loc-1", 100, 50)
	a.Status = availability.StatusActive
	gw.SaveAvailability(context.Background(), a)

	handle, err := gw.UpdateAvailabilityForLockedAllocation(context.Background(), "a1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	handle.Availability().Quantities.Available -= 10
	handle.Availability().Quantities.Reserved += 10
	if err := handle.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, _ := gw.GetAvailability(context.Background(), "a1", false)
	if got.Quantities.Available != 90 {
		t.Fatalf("expected available=90 after commit, got %v", got.Quantities.Available)
	}
}

func TestInMemoryGateway_LockedAllocation_RollbackDiscardsMutation(t *testing.T) {
	gw := NewInMemoryGateway()
	a := availability.New("a1", "seller-1", "cotton", "loc-1", 100, 50)
	a.Status = availability.StatusActive
	gw.SaveAvailability(context.Background(), a)

	handle, _ := gw.UpdateAvailabilityForLockedAllocation(context.Background(), "a1")
	handle.Availability().Quantities.Available -= 10
	if err := handle.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	got, _ := gw.GetAvailability(context.Background(), "a1", false)
	if got.Quantities.Available != 100 {
		t.Fatalf("expected available unchanged at 100, got %v", got.Quantities.Available)
	}
}

func TestInMemoryGateway_LockedAllocation_ConcurrentHolderConflicts(t *testing.T) {
	gw := NewInMemoryGateway()
	a := availability.New("a1", "seller-1", "cotton", "loc-1", 100, 50)
	a.Status = availability.StatusActive
	gw.SaveAvailability(context.Background(), a)

	handle, err := gw.UpdateAvailabilityForLockedAllocation(context.Background(), "a1")
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer handle.Rollback(context.Background())

	_, err = gw.UpdateAvailabilityForLockedAllocation(context.Background(), "a1")
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict for concurrent holder, got %v", err)
	}
}

func TestInMemoryGateway_AppendMatchAudit(t *testing.T) {
	gw := NewInMemoryGateway()
	records := []match.AuditRecord{
		{ID: "audit-1", RequirementID: "req-1", AvailabilityID: "a1", Score: 0.9},
		{ID: "audit-2", RequirementID: "req-1", AvailabilityID: "a2", Score: 0.8},
	}
	if err := gw.AppendMatchAudit(context.Background(), records); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(gw.AuditRecords()) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(gw.AuditRecords()))
	}
}
