// Package storage defines the Gateway the matching core reads and writes
// through. The interface is the contract; storage technology itself is out
// of scope for the core — InMemoryGateway is the primary implementation
// exercised by tests, PostgresGateway is the production adapter.
package storage

import (
	"context"
	"errors"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
)

// ErrNotFound is returned by Get* lookups that find nothing.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned by the in-memory gateway's
// UpdateAvailabilityForLockedAllocation when another allocation handle
// already holds the lock on the same availability.
var ErrConflict = errors.New("storage: allocation conflict")

// AllocationHandle represents an exclusive hold on one availability row,
// acquired by UpdateAvailabilityForLockedAllocation and released by exactly
// one of Commit or Rollback. The caller must not retain the handle past
// that call.
type AllocationHandle interface {
	// Availability returns the row snapshot taken under lock.
	Availability() *availability.Availability
	// Commit persists the mutated availability (caller mutates the pointer
	// returned by Availability() in place) and releases the lock.
	Commit(ctx context.Context) error
	// Rollback discards any mutation and releases the lock without writing.
	Rollback(ctx context.Context) error
}

// Gateway is the thin storage interface the matching core depends on.
type Gateway interface {
	GetRequirement(ctx context.Context, id string, withRelations bool) (*requirement.Requirement, error)
	GetAvailability(ctx context.Context, id string, withRelations bool) (*availability.Availability, error)

	// AvailabilitiesByLocation must be indexed for sub-linear response —
	// implementations maintain a location index rather than scanning every
	// availability row per call.
	AvailabilitiesByLocation(ctx context.Context, locationIDs []string, commodityID string, status availability.Status) ([]*availability.Availability, error)

	RequirementsByDeliveryLocation(ctx context.Context, locationID, commodityID string, status requirement.Status) ([]*requirement.Requirement, error)

	// UpdateAvailabilityForLockedAllocation acquires the row-level lock the
	// Allocator needs, held for the duration of a single allocation attempt.
	UpdateAvailabilityForLockedAllocation(ctx context.Context, id string) (AllocationHandle, error)

	AppendMatchAudit(ctx context.Context, records []match.AuditRecord) error

	SaveRequirement(ctx context.Context, req *requirement.Requirement) error
	SaveAvailability(ctx context.Context, avail *availability.Availability) error
}
