package matching

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rnrlcrm/tradedesk/internal/events"
	"github.com/rnrlcrm/tradedesk/storage"
)

// AllocationType classifies how much of the requested quantity an
// allocation attempt actually reserved.
type AllocationType string

const (
	AllocationFull    AllocationType = "FULL"
	AllocationPartial AllocationType = "PARTIAL"
)

// AllocationResult is the outcome of one Allocate call.
type AllocationResult struct {
	Allocated bool
	Type      AllocationType
	AllocatedQty float64
	Remaining    float64
	ErrorCode    string
}

// maxAllocationAttempts bounds the optimistic-retry loop; the backoff
// schedule is 0.1 * 2^n seconds per attempt.
const maxAllocationAttempts = 3

// Allocator performs the pessimistic-locked, retrying partial/full
// allocation against one availability row.
type Allocator struct {
	gw storage.Gateway
}

// NewAllocator constructs an Allocator bound to a Gateway.
func NewAllocator(gw storage.Gateway) *Allocator {
	return &Allocator{gw: gw}
}

// Allocate reserves up to requestedQty of availabilityID's remaining stock,
// retrying up to maxAllocationAttempts times on a lock conflict with
// exponential backoff (0.1 * 2^n seconds).
func (a *Allocator) Allocate(ctx context.Context, availabilityID string, requestedQty float64, requirementID string, rec *events.EventRecorder) (AllocationResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		result, err := a.attempt(ctx, availabilityID, requestedQty, rec)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if err != storage.ErrConflict {
			return AllocationResult{}, err
		}
		select {
		case <-ctx.Done():
			return AllocationResult{}, ctx.Err()
		case <-time.After(backoffDuration(attempt)):
		}
	}
	return AllocationResult{}, fmt.Errorf("matching: allocation conflict after %d attempts: %w", maxAllocationAttempts, lastErr)
}

// backoffDuration computes 0.1 * 2^n seconds for attempt n (0-indexed).
func backoffDuration(attempt int) time.Duration {
	seconds := 0.1 * math.Pow(2, float64(attempt))
	return time.Duration(seconds * float64(time.Second))
}

func (a *Allocator) attempt(ctx context.Context, availabilityID string, requestedQty float64, rec *events.EventRecorder) (AllocationResult, error) {
	handle, err := a.gw.UpdateAvailabilityForLockedAllocation(ctx, availabilityID)
	if err != nil {
		return AllocationResult{}, err
	}

	avail := handle.Availability()
	cur := avail.Quantities.Available
	if cur == 0 {
		handle.Rollback(ctx)
		return AllocationResult{Allocated: false, ErrorCode: "NO_QUANTITY"}, nil
	}

	var allocated float64
	var allocType AllocationType
	if cur >= requestedQty {
		allocated = requestedQty
		allocType = AllocationFull
	} else {
		allocated = cur
		allocType = AllocationPartial
	}

	beforeTotal := avail.Quantities.Available + avail.Quantities.Reserved + avail.Quantities.Sold

	if err := avail.Reserve(allocated, rec); err != nil {
		handle.Rollback(ctx)
		return AllocationResult{}, fmt.Errorf("matching: reserve during allocation: %w", err)
	}

	afterTotal := avail.Quantities.Available + avail.Quantities.Reserved + avail.Quantities.Sold
	if math.Abs(afterTotal-beforeTotal) > 1e-9 {
		// The quantity invariant total = available + reserved + sold must
		// hold before and after every allocation; a violation here means a
		// bug in Reserve and must not be silently swallowed.
		panic(fmt.Sprintf("matching: quantity invariant violated during allocation: before=%v after=%v", beforeTotal, afterTotal))
	}

	if err := handle.Commit(ctx); err != nil {
		return AllocationResult{}, err
	}

	return AllocationResult{
		Allocated:    true,
		Type:         allocType,
		AllocatedQty: allocated,
		Remaining:    avail.Quantities.Available,
	}, nil
}
