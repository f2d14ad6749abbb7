package matchservice

import (
	"context"

	"github.com/rnrlcrm/tradedesk/domain/match"
)

// Notifier dispatches a single match result to a recipient. Implementations
// own their own rate limiting and preference checks (see package notify) —
// the dispatcher only decides who the top-N recipients are and fires the
// call without waiting on it.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, messageType string, m match.Result)
}

// Notification message types, mirroring which side of the match the
// recipient is being told about.
const (
	MessageNewBuyerMatch  = "new_buyer_match"
	MessageNewSellerMatch = "new_seller_match"
)

// RiskStatusChangedPayload is published on events.RiskStatusChanged by
// whichever component re-evaluates a compliance decision outside the
// matching pipeline. Either field may be empty; the dispatcher enqueues a
// HIGH-priority re-match for whichever is set.
type RiskStatusChangedPayload struct {
	RequirementID  string
	AvailabilityID string
}
