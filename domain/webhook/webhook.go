// Package webhook holds the subscription and delivery entities the Webhook
// Delivery Subsystem schedules, signs, and retries.
package webhook

import "time"

// Priority orders deliveries within a tenant's per-organization queue.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
)

// PriorityOrder returns a lower-is-more-urgent rank, used to sort a
// per-organization queue: CRITICAL > HIGH > NORMAL > LOW.
func PriorityOrder(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Subscription is a tenant's registration for a set of event types.
type Subscription struct {
	ID              string
	OrganizationID  string
	URL             string
	EventTypeSet    map[string]struct{}
	Active          bool
	HMACSecret      string
	MaxRetries      int
	RetryBaseSeconds int
	Description     string
	CreatedAt       time.Time
}

// WantsEvent reports whether the subscription is active and subscribed to
// eventType.
func (s *Subscription) WantsEvent(eventType string) bool {
	if !s.Active {
		return false
	}
	_, ok := s.EventTypeSet[eventType]
	return ok
}

// Status is the delivery lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSending    Status = "SENDING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRetrying   Status = "RETRYING"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Delivery is one attempt-tracked webhook delivery.
type Delivery struct {
	ID              string
	SubscriptionID  string
	OrganizationID  string
	EventID         string
	Priority        Priority
	Status          Status
	Attempt         int
	MaxAttempts     int
	URL             string
	Body            []byte
	RequestHeaders  map[string]string
	ResponseStatus  *int
	ResponseBody    string
	CreatedAt       time.Time
	SentAt          *time.Time
	CompletedAt     *time.Time
	NextRetryAt     *time.Time
	ErrorMessage    string
	ErrorCode       string
}

// Event is the canonical webhook event body published to subscribers.
type Event struct {
	ID             string
	EventType      string
	Timestamp      time.Time
	Data           map[string]any
	OrganizationID string
	UserID         string
}

// Recognized event types, per the external-interfaces contract.
const (
	EventTradeCreated               = "trade.created"
	EventTradeUpdated               = "trade.updated"
	EventTradeConfirmed             = "trade.confirmed"
	EventTradeCancelled             = "trade.cancelled"
	EventPaymentCompleted           = "payment.completed"
	EventPaymentFailed              = "payment.failed"
	EventContractSigned             = "contract.signed"
	EventContractExpired            = "contract.expired"
	EventQualityInspectionCompleted = "quality.inspection.completed"
	EventShipmentDelivered          = "shipment.delivered"
	EventUserCreated                = "user.created"
	EventUserUpdated                = "user.updated"
)
