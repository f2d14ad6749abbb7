// Package notify dispatches counterparty notifications for matches found by
// the dispatcher in matchservice: per-recipient rate limiting, opt-in/out
// preferences, and channel selection, using one golang.org/x/time/rate
// limiter per recipient.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rnrlcrm/tradedesk/domain/availability"
	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/domain/requirement"
	"github.com/rnrlcrm/tradedesk/internal/logging"
)

// DefaultRateLimitWindow is the minimum interval between two notifications
// to the same recipient.
const DefaultRateLimitWindow = 60 * time.Second

// Preferences controls whether and how a user wants match notifications.
type Preferences struct {
	Enabled  bool
	Channels []string
}

// DefaultPreferences returns the opt-in default (PUSH channel, enabled).
// Used whenever no PreferencesStore is wired — a real preferences table is
// future work, same as the service this was modeled on.
func DefaultPreferences() Preferences {
	return Preferences{Enabled: true, Channels: []string{"PUSH"}}
}

// PreferencesStore resolves a recipient's notification preferences.
type PreferencesStore interface {
	Get(ctx context.Context, userID string) (Preferences, error)
}

// staticPreferences always returns DefaultPreferences.
type staticPreferences struct{}

func (staticPreferences) Get(ctx context.Context, userID string) (Preferences, error) {
	return DefaultPreferences(), nil
}

// Sender delivers one notification through a recipient's enabled channels.
type Sender interface {
	Send(ctx context.Context, userID, messageType string, channels []string, m match.Result) error
}

// logSender logs the notification instead of dispatching it over a real
// channel — a stand-in until PUSH/EMAIL/SMS transports are wired.
type logSender struct {
	log *logging.Logger
}

func (s logSender) Send(ctx context.Context, userID, messageType string, channels []string, m match.Result) error {
	s.log.WithFields(map[string]interface{}{
		"user_id":         userID,
		"message_type":    messageType,
		"channels":        channels,
		"requirement_id":  m.RequirementID,
		"availability_id": m.AvailabilityID,
		"score":           m.Score,
	}).Info("notify: dispatched match notification")
	return nil
}

// RequirementAvailabilityLookup is the narrow read surface Dispatcher needs
// to translate a match's requirement/availability id into a party id.
type RequirementAvailabilityLookup interface {
	GetRequirement(ctx context.Context, id string, withRelations bool) (*requirement.Requirement, error)
	GetAvailability(ctx context.Context, id string, withRelations bool) (*availability.Availability, error)
}

// Dispatcher rate-limits, filters by preference, and sends match
// notifications. It implements matchservice.Notifier (Notify) and the
// unexported recipientResolver capability (ResolveBuyer/ResolveSeller) the
// dispatcher uses to translate a match into a recipient id.
type Dispatcher struct {
	gw     RequirementAvailabilityLookup
	prefs  PreferencesStore
	sender Sender
	log    *logging.Logger

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	rateWindow time.Duration

	sent    int64
	skipped int64
}

// New constructs a Dispatcher with the given collaborators.
func New(gw RequirementAvailabilityLookup, prefs PreferencesStore, sender Sender, rateWindow time.Duration, log *logging.Logger) *Dispatcher {
	if rateWindow <= 0 {
		rateWindow = DefaultRateLimitWindow
	}
	return &Dispatcher{
		gw:         gw,
		prefs:      prefs,
		sender:     sender,
		log:        log,
		limiters:   make(map[string]*rate.Limiter),
		rateWindow: rateWindow,
	}
}

// NewDefault constructs a Dispatcher with static opt-in preferences and a
// logging stand-in sender — enough to exercise the rate-limiting and
// recipient-resolution path before a real preferences table or transport
// exists.
func NewDefault(gw RequirementAvailabilityLookup, log *logging.Logger) *Dispatcher {
	return New(gw, staticPreferences{}, logSender{log: log}, DefaultRateLimitWindow, log)
}

func (d *Dispatcher) limiterFor(userID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.rateWindow), 1)
		d.limiters[userID] = l
	}
	return l
}

// Notify rate-limits, checks preferences, and sends a single notification.
// Failures never propagate — a bad recipient or transport error is logged
// and dropped, never retried against the matching pipeline.
func (d *Dispatcher) Notify(ctx context.Context, recipientID, messageType string, m match.Result) {
	if recipientID == "" {
		return
	}
	if !d.limiterFor(recipientID).Allow() {
		atomic.AddInt64(&d.skipped, 1)
		return
	}

	prefs, err := d.prefs.Get(ctx, recipientID)
	if err != nil {
		prefs = DefaultPreferences()
	}
	if !prefs.Enabled {
		atomic.AddInt64(&d.skipped, 1)
		return
	}

	if err := d.sender.Send(ctx, recipientID, messageType, prefs.Channels, m); err != nil {
		d.log.WithError(err).WithFields(map[string]interface{}{"user_id": recipientID}).Warn("notify: send failed")
		return
	}
	atomic.AddInt64(&d.sent, 1)
}

// ResolveBuyer returns the buyer party id behind a requirement.
func (d *Dispatcher) ResolveBuyer(ctx context.Context, requirementID string) (string, error) {
	req, err := d.gw.GetRequirement(ctx, requirementID, false)
	if err != nil {
		return "", err
	}
	return req.BuyerID, nil
}

// ResolveSeller returns the seller party id behind an availability.
func (d *Dispatcher) ResolveSeller(ctx context.Context, availabilityID string) (string, error) {
	avail, err := d.gw.GetAvailability(ctx, availabilityID, false)
	if err != nil {
		return "", err
	}
	return avail.SellerID, nil
}

// Sent returns the number of notifications successfully sent.
func (d *Dispatcher) Sent() int64 { return atomic.LoadInt64(&d.sent) }

// Skipped returns the number of notifications dropped by rate limiting or
// preferences.
func (d *Dispatcher) Skipped() int64 { return atomic.LoadInt64(&d.skipped) }
