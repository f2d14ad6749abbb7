// Package events provides the in-process publish/subscribe bus that wires
// the matching core together: requirement/availability lifecycle changes,
// match discovery, and risk-status transitions all flow through here rather
// than via direct package-to-package calls.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Domain event names. Handlers subscribe to these by exact string match.
const (
	RequirementCreated = "requirement.created"
	RequirementUpdated = "requirement.updated"
	RequirementClosed  = "requirement.closed"

	AvailabilityCreated = "availability.created"
	AvailabilityUpdated = "availability.updated"
	AvailabilityClosed  = "availability.closed"

	MatchFound = "match.found"

	RiskStatusChanged = "risk_status.changed"

	WebhookDeliverySucceeded = "webhook.delivery.succeeded"
	WebhookDeliveryExhausted = "webhook.delivery.exhausted"
)

// DefaultBusTimeout is the deadline placed on the context each handler
// invocation receives; the bus does not stop a handler that ignores it.
const DefaultBusTimeout = 5 * time.Second

// Handler processes a published event payload. A non-nil error is recorded
// against the publish call but never blocks delivery to other handlers.
type Handler func(ctx context.Context, payload any) error

// BusConfig configures per-handler timeout behavior.
type BusConfig struct {
	// Timeout is the per-handler context deadline. Zero uses DefaultBusTimeout.
	Timeout time.Duration
}

// Bus is a local, in-process publish/subscribe dispatcher. Handlers for the
// same event run concurrently on Publish; Publish blocks until every
// handler has returned and returns a joined error describing any failures.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]Handler
	timeout time.Duration
}

// NewBus creates a bus with default configuration.
func NewBus() *Bus {
	return NewBusWithConfig(BusConfig{})
}

// NewBusWithConfig creates a bus with the given configuration.
func NewBusWithConfig(cfg BusConfig) *Bus {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBusTimeout
	}
	return &Bus{
		subs:    make(map[string][]Handler),
		timeout: cfg.Timeout,
	}
}

// Subscribe registers handler for event. Handlers are invoked in
// registration order is not guaranteed since Publish fans out concurrently.
func (b *Bus) Subscribe(event string, handler Handler) error {
	if event == "" {
		return fmt.Errorf("events: event name required")
	}
	if handler == nil {
		return fmt.Errorf("events: handler is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], handler)
	return nil
}

// Publish fans the payload out to every handler subscribed to event.
// Each handler invocation gets its own timeout context so one slow
// subscriber cannot block delivery to the others. Publish waits for all
// handlers to finish and returns a joined error if any failed.
func (b *Bus) Publish(ctx context.Context, event string, payload any) error {
	b.mu.RLock()
	handlers := append([]Handler{}, b.subs[event]...)
	timeout := b.timeout
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	errChan := make(chan error, len(handlers))
	var wg sync.WaitGroup

	for i, handler := range handlers {
		wg.Add(1)
		go func(h Handler, idx int) {
			defer wg.Done()

			hCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := h(hCtx, payload); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					errChan <- fmt.Errorf("events: %s handler[%d]: timeout after %v", event, idx, timeout)
				} else {
					errChan <- fmt.Errorf("events: %s handler[%d]: %w", event, idx, err)
				}
			}
		}(handler, i)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of handlers registered for event.
func (b *Bus) Subscribers(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Events returns every event name with at least one subscriber.
func (b *Bus) Events() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	return names
}

// Clear removes all subscribers. Intended for test teardown.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]Handler)
}
