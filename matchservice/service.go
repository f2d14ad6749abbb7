// Package matchservice is the event-driven dispatcher sitting in front of
// the Matching Engine: it turns requirement.created / availability.created /
// risk_status.changed domain events into prioritized matching work, runs a
// single background worker that drains the queue in priority order, and
// falls back to a safety-sweep cron for anything an event handler missed.
package matchservice

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rnrlcrm/tradedesk/domain/match"
	"github.com/rnrlcrm/tradedesk/internal/events"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/internal/metrics"
	svcerrors "github.com/rnrlcrm/tradedesk/internal/svcerrors"
	"github.com/rnrlcrm/tradedesk/matching"
)

// SafetySweepGateway is the narrow slice of storage.Gateway the safety cron
// needs on top of the core Gateway interface. Both InMemoryGateway and
// PostgresGateway satisfy it structurally.
type SafetySweepGateway interface {
	RecentlyActiveRequirementIDs(ctx context.Context, since time.Time) ([]string, error)
	RecentlyActiveAvailabilityIDs(ctx context.Context, since time.Time) ([]string, error)
}

// Config tunes the dispatcher's batching, retry, and safety-sweep behavior.
type Config struct {
	// BatchDelay is slept after each processed request before the next one
	// is dequeued, to let a burst of events settle into one micro-batch.
	BatchDelay time.Duration
	// MaxRetries bounds how many times a failed request is re-enqueued.
	MaxRetries int
	// MaxMatchesToNotify caps how many top-scoring results trigger a
	// notification per processed request.
	MaxMatchesToNotify int

	// SafetyCronEnabled turns the fallback sweep on. Primary matching is
	// event-driven; this only catches events a subscriber missed.
	SafetyCronEnabled bool
	// SafetyCronSchedule is a robfig/cron/v3 schedule spec.
	SafetyCronSchedule string
	// SafetyLookback bounds how far back the sweep looks for recently
	// created ACTIVE entities.
	SafetyLookback time.Duration
}

// DefaultConfig mirrors the original service's defaults: a 30s sweep
// looking back 5 minutes, up to 3 retries, top 5 matches notified.
func DefaultConfig() Config {
	return Config{
		BatchDelay:         0,
		MaxRetries:         3,
		MaxMatchesToNotify: 5,
		SafetyCronEnabled:  true,
		SafetyCronSchedule: "@every 30s",
		SafetyLookback:     5 * time.Minute,
	}
}

// counters tallies the dispatcher's own activity, exposed via Metrics().
type counters struct {
	totalProcessed        int64
	highPriority           int64
	mediumPriority         int64
	lowPriority            int64
	notificationsSent      int64
	notificationsSkipped   int64
}

// Service is the event-driven matching dispatcher.
type Service struct {
	gw       SafetySweepGateway
	engine   *matching.Engine
	notifier Notifier
	bus      *events.Bus
	cfg      Config
	log      *logging.Logger
	met      *metrics.Metrics
	cron     *cron.Cron

	mu         sync.Mutex
	cond       *sync.Cond
	queue      matchPriorityQueue
	processing map[string]bool

	running int32
	stopCh  chan struct{}
	doneCh  chan struct{}

	counters counters
}

// New constructs a Service. Call Start to subscribe to the bus and launch
// the background worker and safety cron.
func New(gw SafetySweepGateway, engine *matching.Engine, notifier Notifier, bus *events.Bus, cfg Config, log *logging.Logger, met *metrics.Metrics) *Service {
	s := &Service{
		gw:         gw,
		engine:     engine,
		notifier:   notifier,
		bus:        bus,
		cfg:        cfg,
		log:        log,
		met:        met,
		processing: make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func processingKey(kind entityKind, id string) string {
	return string(kind) + ":" + id
}

// Start subscribes the dispatcher's event handlers to bus, launches the
// background worker, and (if enabled) the safety-sweep cron. Safe to call
// once per Service.
func (s *Service) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return fmt.Errorf("matchservice: already running")
	}

	if err := s.bus.Subscribe(events.RequirementCreated, s.handleRequirementCreated); err != nil {
		return err
	}
	if err := s.bus.Subscribe(events.AvailabilityCreated, s.handleAvailabilityCreated); err != nil {
		return err
	}
	if err := s.bus.Subscribe(events.RiskStatusChanged, s.handleRiskStatusChanged); err != nil {
		return err
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.runWorker(ctx)

	if s.cfg.SafetyCronEnabled {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cfg.SafetyCronSchedule, func() { s.runSafetyCron(context.Background()) }); err != nil {
			return fmt.Errorf("matchservice: invalid safety cron schedule %q: %w", s.cfg.SafetyCronSchedule, err)
		}
		s.cron.Start()
	}

	s.log.WithFields(map[string]interface{}{"schedule": s.cfg.SafetyCronSchedule}).Info("matchservice: worker started")
	return nil
}

// Stop gracefully shuts down the worker and cron, and is idempotent.
func (s *Service) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()
	}
	close(s.stopCh)
	s.cond.Broadcast()
	<-s.doneCh
	s.log.WithFields(map[string]interface{}{}).Info("matchservice: worker stopped")
}

// ----------------------------------------------------------------------
// Event handlers (primary triggers)
// ----------------------------------------------------------------------

func (s *Service) handleRequirementCreated(ctx context.Context, payload any) error {
	evt, ok := payload.(events.DomainEvent)
	if !ok || evt.AggregateID == "" {
		return fmt.Errorf("matchservice: requirement.created payload missing aggregate id")
	}
	s.enqueue(PriorityMedium, entityRequirement, evt.AggregateID)
	return nil
}

func (s *Service) handleAvailabilityCreated(ctx context.Context, payload any) error {
	evt, ok := payload.(events.DomainEvent)
	if !ok || evt.AggregateID == "" {
		return fmt.Errorf("matchservice: availability.created payload missing aggregate id")
	}
	s.enqueue(PriorityMedium, entityAvailability, evt.AggregateID)
	return nil
}

func (s *Service) handleRiskStatusChanged(ctx context.Context, payload any) error {
	evt, ok := payload.(events.DomainEvent)
	if !ok {
		return fmt.Errorf("matchservice: risk_status.changed payload malformed")
	}
	rp, ok := evt.Payload.(RiskStatusChangedPayload)
	if !ok {
		return fmt.Errorf("matchservice: risk_status.changed payload missing requirement/availability ids")
	}
	if rp.RequirementID != "" {
		s.enqueue(PriorityHigh, entityRequirement, rp.RequirementID)
	}
	if rp.AvailabilityID != "" {
		s.enqueue(PriorityHigh, entityAvailability, rp.AvailabilityID)
	}
	return nil
}

// ----------------------------------------------------------------------
// Queue management
// ----------------------------------------------------------------------

// enqueue adds a match request unless the entity is already queued or
// in-flight.
func (s *Service) enqueue(priority Priority, kind entityKind, entityID string) {
	key := processingKey(kind, entityID)

	s.mu.Lock()
	if s.processing[key] {
		s.mu.Unlock()
		return
	}
	s.processing[key] = true
	heap.Push(&s.queue, &matchRequest{
		priority:  priority,
		kind:      kind,
		entityID:  entityID,
		createdAt: time.Now(),
	})
	s.mu.Unlock()
	s.cond.Signal()
}

// reenqueue puts a failed request back on the queue at its original
// priority with an incremented retry count, without the duplicate check
// (the entity was cleared from the in-flight set when the first attempt
// finished).
func (s *Service) reenqueue(req *matchRequest) {
	key := processingKey(req.kind, req.entityID)

	s.mu.Lock()
	s.processing[key] = true
	heap.Push(&s.queue, &matchRequest{
		priority:   req.priority,
		kind:       req.kind,
		entityID:   req.entityID,
		createdAt:  time.Now(),
		retryCount: req.retryCount,
	})
	s.mu.Unlock()
	s.cond.Signal()
}

// QueueSize returns the number of requests currently queued (not counting
// one in flight inside the worker).
func (s *Service) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ----------------------------------------------------------------------
// Worker loop
// ----------------------------------------------------------------------

func (s *Service) runWorker(ctx context.Context) {
	defer close(s.doneCh)

	for {
		req := s.dequeue()
		if req == nil {
			return // stopped
		}

		s.processRequest(ctx, req)

		s.mu.Lock()
		delete(s.processing, processingKey(req.kind, req.entityID))
		s.mu.Unlock()

		if s.cfg.BatchDelay > 0 {
			select {
			case <-time.After(s.cfg.BatchDelay):
			case <-s.stopCh:
				return
			}
		}
	}
}

// dequeue blocks until a request is available or the service is stopped,
// in which case it returns nil.
func (s *Service) dequeue() *matchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 {
		select {
		case <-s.stopCh:
			return nil
		default:
		}
		s.cond.Wait()
		select {
		case <-s.stopCh:
			return nil
		default:
		}
	}
	return heap.Pop(&s.queue).(*matchRequest)
}

func (s *Service) processRequest(ctx context.Context, req *matchRequest) {
	atomic.AddInt64(&s.counters.totalProcessed, 1)
	switch req.priority {
	case PriorityHigh:
		atomic.AddInt64(&s.counters.highPriority, 1)
	case PriorityMedium:
		atomic.AddInt64(&s.counters.mediumPriority, 1)
	case PriorityLow:
		atomic.AddInt64(&s.counters.lowPriority, 1)
	}

	var results []match.Result
	var err error
	switch req.kind {
	case entityRequirement:
		results, err = s.engine.FindMatchesForRequirement(ctx, req.entityID, nil, 0)
	case entityAvailability:
		results, err = s.engine.FindMatchesForAvailability(ctx, req.entityID, nil, 0)
	default:
		s.log.WithFields(map[string]interface{}{"kind": req.kind}).Error("matchservice: unknown entity kind")
		return
	}

	if err != nil {
		if isSkippable(err) {
			s.log.WithFields(map[string]interface{}{"kind": req.kind, "entity_id": req.entityID}).Debug("matchservice: entity no longer matchable, skipping")
			return
		}
		s.log.WithError(err).WithFields(map[string]interface{}{"kind": req.kind, "entity_id": req.entityID, "retry_count": req.retryCount}).Error("matchservice: error processing match request")
		if s.met != nil {
			s.met.RecordError("matchservice", "process_error", string(req.kind))
		}
		if req.retryCount < s.cfg.MaxRetries {
			retried := *req
			retried.retryCount++
			backoff := time.Duration(1<<retried.retryCount) * time.Second
			go func() {
				select {
				case <-time.After(backoff):
				case <-s.stopCh:
					return
				}
				s.reenqueue(&retried)
			}()
		}
		return
	}

	if len(results) > 0 {
		s.notifyMatches(ctx, results, req.kind)
	}

	s.log.WithFields(map[string]interface{}{
		"priority":   req.priority.String(),
		"kind":       req.kind,
		"entity_id":  req.entityID,
		"match_count": len(results),
	}).Info("matchservice: processed match request")
}

// isSkippable reports whether err reflects an entity that is simply no
// longer eligible to match (not found, or past its matchable state) rather
// than a transient failure worth retrying.
func isSkippable(err error) bool {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		return false
	}
	return se.Code == svcerrors.ErrCodeNotFound || se.Code == svcerrors.ErrCodeInvalidState
}

// ----------------------------------------------------------------------
// Notifications
// ----------------------------------------------------------------------

// notifyMatches fires a notification for the top-N results, routing to the
// seller when re-matching from the buyer side and vice versa. Dispatch is
// fire-and-forget: a slow or failing notifier must never stall the worker.
func (s *Service) notifyMatches(ctx context.Context, results []match.Result, side entityKind) {
	top := results
	if len(top) > s.cfg.MaxMatchesToNotify {
		top = top[:s.cfg.MaxMatchesToNotify]
	}

	for _, m := range top {
		recipientID, messageType, ok := s.recipientFor(ctx, m, side)
		if !ok {
			continue
		}
		atomic.AddInt64(&s.counters.notificationsSent, 1)
		go s.notifier.Notify(context.Background(), recipientID, messageType, m)
	}
}

// recipientFor resolves which party id should be notified about m, and with
// which message type, depending on which side triggered the match.
func (s *Service) recipientFor(ctx context.Context, m match.Result, side entityKind) (string, string, bool) {
	resolver, ok := s.notifier.(recipientResolver)
	if !ok {
		return "", "", false
	}
	if side == entityRequirement {
		sellerID, err := resolver.ResolveSeller(ctx, m.AvailabilityID)
		if err != nil || sellerID == "" {
			return "", "", false
		}
		return sellerID, MessageNewBuyerMatch, true
	}
	buyerID, err := resolver.ResolveBuyer(ctx, m.RequirementID)
	if err != nil || buyerID == "" {
		return "", "", false
	}
	return buyerID, MessageNewSellerMatch, true
}

// recipientResolver is an optional capability a Notifier can implement to
// translate a match's requirement/availability id into the party id that
// should receive it. Kept separate from Notifier itself; a notifier that
// does not implement it is never called, since no recipient can be resolved.
type recipientResolver interface {
	ResolveBuyer(ctx context.Context, requirementID string) (string, error)
	ResolveSeller(ctx context.Context, availabilityID string) (string, error)
}

// ----------------------------------------------------------------------
// Safety cron fallback
// ----------------------------------------------------------------------

// runSafetyCron re-enqueues ACTIVE requirements/availabilities created
// within the lookback window at LOW priority, catching anything an event
// subscriber missed. This is a fallback only — primary matching is
// event-driven.
func (s *Service) runSafetyCron(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.SafetyLookback)

	reqIDs, err := s.gw.RecentlyActiveRequirementIDs(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("matchservice: safety cron requirement sweep failed")
	}
	for _, id := range reqIDs {
		s.enqueue(PriorityLow, entityRequirement, id)
	}

	availIDs, err := s.gw.RecentlyActiveAvailabilityIDs(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("matchservice: safety cron availability sweep failed")
	}
	for _, id := range availIDs {
		s.enqueue(PriorityLow, entityAvailability, id)
	}

	s.log.WithFields(map[string]interface{}{"requirements": len(reqIDs), "availabilities": len(availIDs)}).Debug("matchservice: safety cron swept")
}

// ----------------------------------------------------------------------
// Metrics & monitoring
// ----------------------------------------------------------------------

// Metrics is a point-in-time snapshot of dispatcher activity, exposed for
// the ops debug endpoint.
type Metrics struct {
	TotalProcessed       int64
	HighPriority         int64
	MediumPriority       int64
	LowPriority          int64
	NotificationsSent    int64
	NotificationsSkipped int64
	QueueSize            int
	ProcessingEntities   int
	WorkerRunning        bool
}

// Snapshot returns the current counters and queue depth.
func (s *Service) Snapshot() Metrics {
	s.mu.Lock()
	queueSize := len(s.queue)
	processingCount := len(s.processing)
	s.mu.Unlock()

	return Metrics{
		TotalProcessed:       atomic.LoadInt64(&s.counters.totalProcessed),
		HighPriority:         atomic.LoadInt64(&s.counters.highPriority),
		MediumPriority:       atomic.LoadInt64(&s.counters.mediumPriority),
		LowPriority:          atomic.LoadInt64(&s.counters.lowPriority),
		NotificationsSent:    atomic.LoadInt64(&s.counters.notificationsSent),
		NotificationsSkipped: atomic.LoadInt64(&s.counters.notificationsSkipped),
		QueueSize:            queueSize,
		ProcessingEntities:   processingCount,
		WorkerRunning:        atomic.LoadInt32(&s.running) == 1,
	}
}

// HealthCheck reports whether the worker loop is running.
func (s *Service) HealthCheck() (healthy bool, detail string) {
	snap := s.Snapshot()
	if !snap.WorkerRunning {
		return false, "worker stopped"
	}
	return true, fmt.Sprintf("queue_size=%d total_processed=%d", snap.QueueSize, snap.TotalProcessed)
}
