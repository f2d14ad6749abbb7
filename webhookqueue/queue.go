// Package webhookqueue implements the per-tenant priority queue, retry
// scheduler, and dead-letter queue for the webhook delivery subsystem.
package webhookqueue

import (
	"container/heap"
	"sync"
	"time"

	svcerrors "github.com/rnrlcrm/tradedesk/internal/svcerrors"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/internal/metrics"
)

// Config tunes retry backoff. Mirrors the teacher's worker-config idiom of a
// small struct with a DefaultConfig constructor.
type Config struct {
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// DefaultConfig matches the original service's 3 retries, 60s base, 1h cap.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseRetryDelay: 60 * time.Second,
		MaxRetryDelay:  time.Hour,
	}
}

// Persister durably mirrors queue and DLQ writes. The in-memory queue is
// always authoritative for worker dequeue order; a Persister only needs to
// survive process restarts. Satisfied by RedisPersister or NoopPersister.
type Persister interface {
	PersistQueued(orgID string, priority webhook.Priority, d *webhook.Delivery)
	PersistDLQ(orgID string, d *webhook.Delivery)
}

// NoopPersister discards everything — the default when no durable backing
// store is configured.
type NoopPersister struct{}

func (NoopPersister) PersistQueued(string, webhook.Priority, *webhook.Delivery) {}
func (NoopPersister) PersistDLQ(string, *webhook.Delivery)                     {}

// Stats is a point-in-time snapshot of one organization's queue state.
type Stats struct {
	OrganizationID string
	QueueDepths    map[webhook.Priority]int
	DLQSize        int
	TotalEnqueued  int64
	TotalDelivered int64
	TotalFailed    int64
	TotalRetries   int64
}

// Queue is a multi-tenant, priority-ordered webhook delivery queue with
// exponential-backoff retry scheduling and a dead-letter queue, grounded on
// the original service's per-organization in-memory queue map plus an
// optional Redis mirror for durability across worker restarts.
type Queue struct {
	cfg       Config
	persister Persister
	log       *logging.Logger
	met       *metrics.Metrics
	service   string

	mu      sync.Mutex
	queues  map[string]*orgQueue
	dlq     map[string][]*webhook.Delivery
	seq     int64
	retries retryHeap

	totalEnqueued  int64
	totalDelivered int64
	totalFailed    int64
	totalRetries   int64

	retryCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs a Queue. persister may be nil, which is equivalent to
// NoopPersister.
func New(cfg Config, persister Persister, log *logging.Logger, met *metrics.Metrics, service string) *Queue {
	if persister == nil {
		persister = NoopPersister{}
	}
	return &Queue{
		cfg:       cfg,
		persister: persister,
		log:       log,
		met:       met,
		service:   service,
		queues:    make(map[string]*orgQueue),
		dlq:       make(map[string][]*webhook.Delivery),
		retryCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (q *Queue) orgQueueLocked(orgID string) *orgQueue {
	oq, ok := q.queues[orgID]
	if !ok {
		oq = &orgQueue{}
		heap.Init(oq)
		q.queues[orgID] = oq
	}
	return oq
}

// Enqueue adds a delivery to its organization's priority queue.
func (q *Queue) Enqueue(orgID string, priority webhook.Priority, d *webhook.Delivery) {
	q.mu.Lock()
	d.Priority = priority
	oq := q.orgQueueLocked(orgID)
	q.seq++
	heap.Push(oq, &deliveryItem{delivery: d, seq: q.seq})
	q.totalEnqueued++
	q.mu.Unlock()

	q.persister.PersistQueued(orgID, priority, d)
	q.log.WithFields(map[string]interface{}{
		"delivery_id":     d.ID,
		"organization_id": orgID,
		"priority":        priority,
	}).Info("webhookqueue: enqueued delivery")
}

// Dequeue pops the highest-priority, oldest-enqueued delivery for orgID, or
// nil if the organization's queue is empty.
func (q *Queue) Dequeue(orgID string) *webhook.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	oq, ok := q.queues[orgID]
	if !ok || oq.Len() == 0 {
		return nil
	}
	item := heap.Pop(oq).(*deliveryItem)
	return item.delivery
}

// EnqueueRetry schedules a failed delivery for redelivery with exponential
// backoff (delay = min(base * 2^(attempt-1), max)), or moves it to the
// dead-letter queue once its attempt count reaches the delivery's
// MaxAttempts. Retries rejoin their
// organization's queue at HIGH priority, same as the original service.
func (q *Queue) EnqueueRetry(orgID string, d *webhook.Delivery) {
	q.mu.Lock()
	d.Attempt++
	q.totalRetries++
	attempt := d.Attempt
	q.mu.Unlock()

	if attempt >= d.MaxAttempts {
		q.MoveToDLQ(orgID, d)
		return
	}

	delay := q.cfg.BaseRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > q.cfg.MaxRetryDelay {
		delay = q.cfg.MaxRetryDelay
	}
	readyAt := time.Now().Add(delay)

	d.Status = webhook.StatusRetrying
	d.NextRetryAt = &readyAt

	q.log.WithFields(map[string]interface{}{
		"delivery_id":     d.ID,
		"organization_id": orgID,
		"attempt":         attempt,
		"max_attempts":    d.MaxAttempts,
		"delay_seconds":   delay.Seconds(),
	}).Info("webhookqueue: scheduling retry")

	q.mu.Lock()
	heap.Push(&q.retries, &pendingRetry{delivery: d, orgID: orgID, readyAt: readyAt})
	q.mu.Unlock()

	select {
	case q.retryCh <- struct{}{}:
	default:
	}
}

// MoveToDLQ marks d dead-lettered and appends it to orgID's DLQ.
func (q *Queue) MoveToDLQ(orgID string, d *webhook.Delivery) {
	now := time.Now()
	d.Status = webhook.StatusDeadLetter
	d.CompletedAt = &now

	q.mu.Lock()
	q.dlq[orgID] = append(q.dlq[orgID], d)
	q.totalFailed++
	dlqSize := len(q.dlq[orgID])
	q.mu.Unlock()

	q.persister.PersistDLQ(orgID, d)
	if q.met != nil {
		q.met.SetWebhookDLQSize(q.service, orgID, dlqSize)
	}
	q.log.WithFields(map[string]interface{}{
		"delivery_id":     d.ID,
		"organization_id": orgID,
		"attempts":        d.Attempt,
	}).Warn("webhookqueue: moved delivery to dead-letter queue")
}

// MarkDelivered records a successful delivery.
func (q *Queue) MarkDelivered(d *webhook.Delivery, responseStatus int, responseBody string) {
	now := time.Now()
	d.Status = webhook.StatusSuccess
	d.ResponseStatus = &responseStatus
	d.ResponseBody = responseBody
	d.CompletedAt = &now

	q.mu.Lock()
	q.totalDelivered++
	q.mu.Unlock()

	q.log.WithFields(map[string]interface{}{
		"delivery_id":     d.ID,
		"response_status": responseStatus,
	}).Info("webhookqueue: delivery succeeded")
}

// MarkFailed records a failed delivery attempt without yet deciding retry
// vs. dead-letter — callers invoke EnqueueRetry afterward.
func (q *Queue) MarkFailed(d *webhook.Delivery, errMessage, errCode string) {
	d.Status = webhook.StatusFailed
	d.ErrorMessage = errMessage
	d.ErrorCode = errCode

	q.log.WithFields(map[string]interface{}{
		"delivery_id": d.ID,
		"error":       errMessage,
		"error_code":  errCode,
	}).Error("webhookqueue: delivery failed")
}

// Stats returns a snapshot of orgID's queue state.
func (q *Queue) Stats(orgID string) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	depths := map[webhook.Priority]int{
		webhook.PriorityCritical: 0,
		webhook.PriorityHigh:     0,
		webhook.PriorityNormal:   0,
		webhook.PriorityLow:      0,
	}
	if oq, ok := q.queues[orgID]; ok {
		for _, item := range *oq {
			depths[item.delivery.Priority]++
		}
	}
	return Stats{
		OrganizationID: orgID,
		QueueDepths:    depths,
		DLQSize:        len(q.dlq[orgID]),
		TotalEnqueued:  q.totalEnqueued,
		TotalDelivered: q.totalDelivered,
		TotalFailed:    q.totalFailed,
		TotalRetries:   q.totalRetries,
	}
}

// DLQItems returns up to limit dead-lettered deliveries for orgID.
func (q *Queue) DLQItems(orgID string, limit int) []*webhook.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.dlq[orgID]
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	out := make([]*webhook.Delivery, limit)
	copy(out, items[:limit])
	return out
}

// RetryDLQItem removes deliveryID from orgID's DLQ, resets its attempt
// counter, and re-enqueues it at NORMAL priority.
func (q *Queue) RetryDLQItem(orgID, deliveryID string) (*webhook.Delivery, error) {
	q.mu.Lock()
	items := q.dlq[orgID]
	idx := -1
	for i, d := range items {
		if d.ID == deliveryID {
			idx = i
			break
		}
	}
	if idx == -1 {
		q.mu.Unlock()
		return nil, svcerrors.NotFound("webhook_dlq_item", deliveryID)
	}
	d := items[idx]
	q.dlq[orgID] = append(items[:idx], items[idx+1:]...)
	q.mu.Unlock()

	d.Status = webhook.StatusPending
	d.Attempt = 0
	d.ErrorMessage = ""
	d.ErrorCode = ""

	q.Enqueue(orgID, webhook.PriorityNormal, d)
	q.log.WithFields(map[string]interface{}{
		"delivery_id":     deliveryID,
		"organization_id": orgID,
	}).Info("webhookqueue: re-queued dead-lettered delivery")
	return d, nil
}

// StartRetryScheduler runs a background loop that moves deliveries from the
// retry heap back into their organization's priority queue once their
// backoff has elapsed. It returns immediately; call Stop to shut it down.
func (q *Queue) StartRetryScheduler() {
	go q.runRetryScheduler()
}

func (q *Queue) runRetryScheduler() {
	defer close(q.doneCh)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.mu.Lock()
		var wait time.Duration
		if q.retries.Len() > 0 {
			wait = time.Until(q.retries[0].readyAt)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.stopCh:
			return
		case <-timer.C:
			q.drainReadyRetries()
		case <-q.retryCh:
		}
	}
}

func (q *Queue) drainReadyRetries() {
	now := time.Now()
	q.mu.Lock()
	var ready []*pendingRetry
	for q.retries.Len() > 0 && !q.retries[0].readyAt.After(now) {
		ready = append(ready, heap.Pop(&q.retries).(*pendingRetry))
	}
	q.mu.Unlock()

	for _, r := range ready {
		q.Enqueue(r.orgID, webhook.PriorityHigh, r.delivery)
	}
}

// Stop halts the retry scheduler goroutine started by StartRetryScheduler.
func (q *Queue) Stop() {
	close(q.stopCh)
	<-q.doneCh
}
