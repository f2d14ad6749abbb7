// Package webhookdelivery signs, sends, and classifies the result of each
// webhook HTTP POST, then hands the outcome back to webhookqueue for
// retry/DLQ bookkeeping.
package webhookdelivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
	"github.com/rnrlcrm/tradedesk/internal/logging"
	"github.com/rnrlcrm/tradedesk/internal/metrics"
	"github.com/rnrlcrm/tradedesk/internal/resilience"
	"github.com/rnrlcrm/tradedesk/webhookqueue"
)

// Outcome classifies an HTTP delivery attempt's result.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeFailed       Outcome = "FAILED"
	OutcomeTimeout      Outcome = "TIMEOUT"
	OutcomeConnectError Outcome = "CONNECT_ERROR"
	OutcomeUnknownError Outcome = "UNKNOWN_ERROR"
)

// Config tunes the HTTP client and worker pool.
type Config struct {
	RequestTimeout time.Duration
	Workers        int
}

// DefaultConfig matches the teacher's CopyHTTPClientWithTimeout idiom of a
// short, explicit per-request timeout rather than an unbounded client.
func DefaultConfig() Config {
	return Config{RequestTimeout: 10 * time.Second, Workers: 4}
}

// SubscriptionLookup resolves a delivery's HMAC secret and circuit-breaker
// key. Kept minimal so Pool doesn't need the full subscription store.
type SubscriptionLookup interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*webhook.Subscription, error)
}

// Pool is a fixed-size worker pool that drains organizations' queues and
// performs signed HTTP POST deliveries, classifying every outcome and
// feeding it back into webhookqueue for retry or dead-lettering.
type Pool struct {
	cfg    Config
	client *http.Client
	queue  *webhookqueue.Queue
	subs   SubscriptionLookup
	log    *logging.Logger
	met    *metrics.Metrics

	orgsMu sync.Mutex
	orgs   map[string]struct{}

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool constructs a Pool. client may be nil, in which case a client with
// cfg.RequestTimeout is created.
func NewPool(cfg Config, client *http.Client, queue *webhookqueue.Queue, subs SubscriptionLookup, log *logging.Logger, met *metrics.Metrics) *Pool {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	} else if client.Timeout == 0 {
		copied := *client
		copied.Timeout = cfg.RequestTimeout
		client = &copied
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pool{
		cfg:      cfg,
		client:   client,
		queue:    queue,
		subs:     subs,
		log:      log,
		met:      met,
		orgs:     make(map[string]struct{}),
		breakers: make(map[string]*resilience.CircuitBreaker),
		stopCh:   make(chan struct{}),
	}
}

// Watch registers orgID as a source of work for the worker pool. On each
// poll a worker takes the first delivery it finds among the watched
// organizations' queues, tried in map iteration order, which is not fixed.
func (p *Pool) Watch(orgID string) {
	p.orgsMu.Lock()
	defer p.orgsMu.Unlock()
	p.orgs[orgID] = struct{}{}
}

func (p *Pool) watchedOrgs() []string {
	p.orgsMu.Lock()
	defer p.orgsMu.Unlock()
	out := make([]string, 0, len(p.orgs))
	for orgID := range p.orgs {
		out = append(out, orgID)
	}
	return out
}

func (p *Pool) breakerFor(subscriptionID string) *resilience.CircuitBreaker {
	p.breakersMu.Lock()
	defer p.breakersMu.Unlock()
	cb, ok := p.breakers[subscriptionID]
	if !ok {
		cb = resilience.New(resilience.DefaultConfig())
		p.breakers[subscriptionID] = cb
	}
	return cb
}

// Start launches cfg.Workers goroutines, each polling watched organizations
// for deliverable work until Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

// Stop signals all workers to exit and waits for them to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	idle := time.NewTicker(200 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-idle.C:
		}

		if !p.tryDeliverOne(ctx) {
			continue
		}
	}
}

// tryDeliverOne pops one delivery from any watched organization's queue and
// attempts it, returning true if work was found (regardless of outcome).
func (p *Pool) tryDeliverOne(ctx context.Context) bool {
	for _, orgID := range p.watchedOrgs() {
		d := p.queue.Dequeue(orgID)
		if d == nil {
			continue
		}
		p.deliver(ctx, orgID, d)
		return true
	}
	return false
}

func (p *Pool) deliver(ctx context.Context, orgID string, d *webhook.Delivery) {
	sub, err := p.subs.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		p.log.WithError(err).WithFields(map[string]interface{}{"delivery_id": d.ID}).Error("webhookdelivery: subscription lookup failed")
		p.queue.EnqueueRetry(orgID, d)
		return
	}

	cb := p.breakerFor(d.SubscriptionID)
	if cb.ShouldSkip() {
		p.log.WithFields(map[string]interface{}{
			"delivery_id":     d.ID,
			"subscription_id": d.SubscriptionID,
		}).Warn("webhookdelivery: circuit open, skipping attempt")
		p.queue.EnqueueRetry(orgID, d)
		return
	}

	signer := NewSigner(sub.HMACSecret)
	d.RequestHeaders = map[string]string{
		SignatureHeader: signer.Header(d.Body),
		"Content-Type":  "application/json",
	}

	start := time.Now()
	now := time.Now()
	d.SentAt = &now
	d.Status = webhook.StatusSending

	status, respBody, outcome, sendErr := p.send(ctx, d)
	duration := time.Since(start)

	switch outcome {
	case OutcomeSuccess:
		cb.RecordSuccess()
		p.queue.MarkDelivered(d, status, respBody)
		p.recordMetric(orgID, "success", duration)
	default:
		cb.RecordFailure()
		msg := ""
		if sendErr != nil {
			msg = sendErr.Error()
		}
		p.queue.MarkFailed(d, msg, string(outcome))
		p.recordMetric(orgID, "failed", duration)
		p.queue.EnqueueRetry(orgID, d)
	}
}

// send performs the signed HTTP POST and classifies the result. It never
// returns a Go error for an HTTP-level failure (non-2xx) — that's
// represented as OutcomeFailed with the observed status code.
func (p *Pool) send(ctx context.Context, d *webhook.Delivery) (status int, body string, outcome Outcome, err error) {
	req, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Body))
	if buildErr != nil {
		return 0, "", OutcomeUnknownError, buildErr
	}
	for k, v := range d.RequestHeaders {
		req.Header.Set(k, v)
	}

	resp, sendErr := p.client.Do(req)
	if sendErr != nil {
		return 0, "", classifyTransportError(sendErr), sendErr
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, string(respBytes), OutcomeSuccess, nil
	}
	return resp.StatusCode, string(respBytes), OutcomeFailed, nil
}

func classifyTransportError(err error) Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return OutcomeConnectError
	}
	return OutcomeUnknownError
}

func (p *Pool) recordMetric(service string, outcome string, duration time.Duration) {
	if p.met == nil {
		return
	}
	p.met.RecordWebhookDelivery(service, outcome, duration)
}

// BuildEventBody serializes a webhook.Event into the canonical JSON body
// sent to subscribers, used by callers constructing a webhook.Delivery
// before enqueueing it.
func BuildEventBody(evt webhook.Event) ([]byte, error) {
	return json.Marshal(evt)
}
