package webhookqueue

import (
	"container/heap"
	"time"

	"github.com/rnrlcrm/tradedesk/domain/webhook"
)

// deliveryItem is one entry in an organization's priority queue.
type deliveryItem struct {
	delivery *webhook.Delivery
	seq      int64
	index    int
}

// orgQueue orders an organization's pending deliveries CRITICAL > HIGH >
// NORMAL > LOW, ties broken FIFO by enqueue sequence.
type orgQueue []*deliveryItem

func (q orgQueue) Len() int { return len(q) }

func (q orgQueue) Less(i, j int) bool {
	pi, pj := webhook.PriorityOrder(q[i].delivery.Priority), webhook.PriorityOrder(q[j].delivery.Priority)
	if pi != pj {
		return pi < pj
	}
	return q[i].seq < q[j].seq
}

func (q orgQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *orgQueue) Push(x any) {
	item := x.(*deliveryItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *orgQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*orgQueue)(nil)

// pendingRetry tracks a delivery waiting for its backoff to elapse before
// rejoining its organization's priority queue.
type pendingRetry struct {
	delivery *webhook.Delivery
	orgID    string
	readyAt  time.Time
	index    int
}

// retryHeap orders pendingRetry entries by readyAt, earliest first.
type retryHeap []*pendingRetry

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *retryHeap) Push(x any) {
	item := x.(*pendingRetry)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*retryHeap)(nil)
