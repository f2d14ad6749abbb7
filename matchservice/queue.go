package matchservice

import (
	"container/heap"
	"time"
)

// Priority orders the match request queue: HIGH drains before MEDIUM before
// LOW, and within a priority tier requests are processed oldest first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// entityKind distinguishes which side of the pipeline a request re-enters.
type entityKind string

const (
	entityRequirement entityKind = "requirement"
	entityAvailability entityKind = "availability"
)

// matchRequest is one unit of work on the priority queue.
type matchRequest struct {
	priority   Priority
	kind       entityKind
	entityID   string
	createdAt  time.Time
	retryCount int

	index int // maintained by container/heap
}

// matchPriorityQueue implements heap.Interface: lower Priority value drains
// first, ties broken by older createdAt first.
type matchPriorityQueue []*matchRequest

func (q matchPriorityQueue) Len() int { return len(q) }

func (q matchPriorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].createdAt.Before(q[j].createdAt)
}

func (q matchPriorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *matchPriorityQueue) Push(x any) {
	req := x.(*matchRequest)
	req.index = len(*q)
	*q = append(*q, req)
}

func (q *matchPriorityQueue) Pop() any {
	old := *q
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.index = -1
	*q = old[:n-1]
	return req
}

var _ heap.Interface = (*matchPriorityQueue)(nil)
