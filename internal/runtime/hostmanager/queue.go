package hostmanager

import (
	"github.com/vnaveen0/glow/internal/runtime"
)

// inferRequest is one queued inference run.
type inferRequest struct {
	networkName string
	ectx        *runtime.ExecutionContext
	callback    runtime.ResultCallback
	priority    uint64
	requestID   runtime.RunIdentifier
}

// requestQueue is a min-heap ordered by priority, then submission order.
// It implements container/heap.Interface.
type requestQueue []*inferRequest

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].requestID < q[j].requestID
}

func (q requestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *requestQueue) Push(x any) { *q = append(*q, x.(*inferRequest)) }

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
