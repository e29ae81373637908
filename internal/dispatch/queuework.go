// File: internal/dispatch/queuework.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// queue_work is the dispatcher's overflow path: when a worker's ring
// is full, the packet is not dropped but parked here and retried at
// the front of the next poll cycle, preserving per-connection arrival
// order. Backed by eapache/queue's ring-buffer-backed deque instead of
// a hand-rolled slice, the way this module reaches for an off-the-
// shelf container wherever the standard library's slice/list tools
// would otherwise be reimplemented by hand.

package dispatch

import "github.com/eapache/queue"

// pendingWork pairs a WorkItem with the worker index it is destined
// for, since queue_work holds items for every worker, not just one.
type pendingWork struct {
	workerIdx int
	item      WorkItem
}

// workQueue is a FIFO of pendingWork entries bounded at depth, past
// which the oldest entry is dropped to bound dispatcher memory under
// sustained overload; DroppedCount recounts how many are lost, for
// observability.
type workQueue struct {
	q            *queue.Queue
	depth        int
	droppedCount uint64
}

func newWorkQueue(depth int) *workQueue {
	return &workQueue{q: queue.New(), depth: depth}
}

func (w *workQueue) Push(workerIdx int, item WorkItem) {
	if w.q.Length() >= w.depth {
		w.q.Remove()
		w.droppedCount++
	}
	w.q.Add(pendingWork{workerIdx: workerIdx, item: item})
}

// Peek returns the oldest pending entry without removing it, so the
// caller can retry enqueuing it and only pop on success.
func (w *workQueue) Peek() (pendingWork, bool) {
	if w.q.Length() == 0 {
		return pendingWork{}, false
	}
	return w.q.Peek().(pendingWork), true
}

func (w *workQueue) Pop() {
	if w.q.Length() > 0 {
		w.q.Remove()
	}
}

func (w *workQueue) Len() int {
	return w.q.Length()
}

// DroppedCount reports how many overflow entries were discarded
// because queue_work itself was full.
func (w *workQueue) DroppedCount() uint64 {
	return w.droppedCount
}
