// Package queue implements the per-language FIFO-within-priority task queue
// of spec.md section 4.5, adapted from the grounding codebase's
// container/heap-based TaskQueue (there ordered by start time; here ordered
// by priority with a submission sequence as the tie-break).
package queue

import (
	"container/heap"
	"sync"

	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/task"
	"github.com/scratchlab/execorch/types"
)

// entry wraps a task with the monotonic sequence number used to break
// priority ties in submission order.
type entry struct {
	task *task.Task
	seq  int64
}

// heapSlice is the container/heap implementation: max-heap on priority, then
// min-heap on sequence (earlier submissions first).
type heapSlice []*entry

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	pi, pj := h[i].task.Request.Priority, h[j].task.Request.Priority
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *heapSlice) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a bounded, priority-ordered FIFO-within-priority queue of pending
// tasks for one language. Cancel-by-id is O(n), as spec.md section 4.5
// allows.
type Queue struct {
	mu      sync.Mutex
	heap    heapSlice
	byID    map[string]*entry
	nextSeq int64
	ceiling int
}

// DefaultCeiling is the queue-full threshold spec.md section 4.5 and 6
// default to, configurable per pool.
const DefaultCeiling = 100

// New creates an empty queue with the given ceiling (DefaultCeiling if <= 0).
func New(ceiling int) *Queue {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	q := &Queue{
		byID:    make(map[string]*entry),
		ceiling: ceiling,
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a task to the queue. It fails with errkind.QueueFull if the
// queue is already at its ceiling, per spec.md section 4.5 and 6.
func (q *Queue) Enqueue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) >= q.ceiling {
		return errkind.New(errkind.QueueFull, "queue ceiling reached")
	}

	e := &entry{task: t, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.heap, e)
	q.byID[t.ID()] = e
	return nil
}

// Dequeue removes and returns the highest-priority, earliest-submitted
// task, or nil if the queue is empty.
func (q *Queue) Dequeue() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	e := heap.Pop(&q.heap).(*entry)
	delete(q.byID, e.task.ID())
	return e.task
}

// Peek returns the next task to be dequeued without removing it.
func (q *Queue) Peek() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].task
}

// Cancel removes a queued task by id and resolves it as cancelled, per the
// cancellation algorithm's first step (spec.md section 4.6). Returns true
// if the task was found in this queue.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	e, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	idx := -1
	for i, x := range q.heap {
		if x == e {
			idx = i
			break
		}
	}
	if idx >= 0 {
		heap.Remove(&q.heap, idx)
	}
	delete(q.byID, id)
	q.mu.Unlock()

	e.task.Resolve(types.Err(errkind.Cancelled, "cancelled while queued"))
	return true
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Empty reports whether the queue has no pending tasks.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}
