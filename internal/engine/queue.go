package engine

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"

	"github.com/NamanBalaji/nativedl/internal/logger"
)

// queueItem wraps a download ID with its arrival order for the heap.
type queueItem struct {
	ID    uuid.UUID
	seq   uint64
	index int
}

// downloadHeap implements heap.Interface as a min-heap by arrival order.
type downloadHeap []*queueItem

func (h downloadHeap) Len() int           { return len(h) }
func (h downloadHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h downloadHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *downloadHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *downloadHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	item.index = -1
	*h = old[:n-1]
	return item
}

// QueueProcessor runs queued downloads in arrival order, at most
// maxConcurrent at a time, and exits its dispatchLoop when stopCh is closed.
// startFn runs one download to completion; its slot is freed when it returns.
type QueueProcessor struct {
	mu            sync.Mutex
	cond          *sync.Cond
	heap          downloadHeap
	items         map[uuid.UUID]*queueItem
	startFn       func(uuid.UUID) error
	maxConcurrent int
	activeCount   int
	seq           uint64
	stopCh        <-chan struct{}
}

// NewQueueProcessor creates and starts the processor loop.
func NewQueueProcessor(maxConcurrent int, startFn func(uuid.UUID) error, stopCh <-chan struct{}) *QueueProcessor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	qp := &QueueProcessor{
		heap:          make(downloadHeap, 0),
		items:         make(map[uuid.UUID]*queueItem),
		startFn:       startFn,
		maxConcurrent: maxConcurrent,
		stopCh:        stopCh,
	}
	qp.cond = sync.NewCond(&qp.mu)

	go qp.dispatchLoop()

	// Wake a waiting dispatchLoop on shutdown.
	go func() {
		<-stopCh
		qp.cond.L.Lock()
		qp.cond.Broadcast()
		qp.cond.L.Unlock()
	}()

	return qp
}

// Enqueue appends a download ID to the queue. IDs already waiting are ignored.
func (q *QueueProcessor) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; ok {
		return
	}

	q.seq++
	item := &queueItem{ID: id, seq: q.seq}
	heap.Push(&q.heap, item)
	q.items[id] = item
	logger.Debugf("Enqueued download %s (position %d)", id, len(q.heap))
	q.cond.Signal()
}

// Remove takes a waiting download out of the queue. It reports false if the
// ID was not waiting.
func (q *QueueProcessor) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return false
	}

	heap.Remove(&q.heap, item.index)
	delete(q.items, id)
	return true
}

// Len returns the number of waiting downloads.
func (q *QueueProcessor) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Active returns the number of running downloads.
func (q *QueueProcessor) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeCount
}

func (q *QueueProcessor) stopped() bool {
	select {
	case <-q.stopCh:
		return true
	default:
		return false
	}
}

// dispatchLoop pops items when slots free and starts workers.
func (q *QueueProcessor) dispatchLoop() {
	for {
		q.mu.Lock()
		for !q.stopped() && (q.activeCount >= q.maxConcurrent || len(q.heap) == 0) {
			q.cond.Wait()
		}

		if q.stopped() {
			q.mu.Unlock()
			return
		}

		item := heap.Pop(&q.heap).(*queueItem)
		delete(q.items, item.ID)
		q.activeCount++
		q.mu.Unlock()

		go func(id uuid.UUID) {
			defer func() {
				q.mu.Lock()
				q.activeCount--
				q.cond.Signal()
				q.mu.Unlock()
			}()

			if err := q.startFn(id); err != nil {
				logger.Errorf("Download %s failed to run: %v", id, err)
			}
		}(item.ID)
	}
}
