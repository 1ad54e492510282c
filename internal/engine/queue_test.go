package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type blockingStarter struct {
	mu        sync.Mutex
	doneMap   map[uuid.UUID]chan struct{}
	startedCh chan uuid.UUID
}

func newBlockingStarter(buf int) *blockingStarter {
	return &blockingStarter{
		doneMap:   make(map[uuid.UUID]chan struct{}),
		startedCh: make(chan uuid.UUID, buf),
	}
}

func (b *blockingStarter) start(id uuid.UUID) error {
	d := make(chan struct{})
	b.mu.Lock()
	b.doneMap[id] = d
	b.mu.Unlock()
	b.startedCh <- id
	<-d
	return nil
}

func (b *blockingStarter) finish(id uuid.UUID) {
	b.mu.Lock()
	close(b.doneMap[id])
	b.mu.Unlock()
}

func (b *blockingStarter) next(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case id := <-b.startedCh:
		return id
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for start")
		return uuid.Nil
	}
}

func (b *blockingStarter) none(t *testing.T) {
	t.Helper()
	select {
	case id := <-b.startedCh:
		t.Fatalf("unexpected start before a slot freed: %v", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueProcessor_FIFOAndBlocking(t *testing.T) {
	b := newBlockingStarter(2)
	stopCh := make(chan struct{})
	qp := NewQueueProcessor(1, b.start, stopCh)
	defer close(stopCh)

	first, second := uuid.New(), uuid.New()
	qp.Enqueue(first)
	qp.Enqueue(second)

	if id := b.next(t); id != first {
		t.Fatalf("expected %v first, got %v", first, id)
	}
	b.none(t)

	b.finish(first)
	if id := b.next(t); id != second {
		t.Fatalf("expected %v next, got %v", second, id)
	}
	b.finish(second)
}

func TestQueueProcessor_MultipleConcurrent(t *testing.T) {
	b := newBlockingStarter(3)
	stopCh := make(chan struct{})
	qp := NewQueueProcessor(2, b.start, stopCh)
	defer close(stopCh)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		qp.Enqueue(id)
	}

	first, second := b.next(t), b.next(t)
	set := map[uuid.UUID]bool{ids[0]: true, ids[1]: true}
	if !set[first] || !set[second] {
		t.Errorf("expected first two to be %v and %v, got %v and %v", ids[0], ids[1], first, second)
	}
	b.none(t)

	if qp.Active() != 2 || qp.Len() != 1 {
		t.Errorf("expected 2 active and 1 waiting, got %d and %d", qp.Active(), qp.Len())
	}

	b.finish(first)
	if id := b.next(t); id != ids[2] {
		t.Errorf("expected third %v, got %v", ids[2], id)
	}

	b.finish(second)
	b.finish(ids[2])
}

func TestQueueProcessor_Remove(t *testing.T) {
	b := newBlockingStarter(3)
	stopCh := make(chan struct{})
	qp := NewQueueProcessor(1, b.start, stopCh)
	defer close(stopCh)

	running, dropped, kept := uuid.New(), uuid.New(), uuid.New()
	qp.Enqueue(running)
	if id := b.next(t); id != running {
		t.Fatalf("expected %v to start, got %v", running, id)
	}

	qp.Enqueue(dropped)
	qp.Enqueue(kept)
	qp.Enqueue(kept)
	if qp.Len() != 2 {
		t.Fatalf("expected duplicate enqueue to be ignored, got %d waiting", qp.Len())
	}

	if !qp.Remove(dropped) {
		t.Fatal("expected waiting download to be removed")
	}
	if qp.Remove(running) {
		t.Fatal("running download is not waiting and cannot be removed")
	}

	b.finish(running)
	if id := b.next(t); id != kept {
		t.Fatalf("expected %v after removal, got %v", kept, id)
	}
	b.finish(kept)
	b.none(t)
}

func TestQueueProcessor_StopsDispatching(t *testing.T) {
	b := newBlockingStarter(1)
	stopCh := make(chan struct{})
	qp := NewQueueProcessor(1, b.start, stopCh)

	close(stopCh)
	time.Sleep(20 * time.Millisecond)

	qp.Enqueue(uuid.New())
	b.none(t)
}
