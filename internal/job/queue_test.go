package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New()
	var order []int

	q.Enqueue(1, func(arg any) { order = append(order, arg.(int)) }, 2, 0)
	q.Enqueue(1, func(arg any) { order = append(order, arg.(int)) }, 1, -time.Millisecond)

	for {
		_, fn, arg, ok := q.Dequeue()
		if !ok {
			break
		}
		fn(arg)
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected deadline order [1 2], got %v", order)
	}
}

func TestDequeueReturnsNilBeforeDeadline(t *testing.T) {
	q := New()
	q.Enqueue(1, func(any) {}, nil, time.Hour)
	if _, _, _, ok := q.Dequeue(); ok {
		t.Fatal("expected no entry ready yet")
	}
}

func TestReprioritize(t *testing.T) {
	q := New()
	q.Enqueue(5, func(any) {}, nil, time.Hour)
	if !q.Reprioritize(5, -time.Millisecond) {
		t.Fatal("expected reprioritize to find the entry")
	}
	if _, _, _, ok := q.Dequeue(); !ok {
		t.Fatal("expected reprioritized entry to be ready")
	}
}

func TestReprioritizeMissingIsNoop(t *testing.T) {
	q := New()
	if q.Reprioritize(99, 0) {
		t.Fatal("expected false for unknown type")
	}
}

func TestShutdownDiscardsPending(t *testing.T) {
	q := New()
	q.Enqueue(1, func(any) {}, nil, -time.Millisecond)
	q.Shutdown()
	if _, _, _, ok := q.Dequeue(); ok {
		t.Fatal("expected dequeue to return nothing after shutdown")
	}
	if q.Enqueue(1, func(any) {}, nil, -time.Millisecond); true {
		if _, _, _, ok := q.Dequeue(); ok {
			t.Fatal("expected enqueue after shutdown to be a no-op")
		}
	}
}

func TestWorkerRunsDueJobs(t *testing.T) {
	q := New()
	var ran int32
	q.Enqueue(1, func(any) { atomic.AddInt32(&ran, 1) }, nil, -time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Worker(ctx, q)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&ran) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected job to run once, ran=%d", ran)
	}
}

func TestDepth(t *testing.T) {
	q := New()
	q.Enqueue(1, func(any) {}, nil, time.Hour)
	q.Enqueue(2, func(any) {}, nil, 2*time.Hour)
	if d := q.Depth(); d != 2 {
		t.Fatalf("expected depth 2, got %d", d)
	}
}
