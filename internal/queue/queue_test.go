package queue

import (
	"testing"
)

func TestEnqueueDequeue_FIFO(t *testing.T) {
	q := New(Options{Name: "trades", MaxSize: 10})

	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}

	batch := q.DequeueBatch(3)
	if len(batch) != 3 {
		t.Fatalf("expected 3 items, got %d", len(batch))
	}
	for i, item := range batch {
		if item.Payload.(int) != i {
			t.Errorf("expected FIFO order, item %d has payload %v", i, item.Payload)
		}
		if item.State != StateProcessing {
			t.Errorf("dequeued item must be Processing, got %v", item.State)
		}
	}
	if q.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", q.Len())
	}
}

func TestDequeueBatch_Underfull(t *testing.T) {
	q := New(Options{Name: "trades", MaxSize: 10})
	q.Enqueue("a")

	batch := q.DequeueBatch(50)
	if len(batch) != 1 {
		t.Fatalf("expected 1 item, got %d", len(batch))
	}
	if batch := q.DequeueBatch(50); batch != nil {
		t.Errorf("expected nil batch from empty queue, got %v", batch)
	}
}

func TestEnqueue_NewItemIsPending(t *testing.T) {
	q := New(Options{Name: "trades", MaxSize: 10})

	item := q.Enqueue("x")
	if item.State != StatePending {
		t.Errorf("expected Pending, got %v", item.State)
	}
	if item.RetryCount != 0 {
		t.Errorf("expected zero retry count, got %d", item.RetryCount)
	}
	if item.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt must be stamped")
	}
}

func TestRequeue_IncrementsRetryAndAppendsAtTail(t *testing.T) {
	q := New(Options{Name: "trades", MaxSize: 10})

	q.Enqueue("first")
	failed := q.DequeueBatch(1)[0]
	q.Enqueue("second")
	q.Requeue(failed)

	if failed.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", failed.RetryCount)
	}
	if failed.State != StateRetrying {
		t.Errorf("expected Retrying, got %v", failed.State)
	}

	batch := q.DequeueBatch(2)
	if batch[0].Payload.(string) != "second" || batch[1].Payload.(string) != "first" {
		t.Error("requeued item must go to the tail")
	}
}

func TestWarning_FiresOncePerCrossing(t *testing.T) {
	var warnings int
	q := New(Options{
		Name:    "trades",
		MaxSize: 10,
		OnWarning: func(name string, depth, capacity int) {
			warnings++
			if name != "trades" {
				t.Errorf("unexpected queue name %q", name)
			}
		},
	})

	// 8/10 crosses the 80% threshold; further enqueues must not re-fire.
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	if warnings != 1 {
		t.Fatalf("expected exactly 1 warning, got %d", warnings)
	}

	// Draining below the threshold re-arms the warning.
	q.DequeueBatch(5)
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	if warnings != 2 {
		t.Errorf("expected warning to re-fire after re-crossing, got %d", warnings)
	}
}

func TestNonSheddingQueue_NeverDrops(t *testing.T) {
	q := New(Options{Name: "trades", MaxSize: 3})

	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}

	if q.Len() != 5 {
		t.Errorf("non-shedding queue must retain everything, len=%d", q.Len())
	}
	if q.ShedCount() != 0 {
		t.Errorf("non-shedding queue must not shed, count=%d", q.ShedCount())
	}
}

func TestSheddingQueue_DropsOldest(t *testing.T) {
	q := New(Options{Name: "metrics", MaxSize: 3, ShedOldest: true})

	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}

	if q.Len() != 3 {
		t.Fatalf("shedding queue must cap at max size, len=%d", q.Len())
	}
	if q.ShedCount() != 2 {
		t.Errorf("expected 2 shed items, got %d", q.ShedCount())
	}
	batch := q.DequeueBatch(3)
	if batch[0].Payload.(int) != 2 {
		t.Errorf("oldest items must be shed first, head is %v", batch[0].Payload)
	}
}
