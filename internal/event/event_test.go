package event_test

import (
	"testing"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/event"
)

type recorder struct {
	event.BaseConsumer
	fired []clock.Time
	q     *event.Queue
}

func newRecorder(q *event.Queue, id string) *recorder {
	return &recorder{BaseConsumer: event.NewBaseConsumer(id), q: q}
}

func (r *recorder) HandleEvent() {
	r.fired = append(r.fired, r.q.Now())
}

func TestEventsFireInTimeOrder(t *testing.T) {
	t.Parallel()

	q := event.NewQueue(nil)
	r := newRecorder(q, "r")

	q.Enqueue(30, r)
	q.Enqueue(10, r)
	q.Enqueue(20, r)
	q.Run()

	want := []clock.Time{10, 20, 30}
	if len(r.fired) != len(want) {
		t.Fatalf("fired %v, want %v", r.fired, want)
	}
	for i, w := range want {
		if r.fired[i] != w {
			t.Fatalf("fired[%d] = %d, want %d", i, r.fired[i], w)
		}
	}
}

type fifoRecorder struct {
	event.BaseConsumer
	order *[]int
	tag   int
}

func (r *fifoRecorder) HandleEvent() { *r.order = append(*r.order, r.tag) }

func TestTiesFireInEnqueueOrder(t *testing.T) {
	t.Parallel()

	q := event.NewQueue(nil)
	var order []int
	a := &fifoRecorder{BaseConsumer: event.NewBaseConsumer("a"), order: &order, tag: 1}
	b := &fifoRecorder{BaseConsumer: event.NewBaseConsumer("b"), order: &order, tag: 2}

	q.Enqueue(5, a)
	q.Enqueue(5, b)
	q.Run()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected a before b by enqueue order, got %v", order)
	}
}

func TestStopInIsMonotonicOnly(t *testing.T) {
	t.Parallel()

	q := event.NewQueue(nil)
	r := newRecorder(q, "r")
	q.Enqueue(100, r)

	q.StopIn(50)  // stop time now 50
	q.StopIn(200) // should NOT extend past 50
	q.Run()

	if len(r.fired) != 0 {
		t.Fatalf("event at t=100 should not have fired with stop time 50")
	}
}

func TestEvictRemovesPendingEvents(t *testing.T) {
	t.Parallel()

	q := event.NewQueue(nil)
	r := newRecorder(q, "r")
	q.Enqueue(10, r)
	q.Enqueue(20, r)

	q.Evict(r)
	q.Run()

	if len(r.fired) != 0 {
		t.Fatalf("expected no events to fire after eviction, got %v", r.fired)
	}
}
