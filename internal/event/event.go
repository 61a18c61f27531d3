// Package event implements the discrete-event scheduler: a virtual-time
// min-heap of (fire_time, consumer) pairs that drives every other
// component in the simulator. Nothing above this package may run code
// outside of a HandleEvent call -- the loop is single-threaded and
// handlers run to completion.
package event

import (
	"container/heap"
	"log/slog"

	"github.com/ngvozdiev/htsim/internal/clock"
)

// Consumer is anything that can be scheduled on the event queue. Each
// Consumer tracks its own outstanding-event count; HandleEvent is called
// exactly once per fired event, in enqueue order among ties.
type Consumer interface {
	// HandleEvent is invoked by the queue when a scheduled event for this
	// consumer fires.
	HandleEvent()

	// ID names the consumer for logging.
	ID() string
}

// BaseConsumer gives Consumer implementations the outstanding-event
// bookkeeping the queue relies on for eviction. Embed it and implement
// HandleEvent.
type BaseConsumer struct {
	id          string
	outstanding int64
}

// NewBaseConsumer returns a BaseConsumer with the given id.
func NewBaseConsumer(id string) BaseConsumer {
	return BaseConsumer{id: id}
}

// ID returns the consumer's id.
func (b *BaseConsumer) ID() string { return b.id }

// Outstanding returns the number of events currently enqueued that
// reference this consumer.
func (b *BaseConsumer) Outstanding() int64 { return b.outstanding }

type item struct {
	at       clock.Time
	seq      uint64
	consumer Consumer
	index    int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item) //nolint:forcetypeassert // heap.Interface contract.
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func outstandingOf(c Consumer) *int64 {
	if b, ok := c.(interface{ outstandingPtr() *int64 }); ok {
		return b.outstandingPtr()
	}
	return nil
}

func (b *BaseConsumer) outstandingPtr() *int64 { return &b.outstanding }

// Queue is a priority queue of scheduled events. Enqueue(at, consumer)
// schedules a future call to consumer.HandleEvent(); Run drains the queue,
// advancing virtual time monotonically, until it is empty or the
// configured stop time is reached.
type Queue struct {
	logger   *slog.Logger
	heap     itemHeap
	now      clock.Time
	stopTime clock.Time
	seq      uint64
	running  bool
}

// NewQueue returns an empty Queue with the stop-time set to clock.MaxTime.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{logger: logger, stopTime: clock.MaxTime}
	heap.Init(&q.heap)
	return q
}

// Now returns the queue's current virtual time.
func (q *Queue) Now() clock.Time { return q.now }

// Enqueue schedules consumer.HandleEvent() to be called when virtual time
// reaches at. at must be >= Now(); events scheduled in the past fire
// immediately at Now(). Ties at the same time fire in enqueue order.
func (q *Queue) Enqueue(at clock.Time, consumer Consumer) {
	if at < q.now {
		at = q.now
	}
	if ptr := outstandingOf(consumer); ptr != nil {
		*ptr++
	}
	q.seq++
	heap.Push(&q.heap, &item{at: at, seq: q.seq, consumer: consumer})
}

// StopIn sets the stop time to Now()+d if that is sooner than the current
// stop time. StopIn is monotonic-only: it never extends a previously set
// deadline.
func (q *Queue) StopIn(d clock.Delay) {
	candidate := q.now + d
	if d == clock.MaxTime || candidate < q.now {
		candidate = clock.MaxTime
	}
	if candidate < q.stopTime {
		q.stopTime = candidate
	}
}

// StopTime returns the current stop time.
func (q *Queue) StopTime() clock.Time { return q.stopTime }

// Run pops the earliest event, advances virtual time to it, and invokes
// the consumer, repeating until the queue empties or the stop time is
// reached.
func (q *Queue) Run() {
	q.running = true
	defer func() { q.running = false }()

	for q.heap.Len() > 0 {
		next := q.heap[0]
		if next.at > q.stopTime {
			return
		}

		heap.Pop(&q.heap)
		q.now = next.at
		if ptr := outstandingOf(next.consumer); ptr != nil {
			*ptr--
		}
		next.consumer.HandleEvent()
	}
}

// AdvanceTimeTo moves virtual time forward without firing any event. Used
// by callers that need to jump the clock past a gap with no scheduled
// activity (e.g., test setup). It is a no-op if to <= Now().
func (q *Queue) AdvanceTimeTo(to clock.Time) {
	if to > q.now {
		q.now = to
	}
}

// Evict removes every pending event that references consumer, logging a
// warning first. Mirrors the original's "destroyed with outstanding
// events" handling: rather than letting stale events fire against a
// consumer that is going away, the queue is rebuilt without them.
func (q *Queue) Evict(consumer Consumer) {
	if ptr := outstandingOf(consumer); ptr != nil && *ptr == 0 {
		return
	}

	q.logger.Warn("evicting consumer with outstanding events",
		slog.String("consumer", consumer.ID()))

	kept := q.heap[:0]
	for _, it := range q.heap {
		if it.consumer == consumer {
			continue
		}
		kept = append(kept, it)
	}
	q.heap = kept
	heap.Init(&q.heap)

	if ptr := outstandingOf(consumer); ptr != nil {
		*ptr = 0
	}
}

// Len reports the number of events currently pending.
func (q *Queue) Len() int { return q.heap.Len() }
