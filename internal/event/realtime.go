package event

import (
	"container/heap"
	"time"

	"github.com/ngvozdiev/htsim/internal/clock"
)

// RealTimeQueue wraps a Queue and sleeps between events so that the
// simulation advances at (approximately) wall-clock speed. Used for the
// daemon's optional real-time mode; simulated mode uses Queue.Run
// directly with no sleeping.
type RealTimeQueue struct {
	*Queue
	clk   clock.Clock
	start time.Time
}

// NewRealTimeQueue returns a RealTimeQueue that interprets Time values at
// clk's resolution.
func NewRealTimeQueue(q *Queue, clk clock.Clock) *RealTimeQueue {
	return &RealTimeQueue{Queue: q, clk: clk, start: time.Now()}
}

// Run drains the queue exactly like Queue.Run, except that before firing
// each event it sleeps until the event's wall-clock equivalent time has
// arrived.
func (r *RealTimeQueue) Run() {
	r.running = true
	defer func() { r.running = false }()

	for r.heap.Len() > 0 {
		next := r.heap[0]
		if next.at > r.stopTime {
			return
		}

		target := r.start.Add(r.clk.ToNanos(next.at))
		if d := time.Until(target); d > 0 {
			time.Sleep(d)
		}

		heap.Pop(&r.heap)
		r.now = next.at
		if ptr := outstandingOf(next.consumer); ptr != nil {
			*ptr--
		}
		next.consumer.HandleEvent()
	}
}
