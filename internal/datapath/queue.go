package datapath

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// QueueStats are the counters exposed at the metrics boundary for a
// queue.
type QueueStats struct {
	QueueSizeBytes uint64
	QueueSizePkts  uint64
	BytesSeen      uint64
	PktsSeen       uint64
	BytesDropped   uint64
	PktsDropped    uint64
}

// Queue is a bandwidth-limited FIFO buffer, optionally RED-like: when
// DropThresholdBytes is less than MaxSizeBytes, arrivals past the
// threshold are dropped with probability proportional to how far
// occupancy is into the [threshold, max] band; past max they are
// dropped unconditionally. A DropThresholdBytes >= MaxSizeBytes makes
// this a plain drop-tail FIFO queue. Grounded on
// original_source/src/htsim/queue.{h,cc} (FIFOQueue / RandomQueue).
type Queue struct {
	event.BaseConsumer

	logger *slog.Logger
	eq     *event.Queue
	other  PacketHandler

	maxSizeBytes       uint64
	dropThresholdBytes uint64
	rate               uint64 // bits per second
	timePerBit         clock.Time
	rnd                *rand.Rand

	fifo  []packet.Packet
	stats QueueStats
}

// NewFIFOQueue returns a plain drop-tail queue draining at rateBPS with
// capacity maxSizeBytes. rateBPS must be strictly positive.
func NewFIFOQueue(logger *slog.Logger, eq *event.Queue, clk clock.Clock, id string, rateBPS, maxSizeBytes uint64, other PacketHandler) *Queue {
	return NewRandomQueue(logger, eq, clk, id, rateBPS, maxSizeBytes, maxSizeBytes, 0, other)
}

// NewRandomQueue returns a RED-like queue: drop probability ramps
// linearly from 0 at dropThresholdBytes to 1 at maxSizeBytes, using a
// PRNG seeded with seed so runs are reproducible.
func NewRandomQueue(logger *slog.Logger, eq *event.Queue, clk clock.Clock, id string, rateBPS, maxSizeBytes, dropThresholdBytes uint64, seed int64, other PacketHandler) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		BaseConsumer:       event.NewBaseConsumer(id),
		logger:             logger,
		eq:                 eq,
		other:              other,
		maxSizeBytes:       maxSizeBytes,
		dropThresholdBytes: dropThresholdBytes,
		rnd:                rand.New(rand.NewSource(seed)), //nolint:gosec // reproducibility, not security.
	}
	q.SetRate(clk, rateBPS)
	return q
}

// SetRate changes the queue's drain rate. rate must remain strictly
// positive.
func (q *Queue) SetRate(clk clock.Clock, rateBPS uint64) {
	if rateBPS == 0 {
		panic("datapath: queue rate must be strictly positive")
	}
	q.rate = rateBPS
	unitsPerSecond := uint64(clk.FromNanos(1_000_000_000))
	q.timePerBit = clock.Time(unitsPerSecond / rateBPS)
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() QueueStats { return q.stats }

func (q *Queue) drainTime(pkt packet.Packet) clock.Time {
	return clock.Time(8 * uint64(pkt.SizeBytes()) * uint64(q.timePerBit))
}

// shouldDrop applies the RED-like drop policy for a packet about to be
// enqueued on top of the current occupancy. A packet carrying the
// sticky preferential-drop bit is dropped as soon as occupancy crosses
// the threshold, skipping the probabilistic ramp ordinary packets get.
func (q *Queue) shouldDrop(pkt packet.Packet, sizeBytes int) bool {
	occupancy := q.stats.QueueSizeBytes + uint64(sizeBytes)
	if occupancy > q.maxSizeBytes {
		return true
	}
	if occupancy > q.dropThresholdBytes && q.maxSizeBytes > q.dropThresholdBytes {
		if pkt.PreferentialDrop() {
			return true
		}
		dropProb := float64(occupancy-q.dropThresholdBytes) / float64(q.maxSizeBytes-q.dropThresholdBytes)
		if q.rnd.Float64() < dropProb {
			return true
		}
	}
	return false
}

// HandlePacket admits pkt if it fits under MaxSizeBytes (subject to the
// RED-like drop policy), otherwise drops it and counts the drop.
func (q *Queue) HandlePacket(pkt packet.Packet) {
	sizeBytes := pkt.SizeBytes()
	if q.shouldDrop(pkt, sizeBytes) {
		q.stats.BytesDropped += uint64(sizeBytes)
		q.stats.PktsDropped++
		return
	}

	wasEmpty := len(q.fifo) == 0
	q.fifo = append(q.fifo, pkt)
	q.stats.QueueSizeBytes += uint64(sizeBytes)
	q.stats.QueueSizePkts++
	q.stats.BytesSeen += uint64(sizeBytes)
	q.stats.PktsSeen++

	if wasEmpty {
		q.eq.Enqueue(q.eq.Now()+q.drainTime(pkt), q)
	}
}

// HandleEvent drains the head packet to the downstream handler (usually
// a Pipe) and schedules the next drain if the queue is non-empty.
func (q *Queue) HandleEvent() {
	pkt := q.fifo[0]
	q.fifo = q.fifo[1:]

	q.stats.QueueSizeBytes -= uint64(pkt.SizeBytes())
	q.stats.QueueSizePkts--

	if len(q.fifo) > 0 {
		q.eq.Enqueue(q.eq.Now()+q.drainTime(q.fifo[0]), q)
	}

	q.other.HandlePacket(pkt)
}

// String renders the queue's identity and current occupancy for logs.
func (q *Queue) String() string {
	return fmt.Sprintf("queue(rate=%dbps, occ=%d/%d)", q.rate, q.stats.QueueSizeBytes, q.maxSizeBytes)
}
