package traffic

import (
	"log/slog"
	"sync"

	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// kBatchSize is how many packets the background worker pulls from the
// merged sources per batch.
const kBatchSize = 10000

// DoubleBufferedBulkPacketGenerator behaves like BulkPacketGenerator
// but moves packet generation onto a background goroutine: the worker
// fills batches of kBatchSize packets into a one-slot ring while the
// simulation thread consumes the current batch. The consumer blocks on
// the ring only when the worker has not yet filled the next batch; the
// worker blocks while the ring is full. When every source is exhausted
// the worker closes the ring and the consumer drains what remains, so
// generation stops cleanly.
type DoubleBufferedBulkPacketGenerator struct {
	event.BaseConsumer

	logger     *slog.Logger
	eq         *event.Queue
	out        datapath.PacketHandler
	defaultTag uint32

	ring chan []packet.Packet
	stop chan struct{}
	once sync.Once

	current []packet.Packet
	pos     int
	nextPkt packet.Packet

	stopQueueWhenDone bool
}

// NewDoubleBufferedBulkPacketGenerator returns a generator draining
// sources into out, with batch filling running on its own goroutine.
// Callers that abandon the generator before its sources are exhausted
// must call Stop to release the worker.
func NewDoubleBufferedBulkPacketGenerator(logger *slog.Logger, id string, sources []BulkPacketSource, out datapath.PacketHandler, eq *event.Queue) *DoubleBufferedBulkPacketGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &DoubleBufferedBulkPacketGenerator{
		BaseConsumer: event.NewBaseConsumer(id),
		logger:       logger,
		eq:           eq,
		out:          out,
		ring:         make(chan []packet.Packet, 1),
		stop:         make(chan struct{}),
	}
	go g.fill(newSourceMerger(sources))
	g.enqueueNextPacket()
	return g
}

// SetDefaultTag sets the forwarding tag stamped onto every emitted
// packet.
func (g *DoubleBufferedBulkPacketGenerator) SetDefaultTag(tag uint32) { g.defaultTag = tag }

// StopQueueWhenDone requests that the owning event.Queue be told to
// stop once every source is exhausted and the last packet has been
// emitted.
func (g *DoubleBufferedBulkPacketGenerator) StopQueueWhenDone() { g.stopQueueWhenDone = true }

// Stop terminates the background worker. Safe to call more than once;
// unnecessary once the sources have run dry on their own.
func (g *DoubleBufferedBulkPacketGenerator) Stop() {
	g.once.Do(func() { close(g.stop) })
}

// fill runs on the background goroutine, pushing full batches into the
// ring until the sources are exhausted or Stop is called.
func (g *DoubleBufferedBulkPacketGenerator) fill(merger *sourceMerger) {
	defer close(g.ring)
	for {
		batch := make([]packet.Packet, 0, kBatchSize)
		for len(batch) < kBatchSize {
			pkt := merger.next()
			if pkt == nil {
				break
			}
			batch = append(batch, pkt)
		}
		if len(batch) == 0 {
			return
		}
		select {
		case g.ring <- batch:
		case <-g.stop:
			return
		}
		if len(batch) < kBatchSize {
			return
		}
	}
}

// pull returns the next packet, blocking on the ring when the current
// batch has been drained and the worker is still filling the next one.
func (g *DoubleBufferedBulkPacketGenerator) pull() packet.Packet {
	if g.pos >= len(g.current) {
		batch, ok := <-g.ring
		if !ok {
			return nil
		}
		g.current = batch
		g.pos = 0
	}
	pkt := g.current[g.pos]
	g.pos++
	return pkt
}

func (g *DoubleBufferedBulkPacketGenerator) enqueueNextPacket() {
	g.nextPkt = g.pull()
	if g.nextPkt == nil {
		if g.stopQueueWhenDone {
			g.eq.StopIn(0)
		}
		return
	}
	g.eq.Enqueue(g.nextPkt.TimeSent(), g)
}

// HandleEvent implements event.Consumer.
func (g *DoubleBufferedBulkPacketGenerator) HandleEvent() {
	if g.nextPkt == nil {
		return
	}
	pkt := g.nextPkt
	pkt.SetTag(g.defaultTag)
	g.out.HandlePacket(pkt)
	g.enqueueNextPacket()
}

var _ event.Consumer = (*DoubleBufferedBulkPacketGenerator)(nil)
