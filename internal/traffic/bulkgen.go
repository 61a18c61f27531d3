// Package traffic generates load: streams of UDP packets with no
// congestion control, and drivers that feed bytes into TCP/UDP
// connections on a schedule. Grounded on
// original_source/src/htsim/bulk_gen.{h,cc} and flow_driver.{h,cc}.
package traffic

import (
	"container/heap"
	"log/slog"
	"math/rand"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// BulkPacketSource produces an unending (or eventually exhausted) stream
// of packets for a BulkPacketGenerator to drain. Implementations must
// return packets with non-decreasing TimeSent values; a nil return means
// the source is exhausted.
type BulkPacketSource interface {
	NextPacket() packet.Packet
}

type sourceEvent struct {
	pkt    packet.Packet
	source BulkPacketSource
}

type sourceEventHeap []sourceEvent

func (h sourceEventHeap) Len() int { return len(h) }
func (h sourceEventHeap) Less(i, j int) bool {
	return h[i].pkt.TimeSent() < h[j].pkt.TimeSent()
}
func (h sourceEventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *sourceEventHeap) Push(x any)   { *h = append(*h, x.(sourceEvent)) } //nolint:forcetypeassert
func (h *sourceEventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// sourceMerger interleaves many BulkPacketSources into one
// time-ordered stream, refilling its heap from whichever source
// produced the packet just popped. It also enforces the per-source
// non-decreasing time_sent contract: a source handing back a packet
// older than its previous one is a programmer error and panics.
type sourceMerger struct {
	pending  sourceEventHeap
	lastSent map[BulkPacketSource]clock.Time
}

func newSourceMerger(sources []BulkPacketSource) *sourceMerger {
	m := &sourceMerger{lastSent: make(map[BulkPacketSource]clock.Time, len(sources))}
	for _, src := range sources {
		m.addEventFromSource(src)
	}
	return m
}

func (m *sourceMerger) addEventFromSource(source BulkPacketSource) {
	pkt := source.NextPacket()
	if pkt == nil {
		return
	}
	if pkt.TimeSent() < m.lastSent[source] {
		panic("traffic: bulk packet source produced a non-monotonic timestamp")
	}
	m.lastSent[source] = pkt.TimeSent()
	heap.Push(&m.pending, sourceEvent{pkt: pkt, source: source})
}

// next pops the earliest pending packet across all sources, or nil once
// every source is exhausted.
func (m *sourceMerger) next() packet.Packet {
	if m.pending.Len() == 0 {
		return nil
	}
	ev := heap.Pop(&m.pending).(sourceEvent) //nolint:forcetypeassert
	m.addEventFromSource(ev.source)
	return ev.pkt
}

// BulkPacketGenerator merges many BulkPacketSources into a single
// output, ordering packets by time_sent across all of them, pulling one
// packet per event. The DoubleBufferedBulkPacketGenerator variant moves
// the pulling onto a background goroutine.
type BulkPacketGenerator struct {
	event.BaseConsumer

	logger     *slog.Logger
	eq         *event.Queue
	out        datapath.PacketHandler
	defaultTag uint32

	merger  *sourceMerger
	nextPkt packet.Packet

	stopQueueWhenDone bool
}

// NewBulkPacketGenerator returns a generator draining sources into out.
func NewBulkPacketGenerator(logger *slog.Logger, id string, sources []BulkPacketSource, out datapath.PacketHandler, eq *event.Queue) *BulkPacketGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &BulkPacketGenerator{
		BaseConsumer: event.NewBaseConsumer(id),
		logger:       logger,
		eq:           eq,
		out:          out,
		merger:       newSourceMerger(sources),
	}
	g.enqueueNextPacket()
	return g
}

// SetDefaultTag sets the forwarding tag stamped onto every emitted
// packet.
func (g *BulkPacketGenerator) SetDefaultTag(tag uint32) { g.defaultTag = tag }

// StopQueueWhenDone requests that the owning event.Queue be told to stop
// once every source is exhausted and the last packet has been emitted --
// useful for a generator that represents the one thing keeping a
// simulation run alive.
func (g *BulkPacketGenerator) StopQueueWhenDone() { g.stopQueueWhenDone = true }

func (g *BulkPacketGenerator) enqueueNextPacket() {
	g.nextPkt = g.merger.next()
	if g.nextPkt == nil {
		if g.stopQueueWhenDone {
			g.eq.StopIn(0)
		}
		return
	}
	g.eq.Enqueue(g.nextPkt.TimeSent(), g)
}

// HandleEvent implements event.Consumer.
func (g *BulkPacketGenerator) HandleEvent() {
	if g.nextPkt == nil {
		return
	}
	pkt := g.nextPkt
	pkt.SetTag(g.defaultTag)
	g.out.HandlePacket(pkt)
	g.enqueueNextPacket()
}

var _ event.Consumer = (*BulkPacketGenerator)(nil)

// ExpPacketSource emits UDP packets of a fixed size with exponentially
// distributed inter-packet gaps, giving the merged stream a Poisson
// arrival process at the requested mean rate.
type ExpPacketSource struct {
	five    packet.FiveTuple
	pktSize int
	rnd     *rand.Rand
	meanGap float64
	now     clock.Time
}

// NewExpPacketSource returns a source emitting pktSizeBytes UDP packets
// to five with a mean gap of meanGap between them.
func NewExpPacketSource(five packet.FiveTuple, meanGap clock.Delay, pktSizeBytes int, seed int64) *ExpPacketSource {
	return &ExpPacketSource{
		five:    five,
		pktSize: pktSizeBytes,
		rnd:     rand.New(rand.NewSource(seed)), //nolint:gosec // simulation traffic, not security sensitive.
		meanGap: float64(meanGap),
	}
}

// NextPacket implements BulkPacketSource.
func (s *ExpPacketSource) NextPacket() packet.Packet {
	delta := clock.Time(s.rnd.ExpFloat64() * s.meanGap)
	s.now += delta
	return packet.NewUDPPacket(s.five, s.pktSize, s.now)
}

// ConstantPacketSource emits UDP packets of a fixed size at a fixed gap.
type ConstantPacketSource struct {
	five    packet.FiveTuple
	pktSize int
	gap     clock.Delay
	now     clock.Time
}

// NewConstantPacketSource returns a source emitting pktSizeBytes UDP
// packets to five every gap.
func NewConstantPacketSource(five packet.FiveTuple, gap clock.Delay, pktSizeBytes int) *ConstantPacketSource {
	return &ConstantPacketSource{five: five, pktSize: pktSizeBytes, gap: gap}
}

// NextPacket implements BulkPacketSource.
func (s *ConstantPacketSource) NextPacket() packet.Packet {
	s.now += s.gap
	return packet.NewUDPPacket(s.five, s.pktSize, s.now)
}

// SpikeInTrafficLevel describes a burst of traffic: starting at At,
// lasting Duration, running at RateBPS.
type SpikeInTrafficLevel struct {
	At       clock.Time
	Duration clock.Delay
	RateBPS  uint64
}

// SpikyPacketSource emits fixed-size UDP packets across a sequence of
// spikes, each at its own rate, then goes silent once every spike has
// been played out.
type SpikyPacketSource struct {
	five    packet.FiveTuple
	pktSize int
	clk     clock.Clock
	spikes  []SpikeInTrafficLevel

	currentSpike  int
	pktsFromSpike uint64
}

// NewSpikyPacketSource returns a source playing spikes in order.
func NewSpikyPacketSource(five packet.FiveTuple, spikes []SpikeInTrafficLevel, pktSizeBytes int, clk clock.Clock) *SpikyPacketSource {
	return &SpikyPacketSource{five: five, pktSize: pktSizeBytes, clk: clk, spikes: spikes}
}

// NextPacket implements BulkPacketSource. Returns nil once every spike
// has been exhausted.
func (s *SpikyPacketSource) NextPacket() packet.Packet {
	for s.currentSpike < len(s.spikes) {
		spike := s.spikes[s.currentSpike]

		rateBps := float64(spike.RateBPS) / 8.0
		pps := rateBps / float64(s.pktSize)
		gap := clock.Time(float64(s.clk.FromSeconds(1)) / pps)
		timeIntoSpike := gap * clock.Time(s.pktsFromSpike)

		s.pktsFromSpike++
		if timeIntoSpike > spike.Duration {
			s.pktsFromSpike = 0
			s.currentSpike++
			continue
		}

		return packet.NewUDPPacket(s.five, s.pktSize, spike.At+timeIntoSpike)
	}
	return nil
}
