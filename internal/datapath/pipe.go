package datapath

import (
	"log/slog"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// PipeStats are the counters exposed at the metrics boundary for a pipe.
type PipeStats struct {
	BytesTx       uint64
	PktsTx        uint64
	BytesInFlight uint64
	PktsInFlight  uint64
}

type pipeEntry struct {
	arrival clock.Time
	pkt     packet.Packet
}

// Pipe propagates packets after a fixed delay. It never drops; it only
// accounts bytes/packets currently in flight. Grounded on
// original_source/src/htsim/queue.cc's Pipe.
type Pipe struct {
	event.BaseConsumer

	logger *slog.Logger
	queue  *event.Queue
	delay  clock.Delay
	other  PacketHandler
	fifo   []pipeEntry
	stats  PipeStats
}

// NewPipe returns a Pipe that delivers to other after delay, scheduling
// its events on eq.
func NewPipe(logger *slog.Logger, eq *event.Queue, id string, delay clock.Delay, other PacketHandler) *Pipe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipe{
		BaseConsumer: event.NewBaseConsumer(id),
		logger:       logger,
		queue:        eq,
		delay:        delay,
		other:        other,
	}
}

// Stats returns a snapshot of the pipe's counters.
func (p *Pipe) Stats() PipeStats { return p.stats }

// HandlePacket admits pkt into the pipe; it will be delivered to the
// other end after delay.
func (p *Pipe) HandlePacket(pkt packet.Packet) {
	if len(p.fifo) == 0 {
		p.queue.Enqueue(p.queue.Now()+p.delay, p)
	}

	p.fifo = append(p.fifo, pipeEntry{arrival: p.queue.Now() + p.delay, pkt: pkt})
	p.stats.BytesInFlight += uint64(pkt.SizeBytes())
	p.stats.PktsInFlight++
}

// HandleEvent delivers the earliest admitted packet and reschedules for
// the next one, if any.
func (p *Pipe) HandleEvent() {
	entry := p.fifo[0]
	p.fifo = p.fifo[1:]

	p.stats.BytesInFlight -= uint64(entry.pkt.SizeBytes())
	p.stats.PktsInFlight--
	p.stats.BytesTx += uint64(entry.pkt.SizeBytes())
	p.stats.PktsTx++

	if len(p.fifo) > 0 {
		p.queue.Enqueue(p.fifo[0].arrival, p)
	}

	p.other.HandlePacket(entry.pkt)
}
