package transport

import (
	"log/slog"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// UDPSource emits one UDPPacket of the requested size per call to
// AddData; there is no buffering and no flow control. Grounded on
// original_source/src/htsim/udp.cc's UDPSource.
type UDPSource struct {
	base
	eq *event.Queue
}

// NewUDPSource returns a UDPSource for five, sending through out.
func NewUDPSource(id string, five packet.FiveTuple, out datapath.PacketHandler, eq *event.Queue) *UDPSource {
	return &UDPSource{base: newBase(id, five, out), eq: eq}
}

// AddData immediately emits a UDPPacket of pktSizeBytes.
func (s *UDPSource) AddData(pktSizeBytes uint64) {
	pkt := packet.NewUDPPacket(s.five, int(pktSizeBytes), s.eq.Now())
	s.sendPacket(pkt)
}

// HandlePacket implements datapath.Connection. UDP sources never
// receive packets; one arriving here indicates a misconfigured flow.
func (s *UDPSource) HandlePacket(pkt packet.Packet) {
	panic("transport: UDP source received a packet, flows are unidirectional")
}

// Close is a no-op: UDP has no connection state to tear down. Present so
// UDPSource satisfies the same driver-facing interface as TCPSource.
func (s *UDPSource) Close() {}

// UDPSink receives UDPPackets and discards them, counting bytes/pkts
// received. Grounded on original_source/src/htsim/udp.cc's UDPSink.
type UDPSink struct {
	base
	logger *slog.Logger

	// OnPacket, if set, is called with every packet received, letting a
	// caller observe latency (now - pkt.TimeSent()) without the sink
	// needing to know about metrics.
	OnPacket func(pkt packet.Packet, now clock.Time)
	eq       *event.Queue
}

// NewUDPSink returns a UDPSink for five.
func NewUDPSink(logger *slog.Logger, id string, five packet.FiveTuple, eq *event.Queue) *UDPSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPSink{base: newBase(id, five, nil), logger: logger, eq: eq}
}

// HandlePacket implements datapath.Connection.
func (s *UDPSink) HandlePacket(pkt packet.Packet) {
	s.countReceived(pkt)
	if s.OnPacket != nil {
		s.OnPacket(pkt, s.eq.Now())
	}
}
