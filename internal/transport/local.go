package transport

import (
	"fmt"
	"log/slog"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// SinkFactoryFor returns a datapath.SinkFactory that grows a TCPSink or
// UDPSink -- chosen by the first packet's concrete type -- terminating a
// flow addressed to dev. A TCP sink's acks re-enter the forwarding
// pipeline through dev's loopback port like any locally originated
// packet.
func SinkFactoryFor(logger *slog.Logger, dev *datapath.Device, eq *event.Queue) datapath.SinkFactory {
	return func(first packet.Packet) datapath.Connection {
		five := first.FiveTuple().Reverse()
		id := fmt.Sprintf("%s/sink/%d:%d->%d:%d", dev.ID(), five.IPSrc, five.SrcPort, five.IPDst, five.DstPort)
		if _, ok := first.(*packet.TCPPacket); ok {
			return NewTCPSink(logger, id, five, dev.LoopbackPortHandle())
		}
		return NewUDPSink(logger, id, five, eq)
	}
}

// NewLocalTCPSource creates a TCPSource originating at dev toward
// dst:dstPort, allocating the lowest free source port, sending through
// dev's loopback port, and registering the source in dev's connection
// table so returning acks reach it.
func NewLocalTCPSource(logger *slog.Logger, dev *datapath.Device, id string, dst uint32, dstPort uint16, mss uint16, maxcwnd uint32, clk clock.Clock, eq *event.Queue) *TCPSource {
	five := packet.FiveTuple{
		IPSrc:   dev.Address(),
		IPDst:   dst,
		IPProto: packet.ProtoTCP,
		SrcPort: dev.AllocateSourcePort(),
		DstPort: dstPort,
	}
	src := NewTCPSource(logger, id, five, mss, maxcwnd, dev.LoopbackPortHandle(), clk, eq)
	dev.RegisterConnection(five, src)
	return src
}

// NewLocalUDPSource creates a UDPSource originating at dev toward
// dst:dstPort, allocating the lowest free source port and sending
// through dev's loopback port.
func NewLocalUDPSource(dev *datapath.Device, id string, dst uint32, dstPort uint16, eq *event.Queue) *UDPSource {
	five := packet.FiveTuple{
		IPSrc:   dev.Address(),
		IPDst:   dst,
		IPProto: packet.ProtoUDP,
		SrcPort: dev.AllocateSourcePort(),
		DstPort: dstPort,
	}
	src := NewUDPSource(id, five, dev.LoopbackPortHandle(), eq)
	dev.RegisterConnection(five, src)
	return src
}
