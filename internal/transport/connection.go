// Package transport implements the flow-level endpoints that generate
// and consume packets: TCP sources/sinks with a Reno-style congestion
// control loop and a shared retransmission timer, and the
// fire-and-forget UDP source/sink pair. Grounded on
// original_source/src/htsim/{tcp,udp,packet}.{h,cc}.
package transport

import (
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// ConnectionStats are the byte/packet counters every connection
// (source or sink) tracks for itself.
type ConnectionStats struct {
	BytesTx, PktsTx uint64
	BytesRx, PktsRx uint64
}

// base is embedded by every concrete connection type. It owns the
// five-tuple identity, the outbound handler (normally a device's
// loopback port, so locally-generated packets re-enter the forwarding
// pipeline like any other packet), and the send-buffer-drained
// callback. Grounded on original_source/src/htsim/packet.h's
// Connection base class.
type base struct {
	id        string
	five      packet.FiveTuple
	out       datapath.PacketHandler
	stats     ConnectionStats
	onDrained func()
}

func newBase(id string, five packet.FiveTuple, out datapath.PacketHandler) base {
	return base{id: id, five: five, out: out}
}

// ID returns the connection's name.
func (b *base) ID() string { return b.id }

// FiveTuple returns the flow this connection originates or terminates.
func (b *base) FiveTuple() packet.FiveTuple { return b.five }

// Stats returns a snapshot of the connection's byte/packet counters.
func (b *base) Stats() ConnectionStats { return b.stats }

// OnSendBufferDrained registers a callback invoked once the
// connection has no more data queued to send.
func (b *base) OnSendBufferDrained(f func()) { b.onDrained = f }

func (b *base) sendPacket(pkt packet.Packet) {
	b.stats.BytesTx += uint64(pkt.SizeBytes())
	b.stats.PktsTx++
	b.out.HandlePacket(pkt)
}

func (b *base) countReceived(pkt packet.Packet) {
	b.stats.BytesRx += uint64(pkt.SizeBytes())
	b.stats.PktsRx++
}

var (
	_ datapath.Connection = (*TCPSource)(nil)
	_ datapath.Connection = (*TCPSink)(nil)
	_ datapath.Connection = (*UDPSource)(nil)
	_ datapath.Connection = (*UDPSink)(nil)
)
