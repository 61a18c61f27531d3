// Package datapath implements the L1/L2 forwarding plane: pipes, queues,
// ports, and devices. A Device binds a Matcher to a table of Ports and a
// per-five-tuple connection table; Ports relay packets to whatever
// PacketHandler they are connected to (usually a Queue) and deliver
// inbound packets back to their parent Device. Grounded on
// original_source/src/htsim/network.{h,cc} and queue.{h,cc}.
package datapath

import (
	"fmt"

	"github.com/ngvozdiev/htsim/internal/packet"
)

// PacketHandler is anything that can receive a packet: queues, pipes,
// ports, devices, connections.
type PacketHandler interface {
	HandlePacket(pkt packet.Packet)
}

// PacketObserver watches packets without taking ownership of them, used
// for the internal/external boundary-crossing hooks.
type PacketObserver interface {
	ObservePacket(pkt packet.Packet)
}

// LoopbackPort is the distinguished port number (spec.md section 4.5:
// "max-value index") through which locally originated traffic enters the
// device's forwarding pipeline (see Device.LoopbackPortHandle). Packets
// addressed to the device itself are delivered to its connection table
// whichever port they arrive on.
const LoopbackPort uint16 = 1<<16 - 1

// Port binds a device-local port number to an outbound handler (set via
// Connect and replaced only through Reconnect). Inbound
// packets -- arriving from outside the device -- are handed to the
// parent device via HandlePacket.
type Port struct {
	number   uint16
	device   *Device
	out      PacketHandler
	internal bool
}

// Number returns the port's device-local number.
func (p *Port) Number() uint16 { return p.number }

// SetInternal marks the port as internal or external, for the
// internal/external boundary-crossing observers.
func (p *Port) SetInternal(internal bool) { p.internal = internal }

// Internal reports whether the port is marked internal.
func (p *Port) Internal() bool { return p.internal }

// Connect attaches out as this port's outbound handler. Reconnecting to
// the same handler is a no-op; connecting a second, different handler
// without going through Reconnect is a programmer error and panics,
// mirroring the original's "tried to connect port twice" check.
func (p *Port) Connect(out PacketHandler) {
	if out == p.out {
		return
	}
	if p.out != nil {
		panic(fmt.Sprintf("datapath: port %d connected twice", p.number))
	}
	p.out = out
}

// Reconnect replaces this port's outbound handler. Calling it before
// Connect has ever been called is a programmer error and panics.
func (p *Port) Reconnect(out PacketHandler) {
	if p.out == nil {
		panic("datapath: reconnect of an unconnected port")
	}
	p.out = out
}

// SendPacketOut hands pkt to whatever this port is connected to.
func (p *Port) SendPacketOut(pkt packet.Packet) {
	p.out.HandlePacket(pkt)
}

// HandlePacket is called when a packet arrives at this port from the
// outside (a Pipe or a Connection writing to the loopback port). It
// always routes through the parent device's forwarding logic.
func (p *Port) HandlePacket(pkt packet.Packet) {
	p.device.HandlePacketFromPort(p, pkt)
}
