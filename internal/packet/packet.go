// Package packet defines the wire-level packet types that flow through
// ports, queues, pipes, and devices: plain TCP/UDP data packets and SSCP
// control messages, all sharing a common envelope. Grounded on
// original_source/src/net/pktqueue.h (common packet fields: five-tuple,
// size, tag, TTL, time_sent, preferential-drop) and
// original_source/src/net/tcppacket.h for the TCP-specific fields, in the
// style of the teacher's bfd.ControlPacket (explicit wire fields, sentinel
// errors, RFC-style field comments replaced with spec-derived ones).
package packet

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/ngvozdiev/htsim/internal/clock"
)

// InitialTTL is the TTL every newly originated packet starts with.
const InitialTTL = 100

// FiveTuple identifies a flow: source and destination addresses, IP
// protocol number, and source/destination ports.
type FiveTuple struct {
	IPSrc, IPDst     uint32
	IPProto          uint8
	SrcPort, DstPort uint16
}

// Reverse swaps source and destination, used to key the connection table
// entry a reply packet should be delivered to.
func (t FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		IPSrc:   t.IPDst,
		IPDst:   t.IPSrc,
		IPProto: t.IPProto,
		SrcPort: t.DstPort,
		DstPort: t.SrcPort,
	}
}

// Hash returns a stable hash of the five-tuple, used by the matcher's
// weighted-ECMP action selection to distribute a given flow's packets to
// the same action every time.
func (t FiveTuple) Hash() uint64 {
	var buf [13]byte
	binary.BigEndian.PutUint32(buf[0:4], t.IPSrc)
	binary.BigEndian.PutUint32(buf[4:8], t.IPDst)
	buf[8] = t.IPProto
	binary.BigEndian.PutUint16(buf[9:11], t.SrcPort)
	binary.BigEndian.PutUint16(buf[11:13], t.DstPort)
	return xxhash.Sum64(buf[:])
}

// Header is the envelope every concrete packet variant embeds: the
// five-tuple, payload size in bytes (zero for control messages), the IP
// identifier, the forwarding tag (zero means untagged), a TTL that is
// decremented at every hop, the simulated send time, and a sticky
// preferential-drop bit that, once set, can never be cleared.
type Header struct {
	Five     FiveTuple
	Bytes    int
	ID       uint16
	tag      uint32
	ttl      int
	sent     clock.Time
	prefDrop bool
}

// NewHeader returns a Header for a freshly originated packet: full TTL,
// no tag, no preferential-drop.
func NewHeader(five FiveTuple, bytes int, sent clock.Time) Header {
	return Header{Five: five, Bytes: bytes, ttl: InitialTTL, sent: sent}
}

// FiveTuple returns the packet's flow identifier.
func (h *Header) FiveTuple() FiveTuple { return h.Five }

// SizeBytes returns the packet's payload size in bytes. Zero identifies a
// control message.
func (h *Header) SizeBytes() int { return h.Bytes }

// Tag returns the packet's forwarding tag, zero if untagged.
func (h *Header) Tag() uint32 { return h.tag }

// SetTag overwrites the packet's forwarding tag.
func (h *Header) SetTag(tag uint32) { h.tag = tag }

// TTL returns the packet's remaining hop count.
func (h *Header) TTL() int { return h.ttl }

// DecrementTTL decrements the TTL by one and reports whether the packet
// may still be forwarded; false means the packet must be dropped.
func (h *Header) DecrementTTL() bool {
	h.ttl--
	return h.ttl >= 0
}

// TimeSent returns the simulated time the packet was originated.
func (h *Header) TimeSent() clock.Time { return h.sent }

// IPID returns the packet's IP identifier field.
func (h *Header) IPID() uint16 { return h.ID }

// PreferentialDrop reports whether the sticky preferential-drop bit is
// set.
func (h *Header) PreferentialDrop() bool { return h.prefDrop }

// SetPreferentialDrop sets the sticky preferential-drop bit. There is no
// corresponding clear: once set, the bit stays set for the packet's
// lifetime.
func (h *Header) SetPreferentialDrop() { h.prefDrop = true }

// Packet is the common interface every packet variant (TCPPacket,
// UDPPacket, ControlMessage) satisfies, letting ports, queues, and pipes
// handle them uniformly.
type Packet interface {
	FiveTuple() FiveTuple
	SizeBytes() int
	Tag() uint32
	SetTag(uint32)
	TTL() int
	DecrementTTL() bool
	TimeSent() clock.Time
	IPID() uint16
	PreferentialDrop() bool
	SetPreferentialDrop()
}

var (
	_ Packet = (*TCPPacket)(nil)
	_ Packet = (*UDPPacket)(nil)
	_ Packet = (*ControlMessage)(nil)
)
