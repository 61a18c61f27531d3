package packet

import "github.com/ngvozdiev/htsim/internal/clock"

// IP protocol numbers for the two data-packet variants.
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// TCPFlags is a bitmask of TCP control flags carried by a TCPPacket.
type TCPFlags uint8

const (
	FlagSYN TCPFlags = 1 << iota
	FlagACK
	FlagFIN
	FlagRST
)

// Has reports whether every bit set in want is also set in f.
func (f TCPFlags) Has(want TCPFlags) bool { return f&want == want }

// TCPPacket is a data packet carrying a sequence number and flags, sent
// by a TCPSource or, as a bare ack, by a TCPSink.
type TCPPacket struct {
	Header
	SeqNum uint64
	Flags  TCPFlags
}

// NewTCPPacket returns a TCPPacket with a fresh Header.
func NewTCPPacket(five FiveTuple, bytes int, sent clock.Time, seq uint64, flags TCPFlags) *TCPPacket {
	return &TCPPacket{Header: NewHeader(five, bytes, sent), SeqNum: seq, Flags: flags}
}

// UDPPacket is a plain data packet with no sequencing.
type UDPPacket struct {
	Header
}

// NewUDPPacket returns a UDPPacket with a fresh Header.
func NewUDPPacket(five FiveTuple, bytes int, sent clock.Time) *UDPPacket {
	return &UDPPacket{Header: NewHeader(five, bytes, sent)}
}
