package packet

import (
	"strconv"

	"github.com/ngvozdiev/htsim/internal/clock"
)

// SSCPType identifies an SSCP control-message variant. It is carried in
// the zero-size packet's ip_proto field, the same field a data packet
// uses for its IP protocol number — a control message is simply a packet
// whose size is zero and whose protocol number is one of these.
type SSCPType uint8

const (
	// SSCPAddOrUpdate installs or replaces a forwarding rule.
	SSCPAddOrUpdate SSCPType = 180
	// SSCPStatsReply carries a device's current per-rule counters.
	SSCPStatsReply SSCPType = 252
	// SSCPStatsRequest asks a device to emit an SSCPStatsReply.
	SSCPStatsRequest SSCPType = 253
	// SSCPAck acknowledges an SSCPAddOrUpdate that requested one.
	SSCPAck SSCPType = 254
)

// String renders the SSCP message type by name, falling back to the
// numeric protocol value for anything else.
func (t SSCPType) String() string {
	switch t {
	case SSCPAddOrUpdate:
		return "AddOrUpdate"
	case SSCPStatsReply:
		return "StatsReply"
	case SSCPStatsRequest:
		return "StatsRequest"
	case SSCPAck:
		return "Ack"
	default:
		return strconv.Itoa(int(t))
	}
}

// IsSSCPType reports whether proto names one of the known SSCP message
// types.
func IsSSCPType(proto uint8) bool {
	switch SSCPType(proto) {
	case SSCPAddOrUpdate, SSCPStatsReply, SSCPStatsRequest, SSCPAck:
		return true
	default:
		return false
	}
}

// ControlMessage is a zero-size SSCP packet. RuleData carries the
// serialized forwarding rule for SSCPAddOrUpdate; TxID, when nonzero, is
// echoed back verbatim in the SSCPAck reply. StatsReply's serialized
// counters are also carried in RuleData to avoid a second payload field
// for what is, on the wire, the same "opaque control payload" slot.
type ControlMessage struct {
	Header
	MsgType  SSCPType
	TxID     uint64
	RuleData []byte
}

// NewControlMessage returns a zero-size ControlMessage of the given type,
// addressed by five, originated at sent.
func NewControlMessage(msgType SSCPType, five FiveTuple, sent clock.Time) *ControlMessage {
	five.IPProto = uint8(msgType)
	return &ControlMessage{Header: NewHeader(five, 0, sent), MsgType: msgType}
}
