package matcher

import (
	"encoding/binary"
	"fmt"

	"github.com/ngvozdiev/htsim/internal/packet"
)

// EncodeRule serializes rule into the opaque byte payload an
// SSCPAddOrUpdate control message carries on the wire.
func EncodeRule(rule *Rule) []byte {
	buf := make([]byte, 0, 64)
	var tmp [8]byte

	binary.BigEndian.PutUint32(tmp[:4], rule.Key.Tag)
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint16(tmp[:2], rule.Key.InputPort)
	buf = append(buf, tmp[:2]...)

	binary.BigEndian.PutUint16(tmp[:2], uint16(len(rule.Key.FiveTuples)))
	buf = append(buf, tmp[:2]...)
	for _, ft := range rule.Key.FiveTuples {
		binary.BigEndian.PutUint32(tmp[:4], ft.IPSrc)
		buf = append(buf, tmp[:4]...)
		binary.BigEndian.PutUint32(tmp[:4], ft.IPDst)
		buf = append(buf, tmp[:4]...)
		buf = append(buf, ft.IPProto)
		binary.BigEndian.PutUint16(tmp[:2], ft.SrcPort)
		buf = append(buf, tmp[:2]...)
		binary.BigEndian.PutUint16(tmp[:2], ft.DstPort)
		buf = append(buf, tmp[:2]...)
	}

	binary.BigEndian.PutUint16(tmp[:2], uint16(len(rule.Actions)))
	buf = append(buf, tmp[:2]...)
	for _, a := range rule.Actions {
		binary.BigEndian.PutUint16(tmp[:2], a.OutputPort)
		buf = append(buf, tmp[:2]...)
		binary.BigEndian.PutUint32(tmp[:4], a.RewriteTag)
		buf = append(buf, tmp[:4]...)
		binary.BigEndian.PutUint32(tmp[:4], a.Weight)
		buf = append(buf, tmp[:4]...)
		flags := byte(0)
		if a.Sample {
			flags |= 1
		}
		if a.PreferentialDrop {
			flags |= 2
		}
		buf = append(buf, flags)
	}

	return buf
}

// DecodeRule parses the wire form produced by EncodeRule back into a
// Rule ready to install.
func DecodeRule(data []byte) (*Rule, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("matcher: rule payload too short (%d bytes)", len(data))
	}
	r := &Rule{}
	r.Key.Tag = binary.BigEndian.Uint32(data[0:4])
	r.Key.InputPort = binary.BigEndian.Uint16(data[4:6])
	numTuples := int(binary.BigEndian.Uint16(data[6:8]))
	off := 8

	for range numTuples {
		if off+13 > len(data) {
			return nil, fmt.Errorf("matcher: truncated five-tuple at offset %d", off)
		}
		ft := packet.FiveTuple{
			IPSrc:   binary.BigEndian.Uint32(data[off : off+4]),
			IPDst:   binary.BigEndian.Uint32(data[off+4 : off+8]),
			IPProto: data[off+8],
			SrcPort: binary.BigEndian.Uint16(data[off+9 : off+11]),
			DstPort: binary.BigEndian.Uint16(data[off+11 : off+13]),
		}
		r.Key.FiveTuples = append(r.Key.FiveTuples, ft)
		off += 13
	}

	if off+2 > len(data) {
		return nil, fmt.Errorf("matcher: truncated action count at offset %d", off)
	}
	numActions := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2

	for range numActions {
		if off+11 > len(data) {
			return nil, fmt.Errorf("matcher: truncated action at offset %d", off)
		}
		a := &Action{
			OutputPort: binary.BigEndian.Uint16(data[off : off+2]),
			RewriteTag: binary.BigEndian.Uint32(data[off+2 : off+6]),
			Weight:     binary.BigEndian.Uint32(data[off+6 : off+10]),
		}
		flags := data[off+10]
		a.Sample = flags&1 != 0
		a.PreferentialDrop = flags&2 != 0
		r.AddAction(a)
		off += 11
	}

	return r, nil
}

// RuleStatsRecord is one rule's counters as carried by an
// SSCPStatsReply payload.
type RuleStatsRecord struct {
	Tag       uint32
	InputPort uint16
	Actions   []ActionStatsRecord
}

// ActionStatsRecord pairs an action's output port with its counters.
type ActionStatsRecord struct {
	OutputPort uint16
	Stats      ActionStats
}

// EncodeRuleStats serializes every installed rule's per-action counters
// into the opaque payload of an SSCPStatsReply.
func EncodeRuleStats(rules map[string]*Rule) []byte {
	buf := make([]byte, 0, 32*len(rules))
	var tmp [8]byte

	binary.BigEndian.PutUint16(tmp[:2], uint16(len(rules)))
	buf = append(buf, tmp[:2]...)
	for _, r := range rules {
		binary.BigEndian.PutUint32(tmp[:4], r.Key.Tag)
		buf = append(buf, tmp[:4]...)
		binary.BigEndian.PutUint16(tmp[:2], r.Key.InputPort)
		buf = append(buf, tmp[:2]...)
		binary.BigEndian.PutUint16(tmp[:2], uint16(len(r.Actions)))
		buf = append(buf, tmp[:2]...)
		for _, a := range r.Actions {
			binary.BigEndian.PutUint16(tmp[:2], a.OutputPort)
			buf = append(buf, tmp[:2]...)
			binary.BigEndian.PutUint64(tmp[:8], a.Stats.TotalPktsMatched)
			buf = append(buf, tmp[:8]...)
			binary.BigEndian.PutUint64(tmp[:8], a.Stats.TotalBytesMatched)
			buf = append(buf, tmp[:8]...)
		}
	}
	return buf
}

// DecodeRuleStats parses the wire form produced by EncodeRuleStats.
func DecodeRuleStats(data []byte) ([]RuleStatsRecord, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("matcher: stats payload too short (%d bytes)", len(data))
	}
	numRules := int(binary.BigEndian.Uint16(data[0:2]))
	off := 2

	out := make([]RuleStatsRecord, 0, numRules)
	for range numRules {
		if off+8 > len(data) {
			return nil, fmt.Errorf("matcher: truncated rule stats at offset %d", off)
		}
		rec := RuleStatsRecord{
			Tag:       binary.BigEndian.Uint32(data[off : off+4]),
			InputPort: binary.BigEndian.Uint16(data[off+4 : off+6]),
		}
		numActions := int(binary.BigEndian.Uint16(data[off+6 : off+8]))
		off += 8
		for range numActions {
			if off+18 > len(data) {
				return nil, fmt.Errorf("matcher: truncated action stats at offset %d", off)
			}
			rec.Actions = append(rec.Actions, ActionStatsRecord{
				OutputPort: binary.BigEndian.Uint16(data[off : off+2]),
				Stats: ActionStats{
					TotalPktsMatched:  binary.BigEndian.Uint64(data[off+2 : off+10]),
					TotalBytesMatched: binary.BigEndian.Uint64(data[off+10 : off+18]),
				},
			})
			off += 18
		}
		out = append(out, rec)
	}
	return out, nil
}
