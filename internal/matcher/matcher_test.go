package matcher

import (
	"testing"

	"github.com/ngvozdiev/htsim/internal/packet"
)

func tuple(src, dst uint32, srcPort, dstPort uint16) packet.FiveTuple {
	return packet.FiveTuple{IPSrc: src, IPDst: dst, IPProto: 1, SrcPort: srcPort, DstPort: dstPort}
}

func udp(ft packet.FiveTuple) packet.Packet {
	return packet.NewUDPPacket(ft, 100, 0)
}

func TestMatchOrNullEmptyMatcherDrops(t *testing.T) {
	t.Parallel()
	m := New(nil, "test")
	if a := m.MatchOrNull(udp(tuple(1, 2, 100, 200)), 1); a != nil {
		t.Fatalf("expected no match, got %+v", a)
	}
}

func TestWildcardRuleMatchesAnyFlowToDst(t *testing.T) {
	t.Parallel()
	m := New(nil, "test")

	key := RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 2}}}
	rule := NewRule(key)
	rule.AddAction(&Action{OutputPort: 10, RewriteTag: KeepTag, Weight: 100})
	m.AddRule(rule)

	a := m.MatchOrNull(udp(tuple(5, 2, 1, 1)), 1)
	if a == nil || a.OutputPort != 10 {
		t.Fatalf("expected match to port 10, got %+v", a)
	}
	if a.Stats.TotalPktsMatched != 1 || a.Stats.TotalBytesMatched != 100 {
		t.Fatalf("unexpected stats after one match: %+v", a.Stats)
	}
}

func TestMoreSpecificRuleWinsOverWildcard(t *testing.T) {
	t.Parallel()
	m := New(nil, "test")

	wild := NewRule(RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 2}}})
	wild.AddAction(&Action{OutputPort: 10, RewriteTag: KeepTag, Weight: 1})
	m.AddRule(wild)

	specific := NewRule(RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 2, IPSrc: 5}}})
	specific.AddAction(&Action{OutputPort: 20, RewriteTag: KeepTag, Weight: 1})
	m.AddRule(specific)

	a := m.MatchOrNull(udp(tuple(5, 2, 1, 1)), 1)
	if a == nil || a.OutputPort != 20 {
		t.Fatalf("expected the more specific rule (port 20) to win, got %+v", a)
	}

	a = m.MatchOrNull(udp(tuple(9, 2, 1, 1)), 1)
	if a == nil || a.OutputPort != 10 {
		t.Fatalf("expected the wildcard rule (port 10) for a different src, got %+v", a)
	}
}

func TestWeightedActionDistribution(t *testing.T) {
	t.Parallel()
	m := New(nil, "test")

	key := RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 2}}}
	rule := NewRule(key)
	rule.AddAction(&Action{OutputPort: 10, RewriteTag: KeepTag, Weight: 100})
	rule.AddAction(&Action{OutputPort: 20, RewriteTag: KeepTag, Weight: 300})
	m.AddRule(rule)

	var countLight, countHeavy int
	const n = 200000
	for i := 0; i < n; i++ {
		ft := tuple(uint32(i), uint32(i*7919+1), uint16(i%65535+1), uint16((i*13)%65535+1))
		a := m.MatchOrNull(udp(ft), 1)
		switch a.OutputPort {
		case 10:
			countLight++
		case 20:
			countHeavy++
		}
	}

	ratio := float64(countHeavy) / float64(countLight)
	if ratio < 2.9 || ratio > 3.1 {
		t.Fatalf("expected heavy:light ratio near 3.0, got %f (heavy=%d light=%d)", ratio, countHeavy, countLight)
	}
}

func TestInstallSameKeyPreservesCounters(t *testing.T) {
	t.Parallel()
	m := New(nil, "test")

	key := RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 2}}}
	first := NewRule(key)
	first.AddAction(&Action{OutputPort: 10, RewriteTag: KeepTag, Weight: 1})
	m.AddRule(first)

	m.MatchOrNull(udp(tuple(5, 2, 1, 1)), 1)
	m.MatchOrNull(udp(tuple(6, 2, 1, 1)), 1)

	second := NewRule(key)
	second.AddAction(&Action{OutputPort: 10, RewriteTag: KeepTag, Weight: 1})
	m.AddRule(second)

	a := m.MatchOrNull(udp(tuple(7, 2, 1, 1)), 1)
	if a.Stats.TotalPktsMatched != 3 {
		t.Fatalf("expected counters to carry over across reinstall, got %d", a.Stats.TotalPktsMatched)
	}
}

func TestEmptyActionsDeletesRule(t *testing.T) {
	t.Parallel()
	m := New(nil, "test")

	key := RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 2}}}
	rule := NewRule(key)
	rule.AddAction(&Action{OutputPort: 10, RewriteTag: KeepTag, Weight: 1})
	m.AddRule(rule)

	if m.NumRules() != 1 {
		t.Fatalf("expected 1 rule, got %d", m.NumRules())
	}

	m.AddRule(NewRule(key))
	if m.NumRules() != 0 {
		t.Fatalf("expected rule to be deleted, got %d rules", m.NumRules())
	}
	if a := m.MatchOrNull(udp(tuple(5, 2, 1, 1)), 1); a != nil {
		t.Fatalf("expected no match after delete, got %+v", a)
	}
}

func TestMatchOrNullPanicsOnWildcardInputPort(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for wildcard input port")
		}
	}()
	m := New(nil, "test")
	m.MatchOrNull(udp(tuple(1, 2, 1, 1)), WildPort)
}

func TestEncodeDecodeRuleRoundTrip(t *testing.T) {
	t.Parallel()
	key := RuleKey{Tag: 5, InputPort: 3, FiveTuples: []packet.FiveTuple{tuple(1, 2, 100, 200)}}
	rule := NewRule(key)
	rule.AddAction(&Action{OutputPort: 10, RewriteTag: 99, Weight: 100, Sample: true})
	rule.AddAction(&Action{OutputPort: 20, RewriteTag: KeepTag, Weight: 300, PreferentialDrop: true})

	decoded, err := DecodeRule(EncodeRule(rule))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Key.Tag != 5 || decoded.Key.InputPort != 3 || len(decoded.Key.FiveTuples) != 1 {
		t.Fatalf("key did not round-trip: %+v", decoded.Key)
	}
	if len(decoded.Actions) != 2 || decoded.Actions[0].OutputPort != 10 || !decoded.Actions[0].Sample {
		t.Fatalf("actions did not round-trip: %+v", decoded.Actions)
	}
	if decoded.Actions[1].RewriteTag != KeepTag || !decoded.Actions[1].PreferentialDrop {
		t.Fatalf("second action did not round-trip: %+v", decoded.Actions[1])
	}
}

func TestEncodeDecodeRuleStatsRoundTrip(t *testing.T) {
	t.Parallel()
	m := New(nil, "test")

	key := RuleKey{InputPort: 4, FiveTuples: []packet.FiveTuple{{IPDst: 2}}}
	rule := NewRule(key)
	rule.AddAction(&Action{OutputPort: 10, RewriteTag: KeepTag, Weight: 1})
	m.AddRule(rule)

	m.MatchOrNull(udp(tuple(5, 2, 1, 1)), 4)
	m.MatchOrNull(udp(tuple(6, 2, 1, 1)), 4)

	records, err := DecodeRuleStats(EncodeRuleStats(m.Rules()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 rule record, got %d", len(records))
	}
	rec := records[0]
	if rec.Tag != 0 || rec.InputPort != 4 || len(rec.Actions) != 1 {
		t.Fatalf("rule identity did not round-trip: %+v", rec)
	}
	if rec.Actions[0].Stats.TotalPktsMatched != 2 || rec.Actions[0].Stats.TotalBytesMatched != 200 {
		t.Fatalf("counters did not round-trip: %+v", rec.Actions[0])
	}
}
