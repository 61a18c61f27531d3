// Package matcher implements the hierarchical flow-match table: a
// 7-level decision tree keyed in the fixed order (input_port, input_tag,
// ip_dst, ip_src, ip_proto, src_port, dst_port) with longest-match
// semantics and weighted multi-way (ECMP-style) action selection.
// Grounded on original_source/src/htsim/match.{h,cc}.
package matcher

import (
	"fmt"
	"strings"

	"github.com/ngvozdiev/htsim/internal/packet"
)

// KeepTag is the sentinel rewrite tag meaning "do not change the
// packet's tag".
const KeepTag uint32 = 1<<32 - 1

// WildTag, WildPort are the zero-value wildcards for a RuleKey's tag and
// input-port match fields.
const (
	WildTag  uint32 = 0
	WildPort uint16 = 0
)

// RuleKey selects which packets a Rule applies to: an optional tag match
// (zero = wildcard), an optional input-port match (zero = wildcard), and
// one or more five-tuples that match as OR.
type RuleKey struct {
	Tag        uint32
	InputPort  uint16
	FiveTuples []packet.FiveTuple
}

// String renders the key for logs and admin queries.
func (k RuleKey) String() string {
	parts := make([]string, len(k.FiveTuples))
	for i, ft := range k.FiveTuples {
		parts[i] = fmt.Sprintf("{%d:%d->%d:%d/%d}", ft.IPSrc, ft.SrcPort, ft.IPDst, ft.DstPort, ft.IPProto)
	}
	return fmt.Sprintf("sp:%d tag:%d tuples:[%s]", k.InputPort, k.Tag, strings.Join(parts, ","))
}

// canonical returns a string uniquely identifying this key, used to
// index the matcher's rule table (RuleKey is not directly comparable
// since it embeds a slice).
func (k RuleKey) canonical() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%d|", k.Tag, k.InputPort)
	for _, ft := range k.FiveTuples {
		fmt.Fprintf(&sb, "%d,%d,%d,%d,%d;", ft.IPSrc, ft.IPDst, ft.IPProto, ft.SrcPort, ft.DstPort)
	}
	return sb.String()
}

// ActionStats holds the counters a MatchRuleAction accumulates.
type ActionStats struct {
	TotalBytesMatched uint64
	TotalPktsMatched  uint64
}

// Action is one of a Rule's possible forwarding outcomes: send out
// OutputPort, optionally rewriting the packet's tag, chosen with
// probability Weight/(sum of all of the rule's action weights).
type Action struct {
	OutputPort       uint16
	RewriteTag       uint32
	Weight           uint32
	Sample           bool
	PreferentialDrop bool

	Stats ActionStats

	parent *Rule
}

// updateStats records one matched packet of the given size.
func (a *Action) updateStats(sizeBytes int) {
	a.Stats.TotalBytesMatched += uint64(sizeBytes)
	a.Stats.TotalPktsMatched++
}

// FractionOfTraffic returns the share of the parent rule's total weight
// allocated to this action.
func (a *Action) FractionOfTraffic() float64 {
	if a.parent == nil || a.parent.totalWeight == 0 {
		return 0
	}
	return float64(a.Weight) / float64(a.parent.totalWeight)
}

// Rule matches the packets named by its Key and sends them out one of
// its actions, chosen by a stable per-flow hash weighted by Action.Weight.
// An empty Actions list is not installed in a Matcher -- it is the
// sentinel for "delete the rule at this key".
type Rule struct {
	Key         RuleKey
	Actions     []*Action
	totalWeight uint32
}

// NewRule returns a Rule for key with no actions. Use AddAction to
// populate it before installing it in a Matcher.
func NewRule(key RuleKey) *Rule {
	return &Rule{Key: key}
}

// AddAction appends action to the rule, taking ownership of its parent
// pointer and recomputing the total weight used by Choose.
func (r *Rule) AddAction(a *Action) {
	a.parent = r
	r.Actions = append(r.Actions, a)
	r.totalWeight = 0
	for _, act := range r.Actions {
		r.totalWeight += act.Weight
	}
}

// Choose selects an action for five according to the rule's weighted
// hash policy. A single-action rule always short-circuits to that
// action. Returns nil if the rule has no actions (meaning "drop").
func (r *Rule) Choose(five packet.FiveTuple) *Action {
	if len(r.Actions) == 1 {
		return r.Actions[0]
	}
	if r.totalWeight == 0 {
		return nil
	}

	h := five.Hash() % uint64(r.totalWeight)
	for _, a := range r.Actions {
		if h < uint64(a.Weight) {
			return a
		}
		h -= uint64(a.Weight)
	}
	// Unreachable unless the weights and totalWeight have gone out of
	// sync, which AddAction prevents.
	return nil
}

// ChoosePacket selects an action for pkt and, if one is found, updates
// its stats with the packet's size.
func (r *Rule) ChoosePacket(pkt packet.Packet) *Action {
	a := r.Choose(pkt.FiveTuple())
	if a != nil {
		a.updateStats(pkt.SizeBytes())
	}
	return a
}

// Stats returns a snapshot of every action's counters, in action order.
func (r *Rule) Stats() []ActionStats {
	out := make([]ActionStats, len(r.Actions))
	for i, a := range r.Actions {
		out[i] = a.Stats
	}
	return out
}

// mergeStatsFrom adds the counters of matching actions (same output
// port and rewrite tag) from prev into r, so that superseding a rule
// with a new one sharing the same key does not reset its counters.
func (r *Rule) mergeStatsFrom(prev *Rule) {
	if prev == nil {
		return
	}
	for _, a := range r.Actions {
		for _, pa := range prev.Actions {
			if a.OutputPort == pa.OutputPort && a.RewriteTag == pa.RewriteTag {
				a.Stats.TotalBytesMatched += pa.Stats.TotalBytesMatched
				a.Stats.TotalPktsMatched += pa.Stats.TotalPktsMatched
			}
		}
	}
}
