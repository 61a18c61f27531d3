package matcher

import (
	"log/slog"

	"github.com/ngvozdiev/htsim/internal/packet"
)

// fieldCount is the number of levels in the decision tree: input_port,
// input_tag, ip_dst, ip_src, ip_proto, src_port, dst_port, fixed per
// spec.md section 4.4 so implementations are interchangeable.
const fieldCount = 7

// matchContext bundles the values the tree matches a packet against.
type matchContext struct {
	five      packet.FiveTuple
	inputPort uint16
	tag       uint32
}

// fieldValue returns the (key, wildcard) pair for level i of the
// decision tree, in the fixed preference order.
func fieldValue(i int, mc matchContext) (key, wildcard uint32) {
	switch i {
	case 0:
		return uint32(mc.inputPort), uint32(WildPort)
	case 1:
		return mc.tag, WildTag
	case 2:
		return mc.five.IPDst, 0
	case 3:
		return mc.five.IPSrc, 0
	case 4:
		return uint32(mc.five.IPProto), 0
	case 5:
		return uint32(mc.five.SrcPort), 0
	default:
		return uint32(mc.five.DstPort), 0
	}
}

// node is one level of the decision tree. children holds exact-match
// subtrees keyed by field value; wildcard is tried only once the exact
// subtree (if any) fails to produce a match. At depth fieldCount a node
// is a leaf and rule is its only meaningful field.
type node struct {
	children map[uint32]*node
	wildcard *node
	rule     *Rule
}

func newNode() *node {
	return &node{children: make(map[uint32]*node)}
}

func (n *node) childFor(key, wildcard uint32) *node {
	if key == wildcard {
		if n.wildcard == nil {
			n.wildcard = newNode()
		}
		return n.wildcard
	}
	c, ok := n.children[key]
	if !ok {
		c = newNode()
		n.children[key] = c
	}
	return c
}

func (n *node) insert(depth int, mc matchContext, rule *Rule) {
	if depth == fieldCount {
		n.rule = rule
		return
	}
	key, wildcard := fieldValue(depth, mc)
	n.childFor(key, wildcard).insert(depth+1, mc, rule)
}

// matchOrNull walks the tree preferring the exact-match child at each
// level, falling back to the wildcard child if the exact subtree fails
// to resolve to a rule. This is what makes the deepest -- i.e. most
// specific -- matching rule win.
func (n *node) matchOrNull(depth int, mc matchContext) *Rule {
	if depth == fieldCount {
		return n.rule
	}
	key, wildcard := fieldValue(depth, mc)
	if key != wildcard {
		if c, ok := n.children[key]; ok {
			if r := c.matchOrNull(depth+1, mc); r != nil {
				return r
			}
		}
	}
	if n.wildcard != nil {
		return n.wildcard.matchOrNull(depth+1, mc)
	}
	return nil
}

// clearRule removes every leaf reference to rule from the subtree.
// Called after a rule has been superseded, so stale tree pointers never
// outlive the rule they point to.
func (n *node) clearRule(rule *Rule) {
	if n.rule == rule {
		n.rule = nil
	}
	for _, c := range n.children {
		c.clearRule(rule)
	}
	if n.wildcard != nil {
		n.wildcard.clearRule(rule)
	}
}

// Matcher holds the installed rule set for one device: a canonical-key
// map of rules plus the decision tree used to match packets against
// them in O(fieldCount) per packet.
type Matcher struct {
	id     string
	logger *slog.Logger
	root   *node
	rules  map[string]*Rule
}

// New returns an empty Matcher identified by id (used only in logs).
func New(logger *slog.Logger, id string) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{id: id, logger: logger, root: newNode(), rules: make(map[string]*Rule)}
}

// NumRules reports how many rules are currently installed.
func (m *Matcher) NumRules() int { return len(m.rules) }

// ID returns the matcher's identifier.
func (m *Matcher) ID() string { return m.id }

// MatchOrNull finds the deepest rule matching pkt arriving on inputPort
// and returns the action it selects, or nil if there is no match (drop)
// or the matched rule itself has no actions.
//
// inputPort must not be the wildcard value; a matcher asked to match
// against a wildcard input port is a programmer error and panics, per
// spec.md section 4.4.
func (m *Matcher) MatchOrNull(pkt packet.Packet, inputPort uint16) *Action {
	if inputPort == WildPort {
		panic("matcher: MatchOrNull called with wildcard input port")
	}
	mc := matchContext{five: pkt.FiveTuple(), inputPort: inputPort, tag: pkt.Tag()}
	rule := m.root.matchOrNull(0, mc)
	if rule == nil {
		return nil
	}
	return rule.ChoosePacket(pkt)
}

// AddRule installs rule, replacing whatever rule previously existed
// under the same key. An empty-actions rule deletes the current rule
// for that key instead of installing anything. If a prior rule existed,
// its counters are merged into the new rule before the old tree
// references are cleared.
func (m *Matcher) AddRule(rule *Rule) {
	key := rule.Key.canonical()
	prev := m.rules[key]

	deleting := len(rule.Actions) == 0
	if !deleting {
		rule.mergeStatsFrom(prev)
		mc := matchContext{inputPort: rule.Key.InputPort, tag: rule.Key.Tag}
		for _, ft := range rule.Key.FiveTuples {
			mc.five = ft
			m.root.insert(0, mc, rule)
		}
	}

	if prev != nil {
		m.root.clearRule(prev)
	}

	if deleting {
		delete(m.rules, key)
	} else {
		m.rules[key] = rule
	}

	action := "added"
	if prev != nil {
		action = "updated"
	}
	if deleting {
		action = "deleted"
	}
	m.logger.Info("rule "+action, slog.String("matcher", m.id), slog.String("key", rule.Key.String()))
}

// Rules returns every installed rule, keyed by its canonical key string.
// Used by the admin/stats boundary to enumerate current state.
func (m *Matcher) Rules() map[string]*Rule {
	return m.rules
}
