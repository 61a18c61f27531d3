package pathengine

import (
	"strings"

	"github.com/ngvozdiev/htsim/internal/graph"
)

// Constraint decides whether a path is acceptable and, given a graph
// view, can compute the shortest acceptable path between two nodes.
// Grounded on original_source/src/net/constraint.{h,cc}.
type Constraint interface {
	PathComplies(seq graph.LinkSequence) bool
	ShortestCompliantPath(g *graph.Graph, src, dst graph.NodeIndex) graph.LinkSequence
	String(g *graph.Graph) string
}

// Conjunction requires that a path avoid every link in ToAvoid and visit
// every link in ToVisit, in the given order.
type Conjunction struct {
	ToAvoid graph.LinkSet
	ToVisit []graph.LinkIndex
}

// PathComplies reports whether seq avoids ToAvoid and visits ToVisit in
// order (not necessarily contiguously).
func (c *Conjunction) PathComplies(seq graph.LinkSequence) bool {
	for _, l := range seq.Links {
		if c.ToAvoid.Contains(l) {
			return false
		}
	}

	idx := 0
	for _, l := range seq.Links {
		if idx < len(c.ToVisit) && l == c.ToVisit[idx] {
			idx++
		}
	}
	return idx == len(c.ToVisit)
}

// ShortestCompliantPath builds the shortest path that respects the
// conjunction by chaining Dijkstra segments between src, each waypoint in
// ToVisit, and dst in turn, avoiding ToAvoid and any node already used by
// an earlier segment.
func (c *Conjunction) ShortestCompliantPath(g *graph.Graph, src, dst graph.NodeIndex) graph.LinkSequence {
	return WaypointShortestPath(g, c.ToVisit, src, dst, ExcludeSet{Links: c.ToAvoid})
}

// String renders the conjunction as "avoid: [...] visit: [...]".
func (c *Conjunction) String(g *graph.Graph) string {
	var sb strings.Builder
	sb.WriteString("avoid: ")
	sb.WriteString(linkSetString(g, c.ToAvoid))
	sb.WriteString(" visit: ")
	sb.WriteString(linkSeqString(g, c.ToVisit))
	return sb.String()
}

func linkSetString(g *graph.Graph, s graph.LinkSet) string {
	var parts []string
	for l := range s {
		parts = append(parts, g.GetLink(l).String(g))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func linkSeqString(g *graph.Graph, links []graph.LinkIndex) string {
	var parts []string
	for _, l := range links {
		parts = append(parts, g.GetLink(l).String(g))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Disjunction is compliant if any of its conjunctions is compliant; its
// shortest compliant path is the minimum-delay path among all
// conjunctions' shortest compliant paths.
type Disjunction struct {
	Conjunctions []*Conjunction
}

// PathComplies reports whether any conjunction accepts seq.
func (d *Disjunction) PathComplies(seq graph.LinkSequence) bool {
	for _, c := range d.Conjunctions {
		if c.PathComplies(seq) {
			return true
		}
	}
	return false
}

// ShortestCompliantPath returns the minimum-delay compliant path across
// all conjunctions, or the empty sequence if none has one.
func (d *Disjunction) ShortestCompliantPath(g *graph.Graph, src, dst graph.NodeIndex) graph.LinkSequence {
	var best graph.LinkSequence
	found := false
	for _, c := range d.Conjunctions {
		seq := c.ShortestCompliantPath(g, src, dst)
		if seq.Empty() {
			continue
		}
		if !found || seq.Delay < best.Delay {
			best = seq
			found = true
		}
	}
	return best
}

// String renders the disjunction as the OR of its conjunctions.
func (d *Disjunction) String(g *graph.Graph) string {
	parts := make([]string, len(d.Conjunctions))
	for i, c := range d.Conjunctions {
		parts[i] = c.String(g)
	}
	return strings.Join(parts, " OR ")
}

// DummyConstraint accepts every path and returns the plain shortest path.
type DummyConstraint struct{}

// PathComplies always returns true.
func (DummyConstraint) PathComplies(graph.LinkSequence) bool { return true }

// ShortestCompliantPath returns the unconstrained shortest path.
func (DummyConstraint) ShortestCompliantPath(g *graph.Graph, src, dst graph.NodeIndex) graph.LinkSequence {
	return NewShortestPath(g, src, ExcludeSet{}).GetPath(dst)
}

// String returns a constant description.
func (DummyConstraint) String(*graph.Graph) string { return "dummy (accepts all paths)" }

var _ Constraint = (*Conjunction)(nil)
var _ Constraint = (*Disjunction)(nil)
var _ Constraint = DummyConstraint{}
