// Package graph implements the immutable, index-addressed network
// topology model: nodes and links are referenced by dense integer
// indices rather than pointers, which keeps the forwarding-plane hot path
// free of pointer chasing and makes paths trivial to serialize.
package graph

import (
	"errors"
	"fmt"
	"time"
)

// NodeIndex is a dense, zero-based index assigned to a node the first
// time it is mentioned.
type NodeIndex uint32

// LinkIndex is a dense, zero-based index assigned to a link the first
// time it is added.
type LinkIndex uint32

// ErrZeroBandwidthOrDelay is returned (and is a Fatal condition per the
// error-severity policy) when a link is added with non-positive bandwidth
// or delay.
var ErrZeroBandwidthOrDelay = errors.New("graph: link bandwidth and delay must be strictly positive")

// ErrSelfLoop is returned when a link's source and destination are the
// same node.
var ErrSelfLoop = errors.New("graph: link source and destination must differ")

// Node is a named vertex in the topology.
type Node struct {
	ID    string
	Index NodeIndex
}

// Link is a unidirectional edge between two nodes. All fields are
// immutable once the link has been interned into a Graph.
type Link struct {
	Index            LinkIndex
	Src, Dst         NodeIndex
	SrcPort, DstPort uint16
	BandwidthBPS     uint64
	Delay            time.Duration
}

// String renders a link the way the rest of the simulator expects to see
// it in human-readable path forms: "src:sp->dst:dp".
func (l *Link) String(g *Graph) string {
	return fmt.Sprintf("%s:%d->%s:%d", g.NodeName(l.Src), l.SrcPort, g.NodeName(l.Dst), l.DstPort)
}

// Region is a named partition of nodes, used only to group nodes for
// administrative queries; it carries no forwarding semantics.
type Region struct {
	Name  string
	Nodes NodeSet
}

// Graph owns the full set of interned nodes and links for one topology.
// Node and link indices are stable for the lifetime of the Graph.
type Graph struct {
	nodes    []Node
	nodeByID map[string]NodeIndex

	links   []Link
	linkKey map[linkKey]LinkIndex

	regions map[string]*Region

	adjacency map[NodeIndex][]LinkIndex
}

type linkKey struct {
	src, dst         NodeIndex
	srcPort, dstPort uint16
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodeByID:  make(map[string]NodeIndex),
		linkKey:   make(map[linkKey]LinkIndex),
		regions:   make(map[string]*Region),
		adjacency: make(map[NodeIndex][]LinkIndex),
	}
}

// NodeOrCreate interns a node by id, assigning the next dense index the
// first time the id is seen.
func (g *Graph) NodeOrCreate(id string) NodeIndex {
	if idx, ok := g.nodeByID[id]; ok {
		return idx
	}
	idx := NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, Node{ID: id, Index: idx})
	g.nodeByID[id] = idx
	return idx
}

// NodeName returns the string id of a node index.
func (g *Graph) NodeName(idx NodeIndex) string {
	if int(idx) >= len(g.nodes) {
		return "?"
	}
	return g.nodes[idx].ID
}

// AllNodes returns the set of all node indices in the graph.
func (g *Graph) AllNodes() NodeSet {
	s := NewNodeSet()
	for _, n := range g.nodes {
		s.Insert(n.Index)
	}
	return s
}

// AllLinks returns the set of all link indices in the graph. The set is
// a map, so ranging over it does not follow the order links were added.
func (g *Graph) AllLinks() LinkSet {
	s := NewLinkSet()
	for _, l := range g.links {
		s.Insert(l.Index)
	}
	return s
}

// NumNodes returns the number of interned nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// GetLink returns the link at the given index. The caller must ensure the
// index is valid; an out-of-range index is a programmer error.
func (g *Graph) GetLink(idx LinkIndex) *Link {
	return &g.links[idx]
}

// AddLink interns a unidirectional link (src, dst, srcPort, dstPort) with
// the given bandwidth and delay. A node may have multiple links to the
// same neighbor provided the port pair differs. Re-adding the identical
// (src, dst, srcPort, dstPort) tuple returns the existing index.
//
// Zero bandwidth or delay, or src == dst, is a programmer error
// (ErrZeroBandwidthOrDelay / ErrSelfLoop) -- callers that can reach this
// from untrusted topology input must validate first; callers building a
// synthetic topology in code should treat it as fatal.
func (g *Graph) AddLink(src, dst NodeIndex, srcPort, dstPort uint16, bandwidthBPS uint64, delay time.Duration) (LinkIndex, error) {
	if src == dst {
		return 0, ErrSelfLoop
	}
	if bandwidthBPS == 0 || delay <= 0 {
		return 0, ErrZeroBandwidthOrDelay
	}

	key := linkKey{src: src, dst: dst, srcPort: srcPort, dstPort: dstPort}
	if idx, ok := g.linkKey[key]; ok {
		return idx, nil
	}

	idx := LinkIndex(len(g.links))
	g.links = append(g.links, Link{
		Index:        idx,
		Src:          src,
		Dst:          dst,
		SrcPort:      srcPort,
		DstPort:      dstPort,
		BandwidthBPS: bandwidthBPS,
		Delay:        delay,
	})
	g.linkKey[key] = idx
	g.adjacency[src] = append(g.adjacency[src], idx)
	return idx, nil
}

// AdjacencyList returns, for every node, the indices of the links leaving
// it, in the order they were added to the graph. This is the ordering the
// DFS and Yen's algorithm traverse, so it is observable in the order
// paths are produced.
func (g *Graph) AdjacencyList() map[NodeIndex][]LinkIndex {
	return g.adjacency
}

// LinkByEndpoints looks up an interned link by node names and ports.
// Used when parsing a human-readable path back into link indices. If
// both ports are zero the lookup falls back to scanning src's outgoing
// links and returns the first one to dst, so port-less path renderings
// stay parseable on graphs with at most one link per node pair.
func (g *Graph) LinkByEndpoints(srcName, dstName string, srcPort, dstPort uint16) (LinkIndex, bool) {
	src, ok := g.nodeByID[srcName]
	if !ok {
		return 0, false
	}
	dst, ok := g.nodeByID[dstName]
	if !ok {
		return 0, false
	}
	if idx, ok := g.linkKey[linkKey{src: src, dst: dst, srcPort: srcPort, dstPort: dstPort}]; ok {
		return idx, true
	}
	if srcPort == 0 && dstPort == 0 {
		for _, idx := range g.adjacency[src] {
			if g.links[idx].Dst == dst {
				return idx, true
			}
		}
	}
	return 0, false
}

// AddRegion creates or replaces a named region with the given member
// nodes.
func (g *Graph) AddRegion(name string, nodes NodeSet) {
	g.regions[name] = &Region{Name: name, Nodes: nodes}
}

// Region returns the named region, or nil if it does not exist.
func (g *Graph) Region(name string) *Region {
	return g.regions[name]
}
