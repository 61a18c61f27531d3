package graph

import (
	"strconv"
	"time"
)

// Braess returns the canonical four-node Braess topology used by the
// simulator's DFS/Yen ordering scenario: nodes A, B, C, D with links
// added in the order A->C, A->B, B->D, B->C, C->D. Because the DFS and
// Yen's algorithm traverse each node's outgoing links in add-order, this
// fixed ordering is what makes the three A->D paths come out in a
// specific, testable sequence:
//
//	A->C, C->D           (delay 10)
//	A->B, B->D            (delay 11)
//	A->B, B->C, C->D      (delay 12)
//
// Grounded on original_source/src/net/net_gen.cc's synthetic-topology
// generators, simplified to the fixed four-node case this simulator
// actually exercises.
func Braess() *Graph {
	g := New()
	a := g.NodeOrCreate("A")
	b := g.NodeOrCreate("B")
	c := g.NodeOrCreate("C")
	d := g.NodeOrCreate("D")

	must := func(idx LinkIndex, err error) LinkIndex {
		if err != nil {
			panic(err)
		}
		return idx
	}

	const bw = 1_000_000_000 // 1 Gbps, arbitrary but uniform.

	must(g.AddLink(a, c, 1, 1, bw, 5*time.Millisecond))
	must(g.AddLink(a, b, 2, 1, bw, 4*time.Millisecond))
	must(g.AddLink(b, d, 2, 1, bw, 7*time.Millisecond))
	must(g.AddLink(b, c, 3, 2, bw, 3*time.Millisecond))
	must(g.AddLink(c, d, 2, 2, bw, 5*time.Millisecond))

	return g
}

// HubAndSpoke returns a star topology with one hub node and n spoke
// nodes, each spoke connected to the hub by a link in each direction with
// the given bandwidth and delay. Grounded on net_gen.cc's hub-and-spoke
// generator; carried over because it is a cheap, general-purpose
// synthetic topology useful for exercising the matcher's ECMP and the
// path engine at scale.
func HubAndSpoke(n int, bandwidthBPS uint64, delay time.Duration) *Graph {
	g := New()
	hub := g.NodeOrCreate("hub")

	for i := range n {
		spoke := g.NodeOrCreate(spokeName(i))
		if _, err := g.AddLink(hub, spoke, uint16(i+1), 1, bandwidthBPS, delay); err != nil {
			panic(err)
		}
		if _, err := g.AddLink(spoke, hub, 1, uint16(i+1), bandwidthBPS, delay); err != nil {
			panic(err)
		}
	}

	return g
}

func spokeName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if i < len(letters) {
		return "spoke-" + string(letters[i])
	}
	return "spoke-" + strconv.Itoa(i)
}
