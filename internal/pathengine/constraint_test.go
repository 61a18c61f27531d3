package pathengine_test

import (
	"testing"

	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/pathengine"
)

func TestConjunctionAvoidsExcludedLink(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	src := g.NodeOrCreate("A")
	dst := g.NodeOrCreate("D")

	ac, ok := g.LinkByEndpoints("A", "C", 1, 1)
	if !ok {
		t.Fatalf("expected an A->C link")
	}

	avoid := graph.NewLinkSet()
	avoid.Insert(ac)
	c := &pathengine.Conjunction{ToAvoid: avoid}

	path := c.ShortestCompliantPath(g, src, dst)
	if path.Empty() {
		t.Fatalf("expected a compliant path avoiding A->C")
	}
	for _, l := range path.Links {
		if l == ac {
			t.Fatalf("path %v uses the avoided link %d", path.Links, ac)
		}
	}
	if !c.PathComplies(path) {
		t.Fatalf("constraint rejects the path it produced")
	}
}

func TestDummyConstraintAcceptsEverything(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	src := g.NodeOrCreate("A")
	dst := g.NodeOrCreate("D")

	var dc pathengine.DummyConstraint
	path := dc.ShortestCompliantPath(g, src, dst)
	if path.Empty() {
		t.Fatalf("expected a path")
	}
	if !dc.PathComplies(path) {
		t.Fatalf("dummy constraint should accept any path")
	}
}

func TestDisjunctionPicksCheapestCompliantBranch(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	src := g.NodeOrCreate("A")
	dst := g.NodeOrCreate("D")

	ac, _ := g.LinkByEndpoints("A", "C", 1, 1)
	ab, _ := g.LinkByEndpoints("A", "B", 2, 1)

	avoidAC := graph.NewLinkSet()
	avoidAC.Insert(ac)
	avoidAB := graph.NewLinkSet()
	avoidAB.Insert(ab)

	d := &pathengine.Disjunction{Conjunctions: []*pathengine.Conjunction{
		{ToAvoid: avoidAC},
		{ToAvoid: avoidAB},
	}}

	path := d.ShortestCompliantPath(g, src, dst)
	if path.Empty() {
		t.Fatalf("expected at least one compliant branch")
	}
	if !d.PathComplies(path) {
		t.Fatalf("disjunction rejects its own shortest path")
	}
}
