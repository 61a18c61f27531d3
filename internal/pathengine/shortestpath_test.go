package pathengine_test

import (
	"testing"
	"time"

	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/pathengine"
)

func TestShortestPathBraessPrefersTenMillisecondRoute(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	src := g.NodeOrCreate("A")
	dst := g.NodeOrCreate("D")

	sp := pathengine.NewShortestPath(g, src, pathengine.ExcludeSet{})
	path := sp.GetPath(dst)

	if path.Delay != 10*time.Millisecond {
		t.Fatalf("delay = %v, want 10ms", path.Delay)
	}
	if len(path.Links) != 2 {
		t.Fatalf("want a 2-hop path, got %d hops", len(path.Links))
	}
	if got, want := g.GetLink(path.Links[0]).Dst, g.NodeOrCreate("C"); got != want {
		t.Fatalf("first hop should land on C, got node %d", got)
	}
}

func TestShortestPathSameNodeIsEmpty(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	a := g.NodeOrCreate("A")

	sp := pathengine.NewShortestPath(g, a, pathengine.ExcludeSet{})
	if path := sp.GetPath(a); !path.Empty() {
		t.Fatalf("path from a node to itself should be empty, got %v", path)
	}
}

func TestWaypointShortestPathRoutesThroughWaypoint(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	a := g.NodeOrCreate("A")
	d := g.NodeOrCreate("D")

	bc, ok := g.LinkByEndpoints("B", "C", 3, 2)
	if !ok {
		t.Fatalf("expected a B->C link in Braess()")
	}

	path := pathengine.WaypointShortestPath(g, []graph.LinkIndex{bc}, a, d, pathengine.ExcludeSet{})
	if path.Empty() {
		t.Fatalf("expected a path through B->C")
	}

	found := false
	for _, l := range path.Links {
		if l == bc {
			found = true
		}
	}
	if !found {
		t.Fatalf("path %v does not traverse required waypoint link %d", path.Links, bc)
	}
}
