package pathengine_test

import (
	"testing"
	"time"

	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/pathengine"
)

func TestKShortestPathsBraessOrdering(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	src := g.NodeOrCreate("A")
	dst := g.NodeOrCreate("D")

	k := pathengine.NewKShortestPaths(g, nil, src, dst, pathengine.ExcludeSet{})

	wantDelays := []time.Duration{10 * time.Millisecond, 11 * time.Millisecond, 12 * time.Millisecond}
	wantHops := []int{2, 2, 3}

	for i, wantDelay := range wantDelays {
		path := k.NextPath()
		if path.Empty() {
			t.Fatalf("path %d: got empty path, want delay %v", i, wantDelay)
		}
		if path.Delay != wantDelay {
			t.Fatalf("path %d: delay = %v, want %v", i, path.Delay, wantDelay)
		}
		if len(path.Links) != wantHops[i] {
			t.Fatalf("path %d: %d hops, want %d", i, len(path.Links), wantHops[i])
		}
	}

	if fourth := k.NextPath(); !fourth.Empty() {
		t.Fatalf("expected only 3 simple paths from A to D in Braess(), got a 4th: %v", fourth)
	}
}

func TestKShortestPathsNeverRepeatsAPath(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	src := g.NodeOrCreate("A")
	dst := g.NodeOrCreate("D")

	k := pathengine.NewKShortestPaths(g, nil, src, dst, pathengine.ExcludeSet{})

	seen := make(map[string]bool)
	for {
		path := k.NextPath()
		if path.Empty() {
			break
		}
		key := path.String(g, false)
		if seen[key] {
			t.Fatalf("path %s returned more than once", key)
		}
		seen[key] = true
	}

	if len(seen) != 3 {
		t.Fatalf("got %d distinct paths, want 3", len(seen))
	}
}
