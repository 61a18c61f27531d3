package pathengine

import (
	"time"

	"github.com/ngvozdiev/htsim/internal/graph"
)

// DFS enumerates all simple paths between a source and a destination,
// pruned at every step by the all-pairs shortest-path lower bound (an
// A*-style admissible heuristic): a partial path is abandoned as soon as
// its accumulated delay plus the shortest possible remaining delay
// exceeds the caller's budget.
type DFS struct {
	g       *graph.Graph
	exclude ExcludeSet
	allPair *AllPairsShortestPath
}

// NewDFS returns a DFS search helper over g with the given exclusions.
func NewDFS(g *graph.Graph, exclude ExcludeSet) *DFS {
	return &DFS{g: g, exclude: exclude, allPair: NewAllPairsShortestPath(g, exclude)}
}

// PathCallback is invoked once per enumerated path, in DFS-traversal
// order (i.e., the order links were added to the graph, not sorted by
// delay).
type PathCallback func(graph.LinkSequence)

// Paths calls cb once for every simple path from src to dst whose
// accumulated delay does not exceed maxDelay and whose hop count does
// not exceed maxHops.
func (d *DFS) Paths(src, dst graph.NodeIndex, maxDelay time.Duration, maxHops int, cb PathCallback) {
	seen := graph.NewNodeSet()
	var current []graph.LinkIndex
	var total time.Duration
	d.recurse(maxDelay, maxHops, src, dst, cb, seen, &current, &total)
}

func (d *DFS) recurse(maxDelay time.Duration, maxHops int, at, dst graph.NodeIndex, cb PathCallback, seen graph.NodeSet, current *[]graph.LinkIndex, total *time.Duration) {
	if at == dst {
		links := make([]graph.LinkIndex, len(*current))
		copy(links, *current)
		cb(graph.LinkSequence{Links: links, Delay: *total})
		return
	}

	if len(*current) >= maxHops {
		return
	}

	lower := d.allPair.GetDistance(at, dst)
	if lower == maxDistance || *total+lower > maxDelay {
		return
	}

	if seen.Contains(at) {
		return
	}
	seen.Insert(at)
	defer seen.Remove(at)

	for _, linkIdx := range d.g.AdjacencyList()[at] {
		if d.exclude.excludesLink(linkIdx) {
			continue
		}
		l := d.g.GetLink(linkIdx)
		if d.exclude.excludesNode(l.Dst) {
			continue
		}

		*current = append(*current, linkIdx)
		*total += l.Delay
		d.recurse(maxDelay, maxHops, l.Dst, dst, cb, seen, current, total)
		*total -= l.Delay
		*current = (*current)[:len(*current)-1]
	}
}
