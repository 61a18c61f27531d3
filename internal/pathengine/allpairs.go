// Package pathengine implements the path-finding algorithms that drive
// route installation: Floyd-Warshall all-pairs shortest path, Dijkstra
// single-source shortest path, Yen's k-shortest-paths, depth-limited DFS
// enumeration pruned by the all-pairs lower bound, and the
// conjunction/disjunction/dummy path constraints. Grounded throughout on
// original_source/src/net/algorithm.{h,cc} and constraint.{h,cc}.
package pathengine

import (
	"runtime"
	"time"

	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/parallel"
)

// maxDistance is the sentinel "unreachable" distance, mirroring the
// original's Delay::max().
const maxDistance = time.Duration(1<<63 - 1)

// ExcludeSet names the links and nodes a search algorithm must treat as
// absent from the graph.
type ExcludeSet struct {
	Links graph.LinkSet
	Nodes graph.NodeSet
}

func (e ExcludeSet) excludesLink(l graph.LinkIndex) bool {
	return e.Links != nil && e.Links.Contains(l)
}

func (e ExcludeSet) excludesNode(n graph.NodeIndex) bool {
	return e.Nodes != nil && e.Nodes.Contains(n)
}

type spData struct {
	distance     time.Duration
	nextLink     graph.LinkIndex
	nextNode     graph.NodeIndex
	hasSuccessor bool
}

// AllPairsShortestPath computes the shortest path between every pair of
// nodes with Floyd-Warshall, storing only the distance and a successor
// (link, node) per pair so that a concrete path can be reconstructed in
// linear hops, rather than storing the full path at every cell.
type AllPairsShortestPath struct {
	g       *graph.Graph
	exclude ExcludeSet
	data    [][]spData
}

// NewAllPairsShortestPath runs Floyd-Warshall over g, excluding the given
// links and nodes, and returns the computed table.
func NewAllPairsShortestPath(g *graph.Graph, exclude ExcludeSet) *AllPairsShortestPath {
	n := g.NumNodes()
	data := make([][]spData, n)
	for i := range data {
		row := make([]spData, n)
		for j := range row {
			row[j].distance = maxDistance
		}
		data[i] = row
	}

	a := &AllPairsShortestPath{g: g, exclude: exclude, data: data}
	a.compute()
	return a
}

func (a *AllPairsShortestPath) compute() {
	for node := range a.g.AllNodes() {
		if a.exclude.excludesNode(node) {
			continue
		}
		a.data[node][node].distance = 0
	}

	for linkIdx := range a.g.AllLinks() {
		if a.exclude.excludesLink(linkIdx) {
			continue
		}
		l := a.g.GetLink(linkIdx)
		if a.exclude.excludesNode(l.Src) || a.exclude.excludesNode(l.Dst) {
			continue
		}

		cell := &a.data[l.Src][l.Dst]
		if l.Delay < cell.distance {
			cell.distance = l.Delay
			cell.nextLink = linkIdx
			cell.nextNode = l.Dst
			cell.hasSuccessor = true
		}
	}

	n := a.g.NumNodes()
	if n == 0 {
		return
	}

	// For a fixed k, every row i only reads data[i][k] and data[k][*] and
	// writes data[i][*] -- no row depends on another row's update within
	// the same k iteration, so the i loop can run across a bounded pool
	// of goroutines instead of sequentially. Row k itself is read but
	// never written during iteration k (alt == cell.distance exactly
	// when i == k), so concurrent reads of data[k][*] never race a
	// concurrent write to it.
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	batch := runtime.GOMAXPROCS(0)
	if batch > n {
		batch = n
	}

	for k := 0; k < n; k++ {
		parallel.RunInParallel(rows, batch, func(i, _ int) {
			ik := a.data[i][k].distance
			if ik == maxDistance {
				return
			}
			for j := 0; j < n; j++ {
				kj := a.data[k][j].distance
				if kj == maxDistance {
					continue
				}

				alt := ik + kj
				cell := &a.data[i][j]
				if alt < cell.distance {
					cell.distance = alt
					cell.nextLink = a.data[i][k].nextLink
					cell.nextNode = a.data[i][k].nextNode
					cell.hasSuccessor = a.data[i][k].hasSuccessor
				}
			}
		})
	}
}

// GetDistance returns the shortest-path distance between src and dst, or
// the sentinel "unreachable" maximum duration if no path exists.
func (a *AllPairsShortestPath) GetDistance(src, dst graph.NodeIndex) time.Duration {
	return a.data[src][dst].distance
}

// GetPath reconstructs the shortest path between src and dst by walking
// successor pointers. Returns the empty LinkSequence if src cannot reach
// dst (including the case where src itself is excluded).
func (a *AllPairsShortestPath) GetPath(src, dst graph.NodeIndex) graph.LinkSequence {
	dist := a.data[src][dst].distance
	if dist == maxDistance {
		return graph.LinkSequence{}
	}

	var links []graph.LinkIndex
	next := src
	for next != dst {
		cell := a.data[next][dst]
		if !cell.hasSuccessor {
			return graph.LinkSequence{}
		}
		links = append(links, cell.nextLink)
		next = cell.nextNode
	}

	return graph.LinkSequence{Links: links, Delay: dist}
}
