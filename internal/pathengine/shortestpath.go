package pathengine

import (
	"container/heap"
	"time"

	"github.com/ngvozdiev/htsim/internal/graph"
)

// dijkstraItem is an entry in the vertex priority queue, ordered by
// (distance, node index) exactly as the original's std::set<pair<Delay,
// GraphNodeIndex>> does.
type dijkstraItem struct {
	distance time.Duration
	node     graph.NodeIndex
}

type dijkstraHeap []dijkstraItem

func (h dijkstraHeap) Len() int { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance < h[j].distance
	}
	return h[i].node < h[j].node
}
func (h dijkstraHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x any)        { *h = append(*h, x.(dijkstraItem)) } //nolint:forcetypeassert
func (h *dijkstraHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// ShortestPath computes single-source shortest paths with Dijkstra's
// algorithm over a non-negative-weight graph (link delays are always
// positive).
type ShortestPath struct {
	g        *graph.Graph
	exclude  ExcludeSet
	src      graph.NodeIndex
	previous map[graph.NodeIndex]graph.LinkIndex
	dist     map[graph.NodeIndex]time.Duration
}

// NewShortestPath runs Dijkstra from src over g, excluding the given
// links and nodes.
func NewShortestPath(g *graph.Graph, src graph.NodeIndex, exclude ExcludeSet) *ShortestPath {
	sp := &ShortestPath{
		g:        g,
		exclude:  exclude,
		src:      src,
		previous: make(map[graph.NodeIndex]graph.LinkIndex),
		dist:     make(map[graph.NodeIndex]time.Duration),
	}
	sp.compute()
	return sp
}

func (sp *ShortestPath) compute() {
	if sp.exclude.excludesNode(sp.src) {
		return
	}

	sp.dist[sp.src] = 0
	q := &dijkstraHeap{{distance: 0, node: sp.src}}
	heap.Init(q)

	adjacency := sp.g.AdjacencyList()

	for q.Len() > 0 {
		cur := heap.Pop(q).(dijkstraItem) //nolint:forcetypeassert
		curDist, ok := sp.dist[cur.node]
		if !ok || cur.distance > curDist {
			continue
		}

		for _, linkIdx := range adjacency[cur.node] {
			if sp.exclude.excludesLink(linkIdx) {
				continue
			}
			l := sp.g.GetLink(linkIdx)
			if sp.exclude.excludesNode(l.Dst) {
				continue
			}

			alt := curDist + l.Delay
			best, seen := sp.dist[l.Dst]
			if !seen || alt < best {
				sp.dist[l.Dst] = alt
				sp.previous[l.Dst] = linkIdx
				heap.Push(q, dijkstraItem{distance: alt, node: l.Dst})
			}
		}
	}
}

// GetPath reconstructs the shortest path to dst. Returns the empty
// LinkSequence if dst is unreachable from the source.
func (sp *ShortestPath) GetPath(dst graph.NodeIndex) graph.LinkSequence {
	if dst == sp.src {
		return graph.LinkSequence{}
	}

	var reversed []graph.LinkIndex
	cur := dst
	for cur != sp.src {
		linkIdx, ok := sp.previous[cur]
		if !ok {
			return graph.LinkSequence{}
		}
		reversed = append(reversed, linkIdx)
		cur = sp.g.GetLink(linkIdx).Src
	}

	links := make([]graph.LinkIndex, len(reversed))
	for i, idx := range reversed {
		links[len(reversed)-1-i] = idx
	}

	return graph.LinkSequence{Links: links, Delay: sp.dist[dst]}
}

// WaypointShortestPath returns the single shortest path from src to dst
// that passes through waypoints in the given order, built by chaining
// Dijkstra through each waypoint segment and rejecting any path that
// revisits a node already used by an earlier segment. Returns the empty
// sequence if no such path exists.
func WaypointShortestPath(g *graph.Graph, waypoints []graph.LinkIndex, src, dst graph.NodeIndex, exclude ExcludeSet) graph.LinkSequence {
	var out graph.LinkSequence
	visited := graph.NewNodeSet()
	visited.Insert(src)

	segmentStart := src
	segmentEnds := make([]graph.NodeIndex, 0, len(waypoints)+1)
	for _, w := range waypoints {
		segmentEnds = append(segmentEnds, g.GetLink(w).Src)
	}
	segmentEnds = append(segmentEnds, dst)

	for i, end := range segmentEnds {
		segExclude := ExcludeSet{Links: exclude.Links, Nodes: unionNodes(exclude.Nodes, visited, segmentStart, end)}
		sp := NewShortestPath(g, segmentStart, segExclude)
		seg := sp.GetPath(end)
		if segmentStart != end && seg.Empty() {
			return graph.LinkSequence{}
		}

		out.Links = append(out.Links, seg.Links...)
		out.Delay += seg.Delay
		for _, l := range seg.Links {
			visited.Insert(g.GetLink(l).Dst)
		}

		if i < len(waypoints) {
			out.Links = append(out.Links, waypoints[i])
			out.Delay += g.GetLink(waypoints[i]).Delay
			segmentStart = g.GetLink(waypoints[i]).Dst
			visited.Insert(segmentStart)
		}
	}

	return out
}

// unionNodes returns a NodeSet containing base plus extra, except for
// keepSrc and keepDst which must remain eligible even if already visited
// (they are the endpoints of the segment being searched).
func unionNodes(base, extra graph.NodeSet, keepSrc, keepDst graph.NodeIndex) graph.NodeSet {
	out := graph.NewNodeSet()
	for n := range base {
		out.Insert(n)
	}
	for n := range extra {
		if n == keepSrc || n == keepDst {
			continue
		}
		out.Insert(n)
	}
	return out
}
