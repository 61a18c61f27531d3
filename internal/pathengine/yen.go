package pathengine

import (
	"container/heap"
	"time"

	"github.com/ngvozdiev/htsim/internal/graph"
)

type kCandidate struct {
	path           graph.LinkSequence
	deviationIndex int
}

type kCandidateHeap []kCandidate

func (h kCandidateHeap) Len() int { return len(h) }
func (h kCandidateHeap) Less(i, j int) bool {
	if h[i].path.Delay != h[j].path.Delay {
		return h[i].path.Delay < h[j].path.Delay
	}
	return lessLexicographic(h[i].path.Links, h[j].path.Links)
}
func (h kCandidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *kCandidateHeap) Push(x any)   { *h = append(*h, x.(kCandidate)) } //nolint:forcetypeassert
func (h *kCandidateHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func lessLexicographic(a, b []graph.LinkIndex) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func sameSequence(a, b []graph.LinkIndex) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type acceptedPath struct {
	path           graph.LinkSequence
	deviationIndex int
}

// KShortestPaths implements Yen's algorithm: NextPath() returns
// successive shortest paths from src to dst in non-decreasing delay
// order, optionally constrained to pass through an ordered list of
// waypoint links. Each distinct path is returned at most once. Calling
// NextPath() after all paths are exhausted returns the empty sequence,
// which is the terminal signal.
type KShortestPaths struct {
	g         *graph.Graph
	base      ExcludeSet
	waypoints []graph.LinkIndex
	src, dst  graph.NodeIndex

	accepted   []acceptedPath
	candidates kCandidateHeap
}

// NewKShortestPaths returns a Yen's-algorithm generator over g from src
// to dst, required to pass through waypoints (may be nil) in order, with
// the given base exclusions applied throughout.
func NewKShortestPaths(g *graph.Graph, waypoints []graph.LinkIndex, src, dst graph.NodeIndex, base ExcludeSet) *KShortestPaths {
	k := &KShortestPaths{g: g, base: base, waypoints: waypoints, src: src, dst: dst}
	heap.Init(&k.candidates)
	return k
}

// NextPath returns the next shortest path, or the empty sequence once
// exhausted.
func (k *KShortestPaths) NextPath() graph.LinkSequence {
	if len(k.accepted) == 0 {
		p0 := WaypointShortestPath(k.g, k.waypoints, k.src, k.dst, k.base)
		if p0.Empty() && k.src != k.dst {
			return graph.LinkSequence{}
		}
		k.accept(p0, 0)
		return p0
	}

	for k.candidates.Len() > 0 {
		cand := heap.Pop(&k.candidates).(kCandidate) //nolint:forcetypeassert
		if k.alreadyAccepted(cand.path.Links) {
			continue
		}
		if cand.path.Delay >= maxDistance {
			continue
		}
		k.accept(cand.path, cand.deviationIndex)
		return cand.path
	}

	return graph.LinkSequence{}
}

func (k *KShortestPaths) alreadyAccepted(links []graph.LinkIndex) bool {
	for _, a := range k.accepted {
		if sameSequence(a.path.Links, links) {
			return true
		}
	}
	return false
}

func (k *KShortestPaths) accept(path graph.LinkSequence, deviationIndex int) {
	k.accepted = append(k.accepted, acceptedPath{path: path, deviationIndex: deviationIndex})
	k.generateDeviations(path, deviationIndex)
}

// generateDeviations produces spur-path candidates for every node along
// path from index onward, excluding the link that immediately follows
// the shared prefix in every already-accepted path with that prefix (so
// the spur cannot simply retrace a path already found), and excluding
// the root path's intermediate nodes (so the spur stays simple).
func (k *KShortestPaths) generateDeviations(path graph.LinkSequence, index int) {
	for i := index; i < len(path.Links); i++ {
		rootLinks := path.Links[:i]
		spurNode := k.src
		if i > 0 {
			spurNode = k.g.GetLink(path.Links[i-1]).Dst
		}

		excludedLinks := k.exclusionSet(rootLinks, i)
		excludedNodes := graph.NewNodeSet()
		for _, l := range rootLinks {
			n := k.g.GetLink(l).Src
			if n != spurNode {
				excludedNodes.Insert(n)
			}
		}

		exclude := ExcludeSet{
			Links: unionLinks(k.base.Links, excludedLinks),
			Nodes: unionNodes(k.base.Nodes, excludedNodes, spurNode, k.dst),
		}

		remainingWaypoints := k.remainingWaypoints(i, rootLinks)
		spur := WaypointShortestPath(k.g, remainingWaypoints, spurNode, k.dst, exclude)
		if spur.Empty() && spurNode != k.dst {
			continue
		}

		var rootDelay time.Duration
		for _, l := range rootLinks {
			rootDelay += k.g.GetLink(l).Delay
		}

		total := graph.LinkSequence{
			Links: append(append([]graph.LinkIndex{}, rootLinks...), spur.Links...),
			Delay: rootDelay + spur.Delay,
		}
		heap.Push(&k.candidates, kCandidate{path: total, deviationIndex: i})
	}
}

// remainingWaypoints returns the subset of k.waypoints that have not yet
// been consumed by rootLinks (a simple containment check: any waypoint
// already present in rootLinks is dropped).
func (k *KShortestPaths) remainingWaypoints(_ int, rootLinks []graph.LinkIndex) []graph.LinkIndex {
	if len(k.waypoints) == 0 {
		return nil
	}
	used := graph.NewLinkSet()
	for _, l := range rootLinks {
		used.Insert(l)
	}
	var out []graph.LinkIndex
	for _, w := range k.waypoints {
		if !used.Contains(w) {
			out = append(out, w)
		}
	}
	return out
}

func (k *KShortestPaths) exclusionSet(rootLinks []graph.LinkIndex, index int) graph.LinkSet {
	out := graph.NewLinkSet()
	for _, a := range k.accepted {
		if len(a.path.Links) <= index {
			continue
		}
		if sameSequence(a.path.Links[:index], rootLinks) {
			out.Insert(a.path.Links[index])
		}
	}
	return out
}

func unionLinks(a, b graph.LinkSet) graph.LinkSet {
	out := graph.NewLinkSet()
	for l := range a {
		out.Insert(l)
	}
	for l := range b {
		out.Insert(l)
	}
	return out
}
