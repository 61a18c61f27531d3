package graph

// NodeSet is a set of node indices. The original implementation backs
// this with a bitset for density; a plain map is kept here since the
// simulator's topologies are small enough (hundreds, not millions, of
// nodes) that the bitset's memory win does not matter, and map[T]struct{}
// is the idiomatic Go set.
type NodeSet map[NodeIndex]struct{}

// NewNodeSet returns an empty NodeSet.
func NewNodeSet() NodeSet { return make(NodeSet) }

// Insert adds n to the set.
func (s NodeSet) Insert(n NodeIndex) { s[n] = struct{}{} }

// Remove deletes n from the set.
func (s NodeSet) Remove(n NodeIndex) { delete(s, n) }

// Contains reports whether n is in the set.
func (s NodeSet) Contains(n NodeIndex) bool {
	_, ok := s[n]
	return ok
}

// LinkSet is a set of link indices.
type LinkSet map[LinkIndex]struct{}

// NewLinkSet returns an empty LinkSet.
func NewLinkSet() LinkSet { return make(LinkSet) }

// Insert adds l to the set.
func (s LinkSet) Insert(l LinkIndex) { s[l] = struct{}{} }

// Remove deletes l from the set.
func (s LinkSet) Remove(l LinkIndex) { delete(s, l) }

// Contains reports whether l is in the set.
func (s LinkSet) Contains(l LinkIndex) bool {
	_, ok := s[l]
	return ok
}

// Union returns a new LinkSet containing every element of s and other.
func (s LinkSet) Union(other LinkSet) LinkSet {
	out := NewLinkSet()
	for l := range s {
		out.Insert(l)
	}
	for l := range other {
		out.Insert(l)
	}
	return out
}
