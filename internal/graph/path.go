package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LinkSequence is an ordered list of link indices with no repeated link,
// plus the total delay of traversing them. The empty sequence (no links,
// zero delay) is the distinguished "no path" / "empty path" singleton.
type LinkSequence struct {
	Links []LinkIndex
	Delay time.Duration
}

// Empty reports whether the sequence carries no links.
func (ls LinkSequence) Empty() bool { return len(ls.Links) == 0 }

// String renders the sequence as "[src:sp->dst:dp, ...]". If withPorts is
// false port numbers are omitted.
func (ls LinkSequence) String(g *Graph, withPorts bool) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, idx := range ls.Links {
		if i > 0 {
			sb.WriteString(", ")
		}
		l := g.GetLink(idx)
		if withPorts {
			sb.WriteString(fmt.Sprintf("%s:%d->%s:%d", g.NodeName(l.Src), l.SrcPort, g.NodeName(l.Dst), l.DstPort))
		} else {
			sb.WriteString(fmt.Sprintf("%s->%s", g.NodeName(l.Src), g.NodeName(l.Dst)))
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// ParseLinkSequence parses the "[src:sp->dst:dp, ...]" form produced by
// String back into link indices against the given graph. Returns an
// error if any hop does not name an interned link.
func ParseLinkSequence(g *Graph, s string) (LinkSequence, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if s == "" {
		return LinkSequence{}, nil
	}

	var out LinkSequence
	for _, hop := range strings.Split(s, ",") {
		hop = strings.TrimSpace(hop)
		srcPart, dstPart, ok := strings.Cut(hop, "->")
		if !ok {
			return LinkSequence{}, fmt.Errorf("parse path hop %q: missing ->", hop)
		}

		srcName, srcPort, err := splitEndpoint(srcPart)
		if err != nil {
			return LinkSequence{}, fmt.Errorf("parse path hop %q: %w", hop, err)
		}
		dstName, dstPort, err := splitEndpoint(dstPart)
		if err != nil {
			return LinkSequence{}, fmt.Errorf("parse path hop %q: %w", hop, err)
		}

		idx, ok := g.LinkByEndpoints(srcName, dstName, srcPort, dstPort)
		if !ok {
			return LinkSequence{}, fmt.Errorf("parse path hop %q: no such link", hop)
		}

		out.Links = append(out.Links, idx)
		out.Delay += g.GetLink(idx).Delay
	}
	return out, nil
}

func splitEndpoint(s string) (name string, port uint16, err error) {
	s = strings.TrimSpace(s)
	name, portStr, ok := strings.Cut(s, ":")
	if !ok {
		return s, 0, nil
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return name, uint16(p), nil
}

// Path is a LinkSequence interned under a cookie namespace and assigned a
// small integer Tag, the on-wire forwarding label.
type Path struct {
	LinkSequence
	Cookie uint64
	Tag    uint32
}

// Serialize encodes a path as a fixed binary form: the sequence of link
// indices, big-endian uint32 each.
func (p *Path) Serialize() []byte {
	out := make([]byte, 4*len(p.Links))
	for i, idx := range p.Links {
		out[i*4] = byte(idx >> 24)
		out[i*4+1] = byte(idx >> 16)
		out[i*4+2] = byte(idx >> 8)
		out[i*4+3] = byte(idx)
	}
	return out
}

// pathKey canonicalizes a (sequence, cookie) pair for the intern table.
func pathKey(links []LinkIndex, cookie uint64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|", cookie)
	for _, idx := range links {
		fmt.Fprintf(&sb, "%d,", idx)
	}
	return sb.String()
}

// PathStorage owns the graph plus the path-interning tables: it assigns
// a new 32-bit tag the first time a (link sequence, cookie) pair is seen
// and supports reverse lookup from tag back to path. The tag namespace is
// shared across all cookies.
type PathStorage struct {
	graph   *Graph
	byKey   map[string]*Path
	byTag   map[uint32]*Path
	nextTag uint32
}

// NewPathStorage returns a PathStorage backed by g.
func NewPathStorage(g *Graph) *PathStorage {
	return &PathStorage{
		graph: g,
		byKey: make(map[string]*Path),
		byTag: make(map[uint32]*Path),
	}
}

// Graph returns the storage's backing graph.
func (ps *PathStorage) Graph() *Graph { return ps.graph }

// PathFromLinks interns seq under cookie, assigning a new tag the first
// time this (sequence, cookie) pair is seen.
func (ps *PathStorage) PathFromLinks(seq LinkSequence, cookie uint64) *Path {
	key := pathKey(seq.Links, cookie)
	if p, ok := ps.byKey[key]; ok {
		return p
	}

	ps.nextTag++
	p := &Path{LinkSequence: seq, Cookie: cookie, Tag: ps.nextTag}
	ps.byKey[key] = p
	ps.byTag[p.Tag] = p
	return p
}

// PathByTag performs the reverse lookup from a forwarding tag to the
// interned path. Returns nil if the tag is unknown.
func (ps *PathStorage) PathByTag(tag uint32) *Path {
	return ps.byTag[tag]
}

// pathSetRecord is the human-readable on-disk form of a set of paths,
// named by their string rendering rather than raw link indices so the
// file stays meaningful across graph reloads.
type pathSetRecord struct {
	Paths []string `yaml:"paths"`
}

// DumpPathSet renders seqs as a YAML document of "[src->dst, ...]" hop
// strings, suitable for regression fixtures and operator inspection.
func DumpPathSet(g *Graph, seqs []LinkSequence) ([]byte, error) {
	rec := pathSetRecord{Paths: make([]string, len(seqs))}
	for i, seq := range seqs {
		rec.Paths[i] = seq.String(g, false)
	}

	out, err := yaml.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal path set: %w", err)
	}
	return out, nil
}

// LoadPathSet parses a YAML document produced by DumpPathSet back into
// link sequences against g.
func LoadPathSet(g *Graph, data []byte) ([]LinkSequence, error) {
	var rec pathSetRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal path set: %w", err)
	}

	out := make([]LinkSequence, len(rec.Paths))
	for i, s := range rec.Paths {
		seq, err := ParseLinkSequence(g, s)
		if err != nil {
			return nil, fmt.Errorf("path set entry %d: %w", i, err)
		}
		out[i] = seq
	}
	return out, nil
}
