// Package topology loads a network topology document into a graph.Graph.
// Format auto-detection, BRITE-style random topology synthesis, and the
// other loader machinery a general-purpose topology generator would ship
// are out of scope; only the documented structured record is parsed here.
package topology

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ngvozdiev/htsim/internal/graph"
)

// LinkRecord is one entry of a topology document's links list.
type LinkRecord struct {
	Src          string  `koanf:"src"`
	Dst          string  `koanf:"dst"`
	SrcPort      uint16  `koanf:"src_port"`
	DstPort      uint16  `koanf:"dst_port"`
	BandwidthBPS uint64  `koanf:"bandwidth_bps"`
	DelaySec     float64 `koanf:"delay_sec"`
}

// RegionRecord names a set of nodes.
type RegionRecord struct {
	ID    string   `koanf:"id"`
	Nodes []string `koanf:"nodes"`
}

// ClusterRecord names a set of nodes for informational purposes only; it
// carries no forwarding semantics.
type ClusterRecord struct {
	Name  string   `koanf:"name"`
	Nodes []string `koanf:"nodes"`
}

// Document is the structured topology record parsed from topology.yaml.
type Document struct {
	Links    []LinkRecord    `koanf:"links"`
	Regions  []RegionRecord  `koanf:"regions"`
	Clusters []ClusterRecord `koanf:"clusters"`
}

// Load parses a topology.yaml document at path.
func Load(path string) (*Document, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("topology: load %s: %w", path, err)
	}

	doc := &Document{}
	if err := k.Unmarshal("", doc); err != nil {
		return nil, fmt.Errorf("topology: unmarshal %s: %w", path, err)
	}

	return doc, nil
}

// BuildGraph interns every link, region, and cluster in doc into a fresh
// graph.Graph, validating bandwidth/delay > 0 and src != dst on every
// link. Each link's delay_sec field (a wall-clock float) becomes the
// graph.Link's time.Duration; conversion to a simulation clock's Time
// unit happens later, when the link is wired into a datapath.Network.
func BuildGraph(doc *Document) (*graph.Graph, error) {
	g := graph.New()

	for i, lr := range doc.Links {
		if lr.Src == "" || lr.Dst == "" {
			return nil, fmt.Errorf("topology: link[%d]: src and dst are required", i)
		}
		if lr.BandwidthBPS == 0 {
			return nil, fmt.Errorf("topology: link[%d] (%s->%s): %w", i, lr.Src, lr.Dst, graph.ErrZeroBandwidthOrDelay)
		}

		delay := time.Duration(lr.DelaySec * float64(time.Second))
		if delay <= 0 {
			return nil, fmt.Errorf("topology: link[%d] (%s->%s): %w", i, lr.Src, lr.Dst, graph.ErrZeroBandwidthOrDelay)
		}

		src := g.NodeOrCreate(lr.Src)
		dst := g.NodeOrCreate(lr.Dst)
		if _, err := g.AddLink(src, dst, lr.SrcPort, lr.DstPort, lr.BandwidthBPS, delay); err != nil {
			return nil, fmt.Errorf("topology: link[%d] (%s->%s): %w", i, lr.Src, lr.Dst, err)
		}
	}

	for _, rr := range doc.Regions {
		nodes := graph.NewNodeSet()
		for _, name := range rr.Nodes {
			nodes.Insert(g.NodeOrCreate(name))
		}
		g.AddRegion(rr.ID, nodes)
	}

	// Clusters are informational only: they are not attached to the
	// graph as regions are, since nothing in the
	// simulation core reads them, but referencing their node names here
	// still interns the nodes so a cluster naming a node no link touches
	// does not silently disappear from NumNodes().
	for _, cr := range doc.Clusters {
		for _, name := range cr.Nodes {
			g.NodeOrCreate(name)
		}
	}

	return g, nil
}

// LoadGraph loads the topology document at path and builds a graph.Graph
// from it in one step.
func LoadGraph(path string) (*graph.Graph, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return BuildGraph(doc)
}
