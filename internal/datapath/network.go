package datapath

import (
	"fmt"
	"log/slog"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/matcher"
)

// LinkPlumbing is the per-link queue+pipe pair a Network wires between
// two device ports: a bandwidth-limited queue feeding a fixed-delay
// pipe, the same two-stage model original_source/src/htsim/queue.cc
// composes for every link.
type LinkPlumbing struct {
	Queue *Queue
	Pipe  *Pipe
}

// Network binds a graph.Graph's topology to a live set of Devices,
// Queues and Pipes: for every link it builds a Queue draining into a
// Pipe that delivers to the destination device's port. Grounded on
// original_source/src/htsim/network.{h,cc} (Network).
type Network struct {
	logger *slog.Logger
	clock  clock.Clock
	eq     *event.Queue
	g      *graph.Graph

	devices map[graph.NodeIndex]*Device
	links   map[graph.LinkIndex]*LinkPlumbing

	queueSizeBytes uint64
}

// NewNetwork returns an empty Network over g. queueSizeBytes is the
// capacity applied to every link's queue.
func NewNetwork(logger *slog.Logger, clk clock.Clock, eq *event.Queue, g *graph.Graph, queueSizeBytes uint64) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		logger:         logger,
		clock:          clk,
		eq:             eq,
		g:              g,
		devices:        make(map[graph.NodeIndex]*Device),
		links:          make(map[graph.LinkIndex]*LinkPlumbing),
		queueSizeBytes: queueSizeBytes,
	}
}

// AddDevice registers a Device for node idx. It is the caller's
// responsibility to have created idx via the Network's graph.
func (n *Network) AddDevice(idx graph.NodeIndex, dev *Device) {
	n.devices[idx] = dev
}

// Device returns the device registered for idx, or nil.
func (n *Network) Device(idx graph.NodeIndex) *Device { return n.devices[idx] }

// NewDeviceWithMatcher is a convenience that creates a Device named
// after the graph node at idx, using addr as its IP and m as its
// forwarding table, registers it, and returns it.
func (n *Network) NewDeviceWithMatcher(idx graph.NodeIndex, addr uint32, m *matcher.Matcher) *Device {
	dev := NewDevice(n.logger, n.g.NodeName(idx), addr, m)
	n.AddDevice(idx, dev)
	return dev
}

// WireLink builds the Queue+Pipe plumbing for a link already present
// in the graph and connects it between the two endpoint devices' ports
// (created on demand). Both endpoint devices must already be
// registered via AddDevice.
func (n *Network) WireLink(idx graph.LinkIndex) (*LinkPlumbing, error) {
	link := n.g.GetLink(idx)

	src := n.devices[link.Src]
	dst := n.devices[link.Dst]
	if src == nil || dst == nil {
		return nil, fmt.Errorf("datapath: link %d references an unregistered device", idx)
	}

	srcPort := portOrAdd(src, link.SrcPort)
	dstPort := portOrAdd(dst, link.DstPort)

	id := fmt.Sprintf("%s:%d->%s:%d", src.ID(), link.SrcPort, dst.ID(), link.DstPort)
	pipe := NewPipe(n.logger, n.eq, id+"/pipe", n.clock.FromNanos(link.Delay), dstPort)
	queue := NewFIFOQueue(n.logger, n.eq, n.clock, id+"/queue", link.BandwidthBPS, n.queueSizeBytes, pipe)

	srcPort.Connect(queue)

	plumbing := &LinkPlumbing{Queue: queue, Pipe: pipe}
	n.links[idx] = plumbing
	return plumbing, nil
}

// WireAll wires every link currently in the graph. It is meant to be
// called once, after every device referenced by the graph has been
// registered.
func (n *Network) WireAll() error {
	for idx := range n.g.AllLinks() {
		if _, err := n.WireLink(idx); err != nil {
			return err
		}
	}
	return nil
}

// LinkPlumbingFor returns the queue+pipe pair wired for idx, or nil if
// it has not been wired yet.
func (n *Network) LinkPlumbingFor(idx graph.LinkIndex) *LinkPlumbing { return n.links[idx] }

func portOrAdd(dev *Device, number uint16) *Port {
	if p := dev.Port(number); p != nil {
		return p
	}
	return dev.AddPort(number)
}
