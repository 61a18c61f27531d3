package datapath

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// Connection is the narrow interface a transport-layer flow endpoint
// (a TCP or UDP source/sink) must satisfy to be registered in a
// Device's connection table. It is defined here, not in the transport
// package, so that datapath never imports transport: transport imports
// datapath and registers its concrete types through RegisterConnection
// instead. Grounded on original_source/src/htsim/packet.h's Connection
// base class.
type Connection interface {
	HandlePacket(pkt packet.Packet)
}

// ControlPlane handles SSCP control messages (rule install/update and
// stats request/reply) that arrive at a Device on any port other than
// its loopback port, whatever their destination address. It is
// implemented by internal/adminapi and injected via
// Device.SetControlPlane, again to avoid an import cycle.
type ControlPlane interface {
	HandleControlMessage(dev *Device, msg *packet.ControlMessage)
}

// SinkFactory builds a Connection terminating the flow a first packet
// with no registered connection belongs to. Wired in by the transport
// layer (see transport.SinkFactoryFor) so a device can grow UDP/TCP
// sinks on demand without datapath importing transport.
type SinkFactory func(first packet.Packet) Connection

// Severity classifies an error a Device encountered while forwarding a
// packet. Fatal conditions stop the simulation (a misconfigured
// topology or an invariant violation); Warning conditions are logged
// and the offending packet is dropped.
type Severity int

const (
	// SeverityWarning is logged and recovered from.
	SeverityWarning Severity = iota
	// SeverityFatal terminates the process via the device's FatalFunc.
	SeverityFatal
)

// DeviceStats are the packet/byte counters exposed at the metrics
// boundary for a device (spec.md section 6, "device counters").
type DeviceStats struct {
	PacketsSeen          uint64
	BytesSeen            uint64
	PacketsForLocalhost  uint64
	BytesForLocalhost    uint64
	PacketsFailedToMatch uint64
	BytesFailedToMatch   uint64
	PacketsTTLExpired    uint64
	BytesTTLExpired      uint64
	RouteUpdatesSeen     uint64
}

// Device is a forwarding node: it binds a Matcher to a table of Ports
// and a per-five-tuple Connection table, and implements the
// match-rewrite-forward pipeline every inbound packet goes through.
// Grounded on original_source/src/htsim/network.{h,cc} (Device /
// RoutingDevice).
type Device struct {
	id      string
	address uint32
	logger  *slog.Logger

	matcher *matcher.Matcher
	ports   map[uint16]*Port

	connections  map[packet.FiveTuple]Connection
	controlPlane ControlPlane
	sinkFactory  SinkFactory
	usedSrcPorts map[uint16]bool

	internalObserver PacketObserver
	externalObserver PacketObserver
	sampleHandler    PacketHandler
	sampleEvery      uint64
	sampleCounter    uint64

	dieOnFailedMatch bool
	fatalFunc        func(err error)

	stats DeviceStats
}

// NewDevice returns a Device identified by id, forwarding according to
// m, answering to ip address addr.
func NewDevice(logger *slog.Logger, id string, addr uint32, m *matcher.Matcher) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		id:           id,
		address:      addr,
		logger:       logger,
		matcher:      m,
		ports:        make(map[uint16]*Port),
		connections:  make(map[packet.FiveTuple]Connection),
		usedSrcPorts: make(map[uint16]bool),
		sampleEvery:  0,
		fatalFunc: func(err error) {
			logger.Error("fatal datapath error", "device", id, "err", err)
			os.Exit(1)
		},
	}
}

// ID returns the device's name.
func (d *Device) ID() string { return d.id }

// Address returns the device's IP address as used in five-tuples.
func (d *Device) Address() uint32 { return d.address }

// Stats returns a snapshot of the device's packet/byte counters.
func (d *Device) Stats() DeviceStats { return d.stats }

// Matcher returns the device's forwarding table.
func (d *Device) Matcher() *matcher.Matcher { return d.matcher }

// SetDieOnFailedMatch controls whether a packet that fails to match
// any rule is a Fatal condition (true) or a Warning one (the default).
func (d *Device) SetDieOnFailedMatch(die bool) { d.dieOnFailedMatch = die }

// SetFatalFunc overrides the function called on a Fatal error. Tests
// use this to avoid the default os.Exit(1).
func (d *Device) SetFatalFunc(f func(err error)) { d.fatalFunc = f }

// SetControlPlane wires in the handler for SSCP control messages
// arriving at this device from the network.
func (d *Device) SetControlPlane(cp ControlPlane) { d.controlPlane = cp }

// SetSinkFactory wires in the factory used to grow a sink connection
// the first time a packet arrives for a five-tuple with no registered
// connection.
func (d *Device) SetSinkFactory(f SinkFactory) { d.sinkFactory = f }

// SetObservers wires the internal/external packet observers notified
// whenever a packet crosses the internal/external port boundary.
func (d *Device) SetObservers(internal, external PacketObserver) {
	d.internalObserver = internal
	d.externalObserver = external
}

// SetSampling configures every Nth packet matched by a Sample-flagged
// action to be copied to handler. every == 0 disables sampling.
func (d *Device) SetSampling(handler PacketHandler, every uint64) {
	d.sampleHandler = handler
	d.sampleEvery = every
}

// AddPort creates and returns a new port with the given number. It is
// a programmer error to add the same port number twice.
func (d *Device) AddPort(number uint16) *Port {
	if _, ok := d.ports[number]; ok {
		panic(fmt.Sprintf("datapath: device %s: port %d added twice", d.id, number))
	}
	p := &Port{number: number, device: d}
	d.ports[number] = p
	return p
}

// Port returns the port with the given number, or nil.
func (d *Device) Port(number uint16) *Port { return d.ports[number] }

// LoopbackPortHandle returns (creating it if necessary) this device's
// loopback port, the port transport-layer sources write to so that
// locally-generated traffic re-enters the forwarding pipeline just
// like packets arriving from the network.
func (d *Device) LoopbackPortHandle() *Port {
	if p, ok := d.ports[LoopbackPort]; ok {
		return p
	}
	p := &Port{number: LoopbackPort, device: d, internal: true}
	d.ports[LoopbackPort] = p
	return p
}

// RegisterConnection installs conn to receive packets whose five-tuple
// (reversed, since the tuple that reaches the connection is the
// traffic flowing back at it) matches tuple.
func (d *Device) RegisterConnection(tuple packet.FiveTuple, conn Connection) {
	d.connections[tuple] = conn
	if tuple.IPSrc == d.address && tuple.SrcPort != 0 {
		d.usedSrcPorts[tuple.SrcPort] = true
	}
}

// AllocateSourcePort hands out the lowest free source access-layer port
// in [1, 65535] for a connection originating at this device. Running
// out of ports is a Fatal condition.
func (d *Device) AllocateSourcePort() uint16 {
	for p := 1; p <= 65535; p++ {
		port := uint16(p)
		if !d.usedSrcPorts[port] {
			d.usedSrcPorts[port] = true
			return port
		}
	}
	d.fatal(fmt.Errorf("datapath: device %s: out of source ports", d.id))
	return 0
}

// UnregisterConnection removes a previously-registered connection.
func (d *Device) UnregisterConnection(tuple packet.FiveTuple) {
	delete(d.connections, tuple)
}

// HandlePacketFromPort is the forwarding pipeline entry point, called
// by a Port when a packet arrives at it. Grounded on
// original_source/src/htsim/network.cc's Device::receivePacket.
func (d *Device) HandlePacketFromPort(in *Port, pkt packet.Packet) {
	sizeBytes := uint64(pkt.SizeBytes())
	d.stats.PacketsSeen++
	d.stats.BytesSeen += sizeBytes

	// A zero-size packet whose protocol is an SSCP type is a control
	// message and is applied at whatever device it lands on, before any
	// address check. Control messages arriving on the loopback port are
	// locally originated replies heading out; those fall through to the
	// forwarding pipeline instead.
	if msg, ok := pkt.(*packet.ControlMessage); ok && pkt.SizeBytes() == 0 && in.Number() != LoopbackPort {
		if msg.MsgType == packet.SSCPAddOrUpdate {
			d.stats.RouteUpdatesSeen++
		}
		if d.controlPlane != nil {
			d.controlPlane.HandleControlMessage(d, msg)
			return
		}
		d.logger.Warn("control message with no control plane wired in, dropping", "device", d.id)
		return
	}

	five := pkt.FiveTuple()
	if five.IPDst == d.address {
		d.stats.PacketsForLocalhost++
		d.stats.BytesForLocalhost += sizeBytes
		d.deliverLocal(pkt)
		return
	}

	action := d.matcher.MatchOrNull(pkt, in.Number())
	if action == nil {
		d.stats.PacketsFailedToMatch++
		d.stats.BytesFailedToMatch += sizeBytes
		if d.dieOnFailedMatch {
			d.fatal(fmt.Errorf("datapath: device %s: no rule matched packet from port %d", d.id, in.Number()))
		} else {
			d.logger.Warn("no rule matched, dropping", "device", d.id, "port", in.Number())
		}
		return
	}

	if action.RewriteTag != matcher.KeepTag {
		pkt.SetTag(action.RewriteTag)
	}
	if action.PreferentialDrop && !pkt.PreferentialDrop() {
		pkt.SetPreferentialDrop()
	}

	if !pkt.DecrementTTL() {
		d.stats.PacketsTTLExpired++
		d.stats.BytesTTLExpired += sizeBytes
		d.fatal(fmt.Errorf("datapath: device %s: packet TTL expired in transit", d.id))
		return
	}

	if action.Sample && d.sampleHandler != nil && d.sampleEvery > 0 {
		d.sampleCounter++
		if d.sampleCounter%d.sampleEvery == 0 {
			d.sampleHandler.HandlePacket(pkt)
		}
	}

	out := d.ports[action.OutputPort]
	if out == nil {
		d.fatal(fmt.Errorf("datapath: device %s: rule points at unknown port %d", d.id, action.OutputPort))
		return
	}

	if in.Internal() != out.Internal() {
		if out.Internal() && d.internalObserver != nil {
			d.internalObserver.ObservePacket(pkt)
		}
		if !out.Internal() && d.externalObserver != nil {
			d.externalObserver.ObservePacket(pkt)
		}
	}

	out.SendPacketOut(pkt)
}

// deliverLocal hands a packet addressed to this device to whichever
// connection owns its reverse five-tuple, growing a sink via the wired
// SinkFactory on the flow's first packet.
func (d *Device) deliverLocal(pkt packet.Packet) {
	rev := pkt.FiveTuple().Reverse()
	conn, ok := d.connections[rev]
	if !ok && d.sinkFactory != nil {
		if conn = d.sinkFactory(pkt); conn != nil {
			d.RegisterConnection(rev, conn)
			ok = true
		}
	}
	if !ok {
		d.logger.Warn("no connection for inbound packet, dropping", "device", d.id, "five_tuple", pkt.FiveTuple())
		return
	}
	conn.HandlePacket(pkt)
}

// InjectLocal feeds a locally originated packet into the forwarding
// pipeline through the loopback port, the same entry point a
// transport-layer source writes to.
func (d *Device) InjectLocal(pkt packet.Packet) {
	d.HandlePacketFromPort(d.LoopbackPortHandle(), pkt)
}

func (d *Device) fatal(err error) {
	d.fatalFunc(err)
}
