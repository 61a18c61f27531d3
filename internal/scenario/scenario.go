// Package scenario loads a declarative scenario document -- initial
// rule installs plus traffic sources to attach -- and applies it to a
// running simulation, the htsimd counterpart to the teacher's
// declarative session reconciliation (cfg.Sessions in internal/config,
// reconciled by cmd/gobfd/main.go's reconcileSessions). Out of scope
// per spec.md §1: anything beyond the bulk UDP sources and rule
// installs named in spec.md §8's scenarios -- no declarative TCP flows,
// no mid-run reconciliation.
package scenario

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
	"github.com/ngvozdiev/htsim/internal/traffic"
)

// FiveTupleRecord is the on-disk form of a packet.FiveTuple.
type FiveTupleRecord struct {
	IPSrc   uint32 `koanf:"ip_src"`
	IPDst   uint32 `koanf:"ip_dst"`
	IPProto uint8  `koanf:"ip_proto"`
	SrcPort uint16 `koanf:"src_port"`
	DstPort uint16 `koanf:"dst_port"`
}

// ActionRecord is the on-disk form of a matcher.Action.
type ActionRecord struct {
	OutputPort       uint16 `koanf:"output_port"`
	RewriteTag       uint32 `koanf:"rewrite_tag"`
	Weight           uint32 `koanf:"weight"`
	Sample           bool   `koanf:"sample"`
	PreferentialDrop bool   `koanf:"preferential_drop"`
}

// RuleRecord installs one rule on a named device at scenario load time.
type RuleRecord struct {
	Device     string            `koanf:"device"`
	Tag        uint32            `koanf:"tag"`
	InputPort  uint16            `koanf:"input_port"`
	FiveTuples []FiveTupleRecord `koanf:"five_tuples"`
	Actions    []ActionRecord    `koanf:"actions"`
}

// FlowRecord attaches a constant-rate UDP source to a named device,
// arriving on InputPort as if from an external host.
type FlowRecord struct {
	Device          string          `koanf:"device"`
	InputPort       uint16          `koanf:"input_port"`
	Five            FiveTupleRecord `koanf:"five_tuple"`
	PacketSizeBytes int             `koanf:"packet_size_bytes"`
	GapMicros       uint64          `koanf:"gap_micros"`
	NumPackets      int             `koanf:"num_packets"`
}

// Document is a full scenario: rules to install, then flows to attach.
type Document struct {
	Rules []RuleRecord `koanf:"rules"`
	Flows []FlowRecord `koanf:"flows"`
}

// Load parses a scenario document at path.
func Load(path string) (*Document, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("scenario: load %s: %w", path, err)
	}

	doc := &Document{}
	if err := k.Unmarshal("", doc); err != nil {
		return nil, fmt.Errorf("scenario: unmarshal %s: %w", path, err)
	}

	return doc, nil
}

func ruleFromRecord(rr RuleRecord) *matcher.Rule {
	tuples := make([]packet.FiveTuple, len(rr.FiveTuples))
	for i, ft := range rr.FiveTuples {
		tuples[i] = packet.FiveTuple{
			IPSrc: ft.IPSrc, IPDst: ft.IPDst, IPProto: ft.IPProto,
			SrcPort: ft.SrcPort, DstPort: ft.DstPort,
		}
	}

	rule := matcher.NewRule(matcher.RuleKey{Tag: rr.Tag, InputPort: rr.InputPort, FiveTuples: tuples})
	for _, ar := range rr.Actions {
		rule.AddAction(&matcher.Action{
			OutputPort: ar.OutputPort, RewriteTag: ar.RewriteTag,
			Weight: ar.Weight, Sample: ar.Sample, PreferentialDrop: ar.PreferentialDrop,
		})
	}
	return rule
}

// deviceInjector adapts a Device/Port pair into a datapath.PacketHandler
// so a traffic.BulkPacketGenerator can feed it packets as if they
// arrived from outside the simulated network.
type deviceInjector struct {
	dev *datapath.Device
	in  *datapath.Port
}

func (i deviceInjector) HandlePacket(pkt packet.Packet) {
	i.dev.HandlePacketFromPort(i.in, pkt)
}

// boundedSource wraps a traffic.BulkPacketSource, forcing it to
// exhaust after n packets -- ConstantPacketSource and ExpPacketSource
// are otherwise unending, but a scenario flow names a fixed packet
// count (spec.md §8, "generate 100 packets").
type boundedSource struct {
	inner     traffic.BulkPacketSource
	remaining int
}

func (s *boundedSource) NextPacket() packet.Packet {
	if s.remaining <= 0 {
		return nil
	}
	s.remaining--
	return s.inner.NextPacket()
}

// DeviceLookup resolves a device by the name it was registered under
// (mirroring internal/adminapi.Server.RegisterDevice, so both packages
// address devices the same way).
type DeviceLookup func(name string) (*datapath.Device, bool)

// Apply installs doc's rules and attaches its flows. clk converts each
// flow's gap into the simulation's Time unit; eq is the event queue the
// resulting generators are scheduled on. Returns the created generators
// so the caller can keep them alive for the run's duration.
func Apply(logger *slog.Logger, doc *Document, lookup DeviceLookup, eq *event.Queue, clk clock.Clock) ([]*traffic.BulkPacketGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, rr := range doc.Rules {
		dev, ok := lookup(rr.Device)
		if !ok {
			return nil, fmt.Errorf("scenario: rule for unknown device %q", rr.Device)
		}
		rule := ruleFromRecord(rr)
		dev.Matcher().AddRule(rule)
		logger.Info("scenario: installed rule", "device", rr.Device, "key", rule.Key.String())
	}

	generators := make([]*traffic.BulkPacketGenerator, 0, len(doc.Flows))
	for i, fr := range doc.Flows {
		dev, ok := lookup(fr.Device)
		if !ok {
			return nil, fmt.Errorf("scenario: flow for unknown device %q", fr.Device)
		}

		five := packet.FiveTuple{
			IPSrc: fr.Five.IPSrc, IPDst: fr.Five.IPDst, IPProto: fr.Five.IPProto,
			SrcPort: fr.Five.SrcPort, DstPort: fr.Five.DstPort,
		}
		gap := clk.FromNanos(time.Duration(fr.GapMicros) * time.Microsecond)
		inner := traffic.NewConstantPacketSource(five, gap, fr.PacketSizeBytes)

		var src traffic.BulkPacketSource = inner
		if fr.NumPackets > 0 {
			src = &boundedSource{inner: inner, remaining: fr.NumPackets}
		}

		in := dev.Port(fr.InputPort)
		if in == nil {
			in = dev.AddPort(fr.InputPort)
		}

		gen := traffic.NewBulkPacketGenerator(logger, fmt.Sprintf("scenario-flow-%d", i),
			[]traffic.BulkPacketSource{src}, deviceInjector{dev: dev, in: in}, eq)
		generators = append(generators, gen)
	}

	return generators, nil
}
