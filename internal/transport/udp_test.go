package transport

import (
	"testing"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
)

func TestUDPSourceEmitsOnePacketPerAddData(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	out := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, SrcPort: 10, DstPort: 20}
	src := NewUDPSource("udpsrc", five, out, eq)

	src.AddData(512)
	src.AddData(512)

	if len(out.pkts) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(out.pkts))
	}
	if out.pkts[0].SizeBytes() != 512 {
		t.Fatalf("unexpected packet size: %d", out.pkts[0].SizeBytes())
	}
}

func TestUDPSourcePanicsOnInboundPacket(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: UDP sources never receive packets")
		}
	}()
	eq := event.NewQueue(nil)
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2}
	src := NewUDPSource("udpsrc", five, &capturingHandler{}, eq)
	src.HandlePacket(packet.NewUDPPacket(five, 10, 0))
}

func TestUDPSinkCountsReceivedPacketsAndInvokesCallback(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	five := packet.FiveTuple{IPSrc: 2, IPDst: 1}
	sink := NewUDPSink(nil, "udpsink", five, eq)

	var seen int
	sink.OnPacket = func(pkt packet.Packet, now clock.Time) { seen++ }

	sink.HandlePacket(packet.NewUDPPacket(five, 128, 0))
	sink.HandlePacket(packet.NewUDPPacket(five, 128, 0))

	if seen != 2 {
		t.Fatalf("expected OnPacket called twice, got %d", seen)
	}
	if s := sink.Stats(); s.PktsRx != 2 || s.BytesRx != 256 {
		t.Fatalf("unexpected sink stats: %+v", s)
	}
}

func TestNewLocalUDPSourceAllocatesLowestFreePort(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	m := matcher.New(nil, "dev")
	dev := datapath.NewDevice(nil, "dev", 7, m)
	dev.LoopbackPortHandle().Connect(&capturingHandler{})

	a := NewLocalUDPSource(dev, "a", 9, 100, eq)
	b := NewLocalUDPSource(dev, "b", 9, 100, eq)

	if a.FiveTuple().SrcPort != 1 || b.FiveTuple().SrcPort != 2 {
		t.Fatalf("expected ports 1 and 2, got %d and %d", a.FiveTuple().SrcPort, b.FiveTuple().SrcPort)
	}
	if a.FiveTuple().IPSrc != 7 {
		t.Fatalf("expected source address 7, got %d", a.FiveTuple().IPSrc)
	}
}

func TestSinkFactoryForDiscriminatesByPacketType(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	m := matcher.New(nil, "dev")
	dev := datapath.NewDevice(nil, "dev", 7, m)

	factory := SinkFactoryFor(nil, dev, eq)

	tcpFive := packet.FiveTuple{IPSrc: 1, IPDst: 7, IPProto: packet.ProtoTCP, SrcPort: 5, DstPort: 80}
	if _, ok := factory(packet.NewTCPPacket(tcpFive, 100, 0, 1, 0)).(*TCPSink); !ok {
		t.Fatal("expected a TCPSink for a TCP first packet")
	}
	udpFive := packet.FiveTuple{IPSrc: 1, IPDst: 7, IPProto: packet.ProtoUDP, SrcPort: 5, DstPort: 80}
	if _, ok := factory(packet.NewUDPPacket(udpFive, 100, 0)).(*UDPSink); !ok {
		t.Fatal("expected a UDPSink for a UDP first packet")
	}
}
