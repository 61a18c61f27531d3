package simmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
	"github.com/ngvozdiev/htsim/internal/simmetrics"
	"github.com/ngvozdiev/htsim/internal/transport"
)

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(label).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestCollectorRefreshDeviceCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := simmetrics.NewCollector(reg)

	m := matcher.New(nil, "m")
	dev := datapath.NewDevice(nil, "A", 1, m)
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, IPProto: 17, SrcPort: 100, DstPort: 200}
	pkt := packet.NewUDPPacket(five, 100, clock.Time(0))

	in := dev.AddPort(1)
	dev.HandlePacketFromPort(in, pkt)

	c.WatchDevice("A", dev)
	c.Refresh()

	if got := gaugeValue(t, c.DevicePacketsSeen, "A"); got != 1 {
		t.Errorf("DevicePacketsSeen = %v, want 1", got)
	}
	if got := gaugeValue(t, c.DevicePacketsFailedToMatch, "A"); got != 1 {
		t.Errorf("DevicePacketsFailedToMatch = %v, want 1", got)
	}
	if got := gaugeValue(t, c.DeviceNumRules, "A"); got != 0 {
		t.Errorf("DeviceNumRules = %v, want 0", got)
	}
}

type discardHandler struct{}

func (discardHandler) HandlePacket(packet.Packet) {}

func TestCollectorRefreshQueueCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := simmetrics.NewCollector(reg)

	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	q := datapath.NewFIFOQueue(nil, eq, clk, "q0", 1_000_000, 150_000, discardHandler{})

	c.WatchQueue("q0", q)
	c.Refresh()

	if got := gaugeValue(t, c.QueueSizeBytes, "q0"); got != 0 {
		t.Errorf("QueueSizeBytes = %v, want 0", got)
	}
	if got := gaugeValue(t, c.QueueDropped, "q0"); got != 0 {
		t.Errorf("QueueDropped = %v, want 0", got)
	}
}

func TestCollectorWatchTCPSourceNoPanicOnEmptySnapshot(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := simmetrics.NewCollector(reg)

	// No sources watched: Refresh must be a no-op, never touching the
	// registry's gauges for labels that were never observed.
	c.Refresh()
}

func TestCollectorRefreshFlowCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := simmetrics.NewCollector(reg)

	eq := event.NewQueue(nil)
	five := packet.FiveTuple{IPSrc: 2, IPDst: 1}
	sink := transport.NewUDPSink(nil, "udpsink", five, eq)
	sink.HandlePacket(packet.NewUDPPacket(five, 128, 0))

	c.WatchFlow("udpsink", sink)
	c.Refresh()

	if got := gaugeValue(t, c.FlowPktsRx, "udpsink"); got != 1 {
		t.Errorf("FlowPktsRx = %v, want 1", got)
	}
	if got := gaugeValue(t, c.FlowBytesRx, "udpsink"); got != 128 {
		t.Errorf("FlowBytesRx = %v, want 128", got)
	}
}
