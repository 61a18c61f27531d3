package scenario_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
	"github.com/ngvozdiev/htsim/internal/scenario"
)

const sampleDoc = `
rules:
  - device: A
    input_port: 1
    five_tuples:
      - {ip_dst: 2, ip_proto: 17}
    actions:
      - {output_port: 2, weight: 1}
flows:
  - device: A
    input_port: 1
    five_tuple: {ip_src: 1, ip_dst: 2, ip_proto: 17, dst_port: 100}
    packet_size_bytes: 100
    gap_micros: 100000
    num_packets: 100
`

type discardHandler struct{}

func (discardHandler) HandlePacket(packet.Packet) {}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestApplyInstallsRuleAndAttachesFlow(t *testing.T) {
	t.Parallel()

	path := writeScenario(t, sampleDoc)
	doc, err := scenario.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	m := matcher.New(nil, "A")
	dev := datapath.NewDevice(nil, "A", 1, m)
	dev.AddPort(2).Connect(discardHandler{})
	devices := map[string]*datapath.Device{"A": dev}
	lookup := func(name string) (*datapath.Device, bool) {
		d, ok := devices[name]
		return d, ok
	}

	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)

	gens, err := scenario.Apply(nil, doc, lookup, eq, clk)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(gens) != 1 {
		t.Fatalf("len(generators) = %d, want 1", len(gens))
	}
	if got := dev.Matcher().NumRules(); got != 1 {
		t.Fatalf("NumRules() = %d, want 1", got)
	}

	eq.StopIn(clk.FromNanos(11 * time.Second)) // well past 100*100ms.
	eq.Run()

	st := dev.Stats()
	if st.PacketsSeen != 100 {
		t.Errorf("PacketsSeen = %d, want 100", st.PacketsSeen)
	}
	if st.BytesSeen != 10_000 {
		t.Errorf("BytesSeen = %d, want 10000", st.BytesSeen)
	}
}

func TestApplyUnknownDeviceErrors(t *testing.T) {
	t.Parallel()

	doc := &scenario.Document{
		Rules: []scenario.RuleRecord{{Device: "nope"}},
	}
	lookup := func(string) (*datapath.Device, bool) { return nil, false }
	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)

	if _, err := scenario.Apply(nil, doc, lookup, eq, clk); err == nil {
		t.Fatal("Apply() with unknown device returned nil error")
	}
}
