package transport_test

import (
	"testing"
	"time"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
	"github.com/ngvozdiev/htsim/internal/transport"
)

// Builds two devices connected by a link in each direction, with a
// wildcard route to the peer's address installed on each, and runs one
// 1500-byte TCP transfer from A to B. Both devices should observe
// exactly two packets totalling 1540 bytes: the data segment one way
// and the 40-byte ack back.
func TestSingleTCPPacketAcrossTwoDevices(t *testing.T) {
	t.Parallel()

	g := graph.New()
	a := g.NodeOrCreate("A")
	b := g.NodeOrCreate("B")
	if _, err := g.AddLink(a, b, 1, 1, 10_000_000, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddLink(b, a, 2, 2, 10_000_000, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	netw := datapath.NewNetwork(nil, clk, eq, g, 1_000_000)

	toB := matcher.NewRule(matcher.RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 2}}})
	toB.AddAction(&matcher.Action{OutputPort: 1, RewriteTag: matcher.KeepTag, Weight: 1})
	matcherA := matcher.New(nil, "A")
	matcherA.AddRule(toB)

	toA := matcher.NewRule(matcher.RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 1}}})
	toA.AddAction(&matcher.Action{OutputPort: 2, RewriteTag: matcher.KeepTag, Weight: 1})
	matcherB := matcher.New(nil, "B")
	matcherB.AddRule(toA)

	devA := netw.NewDeviceWithMatcher(a, 1, matcherA)
	devB := netw.NewDeviceWithMatcher(b, 2, matcherB)
	devB.SetSinkFactory(transport.SinkFactoryFor(nil, devB, eq))

	if err := netw.WireAll(); err != nil {
		t.Fatalf("WireAll: %v", err)
	}

	src := transport.NewLocalTCPSource(nil, devA, "flow", 2, 80, 1500, 1_000_000, clk, eq)
	src.AddData(1500)

	eq.StopIn(clk.FromNanos(10 * time.Second))
	eq.Run()

	for name, dev := range map[string]*datapath.Device{"A": devA, "B": devB} {
		st := dev.Stats()
		if st.PacketsSeen != 2 || st.BytesSeen != 1540 {
			t.Errorf("device %s: seen %d pkts / %d bytes, want 2 / 1540", name, st.PacketsSeen, st.BytesSeen)
		}
	}

	if st := src.Stats(); st.PktsRx != 1 || st.BytesRx != 40 {
		t.Errorf("source: rx %d pkts / %d bytes, want the single 40-byte ack", st.PktsRx, st.BytesRx)
	}
}
