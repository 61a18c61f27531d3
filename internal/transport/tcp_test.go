package transport

import (
	"testing"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

type capturingHandler struct {
	pkts []packet.Packet
}

func (c *capturingHandler) HandlePacket(pkt packet.Packet) { c.pkts = append(c.pkts, pkt) }

func TestTCPSourceSendsInitialWindowOnAddData(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	toSink := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, SrcPort: 10, DstPort: 20}
	src := NewTCPSource(nil, "src", five, 1000, 100_000, toSink, clk, eq)

	src.AddData(10_000)

	if len(toSink.pkts) != kInitialCWNDMultiplier {
		t.Fatalf("expected %d initial segments, got %d", kInitialCWNDMultiplier, len(toSink.pkts))
	}
	for i, pkt := range toSink.pkts {
		tcpPkt, ok := pkt.(*packet.TCPPacket)
		if !ok {
			t.Fatalf("expected a TCPPacket at %d", i)
		}
		if tcpPkt.SeqNum != uint64(i*1000+1) {
			t.Fatalf("unexpected seqno at %d: %d", i, tcpPkt.SeqNum)
		}
	}
}

func TestTCPSourceAdvancesWindowOnAck(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	toSink := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, SrcPort: 10, DstPort: 20}
	src := NewTCPSource(nil, "src", five, 1000, 100_000, toSink, clk, eq)

	src.AddData(100_000)
	sentBeforeAck := len(toSink.pkts)

	ack := packet.NewTCPPacket(five.Reverse(), kAckSize, eq.Now(), 1000, 0)
	src.HandlePacket(ack)

	if len(toSink.pkts) <= sentBeforeAck {
		t.Fatalf("expected more segments sent after ack, had %d still %d", sentBeforeAck, len(toSink.pkts))
	}
}

func TestTCPSourceNotifiesSendBufferDrained(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	toSink := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, SrcPort: 10, DstPort: 20}
	src := NewTCPSource(nil, "src", five, 1000, 100_000, toSink, clk, eq)

	drained := false
	src.OnSendBufferDrained(func() { drained = true })

	src.AddData(1000)
	if len(toSink.pkts) != 1 {
		t.Fatalf("expected exactly 1 segment for a single-MSS flow, got %d", len(toSink.pkts))
	}

	ack := packet.NewTCPPacket(five.Reverse(), kAckSize, eq.Now(), 1000, 0)
	src.HandlePacket(ack)

	if !drained {
		t.Fatal("expected send-buffer-drained callback to fire once the flow's single segment is acked")
	}
}

func TestTCPSinkSendsCumulativeAckForInOrderData(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	toSrc := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 2, IPDst: 1, SrcPort: 20, DstPort: 10}
	sink := NewTCPSink(nil, "sink", five, toSrc)

	sink.HandlePacket(packet.NewTCPPacket(five, 1000, eq.Now(), 1, 0))
	sink.HandlePacket(packet.NewTCPPacket(five, 1000, eq.Now(), 1001, 0))

	if len(toSrc.pkts) != 2 {
		t.Fatalf("expected one ack per data segment, got %d", len(toSrc.pkts))
	}
	lastAck, ok := toSrc.pkts[1].(*packet.TCPPacket)
	if !ok || lastAck.SeqNum != 2000 {
		t.Fatalf("expected cumulative ack of 2000, got %+v", toSrc.pkts[1])
	}
}

func TestTCPSinkHandlesOutOfOrderThenFillsGap(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	toSrc := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 2, IPDst: 1, SrcPort: 20, DstPort: 10}
	sink := NewTCPSink(nil, "sink", five, toSrc)

	sink.HandlePacket(packet.NewTCPPacket(five, 1000, eq.Now(), 1, 0))    // in order
	sink.HandlePacket(packet.NewTCPPacket(five, 1000, eq.Now(), 2001, 0)) // out of order
	ackAfterGap, _ := toSrc.pkts[1].(*packet.TCPPacket)
	if ackAfterGap.SeqNum != 1000 {
		t.Fatalf("expected ack to still reflect only the in-order 1000 bytes, got %d", ackAfterGap.SeqNum)
	}

	sink.HandlePacket(packet.NewTCPPacket(five, 1000, eq.Now(), 1001, 0)) // fills the gap
	lastAck, _ := toSrc.pkts[2].(*packet.TCPPacket)
	if lastAck.SeqNum != 3000 {
		t.Fatalf("expected the gap fill to advance the cumulative ack to 3000, got %d", lastAck.SeqNum)
	}
}

func TestTCPRtxTimerRetransmitsAfterTimeout(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	toSink := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, SrcPort: 10, DstPort: 20}
	src := NewTCPSource(nil, "src", five, 1000, 100_000, toSink, clk, eq)

	timeoutFired := false
	src.RetxTimeoutFunc = func(id string, seq uint64) { timeoutFired = true }

	src.AddData(1000)
	timer := NewTCPRtxTimer(nil, "rtx", clk.FromNanos(0), eq)
	timer.RegisterSource(src)

	eq.AdvanceTimeTo(clk.FromSeconds(10))
	timer.HandleEvent()

	if !timeoutFired {
		t.Fatal("expected a retransmission timeout after 10s with no ack")
	}
}

func TestTCPSourceCloseLeavesSendBuffer(t *testing.T) {
	t.Parallel()
	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	toSink := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, SrcPort: 10, DstPort: 20}
	src := NewTCPSource(nil, "src", five, 1000, 100_000, toSink, clk, eq)

	src.AddData(100_000)
	sentBefore := len(toSink.pkts)
	src.Close()

	// The window state is gone but the buffer survives; the next
	// AddData restarts the flow from sequence 1.
	src.AddData(1000)
	if len(toSink.pkts) <= sentBefore {
		t.Fatal("expected the restarted connection to resume sending")
	}
	restarted, ok := toSink.pkts[sentBefore].(*packet.TCPPacket)
	if !ok || restarted.SeqNum != 1 {
		t.Fatalf("expected the restart to begin at sequence 1, got %+v", toSink.pkts[sentBefore])
	}
}

func TestRtxTimersDisabledSkipsScan(t *testing.T) {
	eq := event.NewQueue(nil)
	clk := clock.New(clock.Picosecond)
	toSink := &capturingHandler{}
	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, SrcPort: 10, DstPort: 20}
	src := NewTCPSource(nil, "src", five, 1000, 100_000, toSink, clk, eq)

	timeoutFired := false
	src.RetxTimeoutFunc = func(id string, seq uint64) { timeoutFired = true }
	src.AddData(1000)

	RtxTimersDisabled = true
	defer func() { RtxTimersDisabled = false }()

	timer := NewTCPRtxTimer(nil, "rtx", clk.FromNanos(0), eq)
	timer.RegisterSource(src)
	eq.AdvanceTimeTo(clk.FromSeconds(10))
	timer.HandleEvent()

	if timeoutFired {
		t.Fatal("expected no timeout while rtx timers are globally disabled")
	}
}
