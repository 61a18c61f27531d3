package transport

import (
	"log/slog"
	"time"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/packet"
)

// kInitialCWNDMultiplier is how many MSS-sized segments the congestion
// window opens to the first time data is queued.
const kInitialCWNDMultiplier = 4

// kAckSize is the fixed size, in bytes, of every ACK the sink sends.
const kAckSize = 40

// TCPSource drives a single TCP flow: it buffers data handed to it via
// AddData, sends as many MSS-sized segments as the congestion window
// allows, and runs a Reno-style congestion-avoidance/fast-recovery
// loop off the ACKs it receives. Grounded on
// original_source/src/htsim/tcp.cc's TCPSource.
type TCPSource struct {
	base

	logger  *slog.Logger
	clk     clock.Clock
	eq      *event.Queue
	mss     uint16
	maxCwnd uint32

	lastSentTime         clock.Time
	firstSentTime        clock.Time
	highestSeqnoSent     uint64
	highestSeqnoSentReal uint64
	cwnd                 uint32
	lastAcked            uint64
	dupAcks              uint16
	ssthresh             uint32

	rtt, mdev      int64
	rttAvg, rttCum int64
	sawtooth       int
	rto            uint64

	recoverQ       uint64
	inFastRecovery bool

	sendBuffer uint64
	completed  bool

	// CompletionFunc, if set, is called with the flow's completion time
	// (now - time the first byte was sent) once the send buffer has
	// fully drained. Stands in for the original's completion-time
	// metric handle.
	CompletionFunc func(id string, completion clock.Delay)

	// FastRetxFunc and RetxTimeoutFunc, if set, are called with the
	// sequence number retransmitted, standing in for the original's
	// per-event metric counters.
	FastRetxFunc    func(id string, seq uint64)
	RetxTimeoutFunc func(id string, seq uint64)
}

// NewTCPSource returns a TCPSource for five, writing segments up to mss
// bytes and never growing its window past maxcwnd bytes, sending
// through out (normally the originating device's loopback port).
func NewTCPSource(logger *slog.Logger, id string, five packet.FiveTuple, mss uint16, maxcwnd uint32, out datapath.PacketHandler, clk clock.Clock, eq *event.Queue) *TCPSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TCPSource{
		base:    newBase(id, five, out),
		logger:  logger,
		clk:     clk,
		eq:      eq,
		mss:     mss,
		maxCwnd: maxcwnd,
	}
	s.Close()
	return s
}

// TCPSourceStats is a point-in-time snapshot of a TCPSource's congestion
// state, exposed at the metrics boundary (internal/simmetrics).
type TCPSourceStats struct {
	Cwnd           uint32
	Ssthresh       uint32
	DupAcks        uint16
	RTO            uint64
	RTTAvg         int64
	InFastRecovery bool
}

// Snapshot returns the source's current congestion-control state.
func (s *TCPSource) Snapshot() TCPSourceStats {
	return TCPSourceStats{
		Cwnd:           s.cwnd,
		Ssthresh:       s.ssthresh,
		DupAcks:        s.dupAcks,
		RTO:            s.rto,
		RTTAvg:         s.rttAvg,
		InFastRecovery: s.inFastRecovery,
	}
}

// Close resets the source to an idle state: zero congestion window, no
// outstanding sequence state, default RTO. The send buffer is left
// untouched; a subsequent AddData restarts the connection and drains
// whatever is still queued.
func (s *TCPSource) Close() {
	s.lastSentTime = 0
	s.firstSentTime = clock.MaxTime
	s.highestSeqnoSent = 0
	s.highestSeqnoSentReal = 0
	s.cwnd = 0
	s.lastAcked = 0
	s.dupAcks = 0
	s.ssthresh = 0xffffffff
	s.rtt = 0
	s.mdev = 0
	s.rttAvg = 0
	s.rttCum = 0
	s.sawtooth = 0
	s.recoverQ = 0
	s.inFastRecovery = false
	s.completed = false
	s.rto = uint64(s.clk.FromSeconds(1))
}

// AddData queues bytes of new data to send, reopening the congestion
// window (kInitialCWNDMultiplier * mss) if the connection was idle, and
// immediately sends whatever the window allows. The buffer saturates
// rather than wrapping.
func (s *TCPSource) AddData(bytes uint64) {
	if s.cwnd == 0 {
		s.cwnd = kInitialCWNDMultiplier * uint32(s.mss)
	}
	if s.sendBuffer+bytes < s.sendBuffer {
		s.sendBuffer = ^uint64(0)
	} else {
		s.sendBuffer += bytes
	}
	s.completed = false
	s.sendPackets()
}

// HandlePacket implements datapath.Connection: every packet delivered
// to a TCP source is an ACK.
func (s *TCPSource) HandlePacket(pkt packet.Packet) {
	ack, ok := pkt.(*packet.TCPPacket)
	if !ok {
		s.logger.Warn("TCP source received a non-TCP packet, dropping", "id", s.id)
		return
	}
	s.countReceived(pkt)
	s.receiveAck(ack)
}

func (s *TCPSource) receiveAck(ack *packet.TCPPacket) {
	seqno := ack.SeqNum
	timeAckSent := ack.TimeSent()
	if timeAckSent < s.firstSentTime {
		return
	}
	if seqno < s.lastAcked {
		seqno = s.lastAcked
	}

	s.updateRTTEstimate(timeAckSent)

	mss := uint64(s.mss)
	switch {
	case seqno > s.lastAcked:
		s.handleNewAck(seqno, mss)
	case !s.inFastRecovery:
		s.handleDupAck(mss)
	default:
		s.cwnd += uint32(mss)
		if s.cwnd > s.maxCwnd {
			s.cwnd = s.maxCwnd
		}
		s.sendPackets()
	}
}

func (s *TCPSource) updateRTTEstimate(timeAckSent clock.Time) {
	m := int64(s.eq.Now()) - int64(timeAckSent)
	if m != 0 {
		if s.rtt > 0 {
			m -= s.rtt >> 3
			s.rtt += m
			if m < 0 {
				m = -m
				m -= s.mdev >> 2
				if m > 0 {
					m >>= 3
				}
			} else {
				m -= s.mdev >> 2
			}
			s.mdev += m
		} else {
			s.rtt = m << 3
			s.mdev = m << 1
		}
	}

	rto := uint64(s.rtt>>3) + uint64(s.mdev)
	minRTT := uint64(s.clk.FromNanos(200 * time.Millisecond))
	if rto < minRTT {
		rto = minRTT
	}
	if maxRTO := uint64(s.clk.FromNanos(2 * time.Second)); rto > maxRTO {
		rto = maxRTO
	}
	s.rto = rto
}

func (s *TCPSource) handleNewAck(seqno, mss uint64) {
	if !s.inFastRecovery {
		s.lastAcked = seqno
		s.dupAcks = 0
		s.inflateWindow()
		s.sendPackets()
		return
	}

	if seqno >= s.recoverQ {
		flightSize := s.highestSeqnoSent - seqno
		s.cwnd = minU32(s.ssthresh, uint32(flightSize)+uint32(mss))
		s.lastAcked = seqno
		s.dupAcks = 0
		s.inFastRecovery = false
		s.sendPackets()
		return
	}

	newData := seqno - s.lastAcked
	s.lastAcked = seqno
	if newData < uint64(s.cwnd) {
		s.cwnd -= uint32(newData)
	} else {
		s.cwnd = 0
	}
	s.cwnd += uint32(mss)

	s.retransmit()
	s.notifyFastRetx()
	s.sendPackets()
}

func (s *TCPSource) handleDupAck(mss uint64) {
	s.dupAcks++
	if s.dupAcks != 3 {
		s.sendPackets()
		return
	}
	if s.lastAcked < s.recoverQ {
		return
	}

	s.beginRecoverySawtooth()
	s.ssthresh = maxU32(s.cwnd/2, 2*uint32(mss))

	s.retransmit()
	s.notifyFastRetx()

	s.cwnd = s.ssthresh + 3*uint32(mss)
	s.inFastRecovery = true
	s.recoverQ = s.highestSeqnoSent
}

func (s *TCPSource) beginRecoverySawtooth() {
	if s.sawtooth > 0 {
		s.rttAvg = s.rttCum / int64(s.sawtooth)
	} else {
		s.rttAvg = 0
	}
	s.sawtooth = 0
	s.rttCum = 0
}

func (s *TCPSource) inflateWindow() {
	newlyAcked := int64(s.lastAcked+uint64(s.cwnd)) - int64(s.highestSeqnoSent)
	if newlyAcked > int64(s.mss) {
		newlyAcked = int64(s.mss)
	}
	if newlyAcked < 0 {
		return
	}

	if s.cwnd < s.ssthresh {
		increase := minU32(s.ssthresh-s.cwnd, uint32(newlyAcked))
		s.cwnd += increase
		if s.cwnd > s.maxCwnd {
			s.cwnd = s.maxCwnd
		}
		return
	}

	pkts := s.cwnd / uint32(s.mss)
	increase := uint32(newlyAcked) * uint32(s.mss) / s.cwnd
	if increase == 0 {
		increase = 1
	}
	s.cwnd += increase
	if pkts != s.cwnd/uint32(s.mss) {
		s.rttCum += s.rtt
		s.sawtooth++
	}
}

func (s *TCPSource) retransmit() {
	now := s.eq.Now()
	pkt := packet.NewTCPPacket(s.five, int(s.mss), now, s.lastAcked+1, 0)
	s.lastSentTime = now
	s.sendPacket(pkt)
}

func (s *TCPSource) notifyFastRetx() {
	if s.FastRetxFunc != nil {
		s.FastRetxFunc(s.id, s.lastAcked+1)
	}
}

// RtxTimerHook is invoked periodically by a shared TCPRtxTimer to
// detect a retransmission timeout; it is not itself an event.Consumer.
func (s *TCPSource) RtxTimerHook(now clock.Time) {
	if s.highestSeqnoSent == 0 {
		return
	}
	if s.lastAcked >= s.highestSeqnoSentReal {
		s.maybeCompleteFlow(now)
		return
	}
	if uint64(now) <= uint64(s.lastSentTime)+s.rto {
		return
	}

	if s.inFastRecovery {
		flightSize := s.highestSeqnoSent - s.lastAcked
		s.cwnd = minU32(s.ssthresh, uint32(flightSize)+uint32(s.mss))
	}
	s.ssthresh = maxU32(s.cwnd/2, 2*uint32(s.mss))
	s.beginRecoverySawtooth()

	s.cwnd = uint32(s.mss)
	s.inFastRecovery = false
	s.recoverQ = s.highestSeqnoSent
	s.highestSeqnoSent = s.lastAcked + uint64(s.mss)
	s.dupAcks = 0

	s.retransmit()
	if s.RetxTimeoutFunc != nil {
		s.RetxTimeoutFunc(s.id, s.lastAcked+1)
	}
}

func (s *TCPSource) maybeCompleteFlow(now clock.Time) {
	if s.completed {
		return
	}
	s.completed = true
	if s.CompletionFunc != nil && s.firstSentTime != clock.MaxTime {
		s.CompletionFunc(s.id, clock.Delay(uint64(now)-uint64(s.firstSentTime)))
	}
	if cb := s.onDrained; cb != nil {
		s.onDrained = nil
		cb()
	}
}

func (s *TCPSource) sendPackets() {
	if s.highestSeqnoSentReal > 0 && s.lastAcked >= s.highestSeqnoSentReal && s.sendBuffer == 0 {
		s.maybeCompleteFlow(s.eq.Now())
		return
	}

	now := s.eq.Now()
	mss := uint64(s.mss)
	for s.lastAcked+uint64(s.cwnd) >= s.highestSeqnoSent+mss {
		if s.sendBuffer == 0 {
			break
		}
		if s.highestSeqnoSent == 0 {
			s.firstSentTime = now
		}

		toTx := mss
		if s.sendBuffer < toTx {
			toTx = s.sendBuffer
		}
		pkt := packet.NewTCPPacket(s.five, int(toTx), now, s.highestSeqnoSent+1, 0)

		s.sendBuffer -= toTx
		s.highestSeqnoSent += toTx
		s.highestSeqnoSentReal += toTx

		s.lastSentTime = now
		s.sendPacket(pkt)
	}
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// TCPSink receives data segments from a single TCP flow, tracks the
// cumulative ack accounting for out-of-order arrivals, and sends one
// ack per data segment received. Grounded on
// original_source/src/htsim/tcp.cc's TCPSink.
type TCPSink struct {
	base

	logger *slog.Logger

	cumulativeAck   uint64
	received        []uint64
	lastSeenTag     uint32
	haveSeenTag     bool
	tagChangeCount  uint64
	OnTagChange     func(id string, changes uint64)
	OnBytesReceived func(id string, bytes uint64)
}

// NewTCPSink returns a TCPSink for five, sending acks through out.
func NewTCPSink(logger *slog.Logger, id string, five packet.FiveTuple, out datapath.PacketHandler) *TCPSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPSink{base: newBase(id, five, out), logger: logger}
}

func (k *TCPSink) reset() {
	k.cumulativeAck = 0
	k.received = nil
	k.haveSeenTag = false
}

// HandlePacket implements datapath.Connection: every packet delivered
// to a TCP sink is a data segment.
func (k *TCPSink) HandlePacket(pkt packet.Packet) {
	data, ok := pkt.(*packet.TCPPacket)
	if !ok {
		k.logger.Warn("TCP sink received a non-TCP packet, dropping", "id", k.id)
		return
	}
	k.countReceived(pkt)
	k.receiveData(data)
}

func (k *TCPSink) receiveData(pkt *packet.TCPPacket) {
	seqno := pkt.SeqNum
	sizeBytes := uint64(pkt.SizeBytes())
	if seqno == 1 {
		k.reset()
	}

	if !k.haveSeenTag || k.lastSeenTag != pkt.Tag() {
		k.tagChangeCount++
		k.lastSeenTag = pkt.Tag()
		k.haveSeenTag = true
		if k.OnTagChange != nil {
			k.OnTagChange(k.id, k.tagChangeCount)
		}
	}

	switch {
	case seqno == k.cumulativeAck+1:
		k.cumulativeAck = seqno + sizeBytes - 1
		for len(k.received) > 0 && k.received[0] == k.cumulativeAck+1 {
			k.received = k.received[1:]
			k.cumulativeAck += sizeBytes
		}
	case seqno < k.cumulativeAck+1:
		// Stale retransmit, nothing to do.
	default:
		k.insertOutOfOrder(seqno)
	}

	if k.OnBytesReceived != nil {
		k.OnBytesReceived(k.id, k.cumulativeAck)
	}

	k.sendAck(pkt.TimeSent())
}

func (k *TCPSink) insertOutOfOrder(seqno uint64) {
	if len(k.received) == 0 {
		k.received = append(k.received, seqno)
		return
	}
	if seqno > k.received[len(k.received)-1] {
		k.received = append(k.received, seqno)
		return
	}
	for i, v := range k.received {
		if v == seqno {
			return
		}
		if seqno < v {
			k.received = append(k.received, 0)
			copy(k.received[i+1:], k.received[i:])
			k.received[i] = seqno
			return
		}
	}
}

func (k *TCPSink) sendAck(timeSent clock.Time) {
	ack := packet.NewTCPPacket(k.five, kAckSize, timeSent, k.cumulativeAck, 0)
	k.sendPacket(ack)
}
