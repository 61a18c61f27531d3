package traffic

import (
	"container/heap"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/event"
)

// DataSender is the subset of a connection (transport.TCPSource,
// transport.UDPSource) a flow driver needs: a way to enqueue bytes for
// transmission, a way to tear the flow down, and a way to be told once
// the send buffer has drained. Defined here, rather than importing
// transport, so that traffic does not depend on the transport package;
// transport's connection types satisfy it structurally.
type DataSender interface {
	AddData(bytes uint64)
	Close()
	OnSendBufferDrained(f func())
}

// AddDataEvent schedules bytes to be handed to a connection's send
// buffer at a point in time, or asks that the connection be closed.
type AddDataEvent struct {
	At    clock.Time
	Bytes uint64
	Close bool
}

// addDataInfinity is returned by a driver that has nothing further to
// schedule; FlowPack treats it as "this driver is done".
var addDataInfinity = AddDataEvent{At: clock.MaxTime}

// RateKeyFrame marks a point in time at which a ConstantRateFlowDriver's
// rate changes to rate_bps.
type RateKeyFrame struct {
	At      clock.Time
	RateBPS uint64
}

// IndependentFlowDriver generates AddDataEvents for a connection with no
// outside input.
type IndependentFlowDriver interface {
	Next() AddDataEvent
}

// ConnectionDependentFlowDriver drives a connection by reacting to it --
// most commonly, waiting for its send buffer to drain before adding more.
type ConnectionDependentFlowDriver interface {
	ConnectionAttached(conn DataSender)
}

// ConstantRateFlowDriver produces AddDataEvents at a fixed packet size
// and a rate that can be changed over time via keyframes, by varying the
// gap between events. Grounded on
// original_source/src/htsim/flow_driver.{h,cc}'s ConstantRateFlowDriver.
type ConstantRateFlowDriver struct {
	packetSizeBytes uint64
	second          clock.Delay

	interPacketGap clock.Delay
	keyFrames      []RateKeyFrame
	nextKeyFrame   int
	currTime       clock.Time
	currRate       uint64
}

// NewConstantRateFlowDriver returns a driver sending packetSizeBytes
// packets, where second is how many clock units one second is at the
// clock resolution in use.
func NewConstantRateFlowDriver(packetSizeBytes uint64, second clock.Delay) *ConstantRateFlowDriver {
	return &ConstantRateFlowDriver{packetSizeBytes: packetSizeBytes, second: second}
}

// AddRateChangeKeyframes appends keyframes to the driver's timeline,
// keeping it sorted by time.
func (d *ConstantRateFlowDriver) AddRateChangeKeyframes(frames []RateKeyFrame) {
	d.keyFrames = append(d.keyFrames, frames...)
	sort.SliceStable(d.keyFrames, func(i, j int) bool { return d.keyFrames[i].At < d.keyFrames[j].At })
}

func (d *ConstantRateFlowDriver) nextKeyFrameFrame() RateKeyFrame {
	if d.nextKeyFrame == len(d.keyFrames) {
		return RateKeyFrame{At: clock.MaxTime, RateBPS: d.currRate}
	}
	return d.keyFrames[d.nextKeyFrame]
}

func (d *ConstantRateFlowDriver) advanceToNextKeyFrame() {
	next := d.nextKeyFrameFrame()
	d.currTime = next.At
	d.currRate = next.RateBPS
	d.interPacketGap = clock.Delay(float64(d.second) / ((float64(d.currRate) / 8.0) / float64(d.packetSizeBytes)))
	d.nextKeyFrame++
}

// Next implements IndependentFlowDriver.
func (d *ConstantRateFlowDriver) Next() AddDataEvent {
	if d.currTime == clock.MaxTime {
		return addDataInfinity
	}

	nextPacketTime := d.currTime + d.interPacketGap
	next := d.nextKeyFrameFrame()
	if d.interPacketGap == 0 || next.At < nextPacketTime {
		d.advanceToNextKeyFrame()
		return d.Next()
	}
	d.currTime = nextPacketTime
	return AddDataEvent{At: nextPacketTime, Bytes: d.packetSizeBytes}
}

var _ IndependentFlowDriver = (*ConstantRateFlowDriver)(nil)

// ManualFlowDriver replays a fixed, caller-supplied schedule of
// AddDataEvents.
type ManualFlowDriver struct {
	events []AddDataEvent // kept sorted descending by At; Next pops from the back.
}

// NewManualFlowDriver returns an empty ManualFlowDriver.
func NewManualFlowDriver() *ManualFlowDriver { return &ManualFlowDriver{} }

// AddData appends events to the driver's schedule.
func (d *ManualFlowDriver) AddData(events []AddDataEvent) {
	d.events = append(d.events, events...)
	sort.SliceStable(d.events, func(i, j int) bool { return d.events[i].At > d.events[j].At })
}

// Next implements IndependentFlowDriver.
func (d *ManualFlowDriver) Next() AddDataEvent {
	if len(d.events) == 0 {
		return addDataInfinity
	}
	next := d.events[len(d.events)-1]
	d.events = d.events[:len(d.events)-1]
	return next
}

var _ IndependentFlowDriver = (*ManualFlowDriver)(nil)

// ObjectSizeAndWaitTime is a (size, wait) pair produced by an
// ObjectSizeAndWaitTimeGenerator.
type ObjectSizeAndWaitTime struct {
	ObjectSize uint64
	WaitTime   clock.Delay
}

// ObjectSizeAndWaitTimeGenerator produces the size/wait pairs a
// FeedbackLoopFlowDriver uses to schedule its next AddData call.
type ObjectSizeAndWaitTimeGenerator interface {
	Next() ObjectSizeAndWaitTime
}

// DefaultObjectSizeAndWaitTimeGenerator draws object sizes and wait
// times from exponential distributions (or uses fixed values, or the
// special cases: a mean object size of math.MaxUint64 means unbounded
// data, a mean wait time of zero means no wait). Grounded on
// original_source/src/htsim/flow_driver.cc's
// DefaultObjectSizeAndWaitTimeGenerator.
type DefaultObjectSizeAndWaitTimeGenerator struct {
	meanObjectSize  uint64
	objectSizeFixed bool
	meanWaitTimeMs  uint64
	waitTimeFixed   bool

	rnd             *rand.Rand
	constantDelayMs uint64
	clk             clock.Clock
}

// NewDefaultObjectSizeAndWaitTimeGenerator returns a generator with the
// given means. meanWaitTime is expressed in wall-clock duration and
// converted to the clock's units internally.
func NewDefaultObjectSizeAndWaitTimeGenerator(meanObjectSizeBytes uint64, sizeFixed bool, meanWaitTimeMs uint64, waitTimeFixed bool, seed int64, clk clock.Clock) *DefaultObjectSizeAndWaitTimeGenerator {
	return &DefaultObjectSizeAndWaitTimeGenerator{
		meanObjectSize:  meanObjectSizeBytes,
		objectSizeFixed: sizeFixed,
		meanWaitTimeMs:  meanWaitTimeMs,
		waitTimeFixed:   waitTimeFixed,
		rnd:             rand.New(rand.NewSource(seed)), //nolint:gosec // simulation traffic, not security sensitive.
		clk:             clk,
	}
}

// SetConstantDelay adds a fixed delay, in milliseconds, on top of every
// exponentially drawn wait time. Fixed wait times and a zero mean wait
// time are not affected.
func (g *DefaultObjectSizeAndWaitTimeGenerator) SetConstantDelay(ms uint64) {
	g.constantDelayMs = ms
}

// Next implements ObjectSizeAndWaitTimeGenerator.
func (g *DefaultObjectSizeAndWaitTimeGenerator) Next() ObjectSizeAndWaitTime {
	var objectSize uint64
	switch {
	case g.meanObjectSize == math.MaxUint64:
		objectSize = math.MaxUint64
	case g.objectSizeFixed:
		objectSize = g.meanObjectSize
	default:
		objectSize = uint64(g.rnd.ExpFloat64() * float64(g.meanObjectSize))
		if objectSize < 1 {
			objectSize = 1
		}
	}

	var waitTimeMs uint64
	switch {
	case g.meanWaitTimeMs == 0:
		waitTimeMs = 0
	case g.waitTimeFixed:
		waitTimeMs = g.meanWaitTimeMs
	default:
		waitTimeMs = g.constantDelayMs + uint64(g.rnd.ExpFloat64()*float64(g.meanWaitTimeMs))
		if waitTimeMs < 1 {
			waitTimeMs = 1
		}
	}

	return ObjectSizeAndWaitTime{
		ObjectSize: objectSize,
		WaitTime:   g.clk.FromNanos(time.Duration(waitTimeMs) * time.Millisecond),
	}
}

var _ ObjectSizeAndWaitTimeGenerator = (*DefaultObjectSizeAndWaitTimeGenerator)(nil)

// FeedbackLoopFlowDriver adds data to a connection, then waits for the
// send buffer to fully drain before scheduling the next addition --
// modeling a request/response loop where the next object isn't known
// until the previous one has gone out. Grounded on
// original_source/src/htsim/flow_driver.cc's FeedbackLoopFlowDriver.
type FeedbackLoopFlowDriver struct {
	event.BaseConsumer

	eq        *event.Queue
	generator ObjectSizeAndWaitTimeGenerator
	dataToAdd uint64
	conn      DataSender
}

// NewFeedbackLoopFlowDriver returns a driver that is not yet attached to
// a connection; AddDriver (via FlowPack) or a direct call to
// ConnectionAttached completes the wiring.
func NewFeedbackLoopFlowDriver(id string, generator ObjectSizeAndWaitTimeGenerator, eq *event.Queue) *FeedbackLoopFlowDriver {
	d := &FeedbackLoopFlowDriver{
		BaseConsumer: event.NewBaseConsumer(id),
		eq:           eq,
		generator:    generator,
	}
	d.scheduleNext()
	return d
}

// ConnectionAttached implements ConnectionDependentFlowDriver.
func (d *FeedbackLoopFlowDriver) ConnectionAttached(conn DataSender) {
	d.conn = conn
}

func (d *FeedbackLoopFlowDriver) scheduleNext() {
	next := d.generator.Next()
	d.dataToAdd = next.ObjectSize
	d.eq.Enqueue(d.eq.Now()+next.WaitTime, d)
}

// HandleEvent implements event.Consumer.
func (d *FeedbackLoopFlowDriver) HandleEvent() {
	prevDataToAdd := d.dataToAdd
	if d.dataToAdd == 0 {
		d.scheduleNext()
	}

	if prevDataToAdd != 0 {
		d.conn.OnSendBufferDrained(d.scheduleNext)
		d.conn.AddData(prevDataToAdd)
	}
}

var (
	_ ConnectionDependentFlowDriver = (*FeedbackLoopFlowDriver)(nil)
	_ event.Consumer                = (*FeedbackLoopFlowDriver)(nil)
)

type connectionAndDriver struct {
	conn   DataSender
	driver IndependentFlowDriver
}

type flowEvent struct {
	ev   AddDataEvent
	pair *connectionAndDriver
}

type flowEventHeap []flowEvent

func (h flowEventHeap) Len() int                { return len(h) }
func (h flowEventHeap) Less(i, j int) bool      { return h[i].ev.At < h[j].ev.At }
func (h flowEventHeap) Swap(i, j int)           { h[i], h[j] = h[j], h[i] }
func (h *flowEventHeap) Push(x any)             { *h = append(*h, x.(flowEvent)) } //nolint:forcetypeassert
func (h *flowEventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// FlowPack manages a collection of connections and the flow drivers that
// feed them, presenting a single event.Consumer to the event queue no
// matter how many flows are active.
//
// The original caches CacheEvents()'s worth of upcoming events into a
// fixed kEventCacheSize=1000000 array, refilling it in batches, to avoid
// resizing a std::priority_queue backing vector under churn. A Go
// container/heap over a slice that the runtime grows as needed serves
// the same purpose without a size that must be chosen up front and
// without the batch/refill bookkeeping.
type FlowPack struct {
	event.BaseConsumer

	logger *slog.Logger
	eq     *event.Queue

	pending flowEventHeap

	independent []*connectionAndDriver
	dependent   []ConnectionDependentFlowDriver
}

// NewFlowPack returns an empty FlowPack.
func NewFlowPack(logger *slog.Logger, id string, eq *event.Queue) *FlowPack {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowPack{BaseConsumer: event.NewBaseConsumer(id), logger: logger, eq: eq}
}

// AddDriver registers driver as responsible for feeding conn. driver
// must be either an IndependentFlowDriver or a
// ConnectionDependentFlowDriver; AddDriver panics for anything else.
func (p *FlowPack) AddDriver(driver any, conn DataSender) {
	switch d := driver.(type) {
	case IndependentFlowDriver:
		p.independent = append(p.independent, &connectionAndDriver{conn: conn, driver: d})
	case ConnectionDependentFlowDriver:
		d.ConnectionAttached(conn)
		p.dependent = append(p.dependent, d)
	default:
		panic("traffic: driver is neither an IndependentFlowDriver nor a ConnectionDependentFlowDriver")
	}
}

// AddFirstEvents seeds the priority queue with each independent driver's
// first event. Must be called once, after every driver has been
// registered, before the pack starts receiving HandleEvent calls.
func (p *FlowPack) AddFirstEvents() {
	for _, pair := range p.independent {
		ev := pair.driver.Next()
		if ev.At != clock.MaxTime {
			heap.Push(&p.pending, flowEvent{ev: ev, pair: pair})
		}
	}
}

// Init seeds the queue and schedules the pack's first event. Call once
// after every driver has been added via AddDriver.
func (p *FlowPack) Init() {
	p.AddFirstEvents()
	if p.pending.Len() > 0 {
		p.eq.Enqueue(p.pending[0].ev.At, p)
	}
}

// HandleEvent implements event.Consumer.
func (p *FlowPack) HandleEvent() {
	top := heap.Pop(&p.pending).(flowEvent) //nolint:forcetypeassert

	if top.ev.Close {
		top.pair.conn.Close()
	} else if top.ev.Bytes != 0 {
		top.pair.conn.AddData(top.ev.Bytes)
	}

	next := top.pair.driver.Next()
	if next.At != clock.MaxTime {
		heap.Push(&p.pending, flowEvent{ev: next, pair: top.pair})
	}

	if p.pending.Len() > 0 {
		p.eq.Enqueue(p.pending[0].ev.At, p)
	}
}

var _ event.Consumer = (*FlowPack)(nil)
