package transport

import (
	"log/slog"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/event"
)

// RtxTimersDisabled globally disables every TCPRtxTimer: registered
// sources are never scanned and the timer never schedules itself. Used
// by tests that want to observe the congestion machinery without the
// timeout path interfering.
var RtxTimersDisabled bool

// TCPRtxTimer scans every registered TCPSource once per scan period,
// rather than each source running its own timer: one shared timer
// keeps the event queue's size down to one event no matter how many
// flows are active. Grounded on
// original_source/src/htsim/tcp.{h,cc}'s TCPRtxTimer.
type TCPRtxTimer struct {
	event.BaseConsumer

	logger     *slog.Logger
	eq         *event.Queue
	scanPeriod clock.Delay
	sources    []*TCPSource
}

// NewTCPRtxTimer returns a timer that, once at least one source is
// registered, scans every scanPeriod.
func NewTCPRtxTimer(logger *slog.Logger, id string, scanPeriod clock.Delay, eq *event.Queue) *TCPRtxTimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPRtxTimer{
		BaseConsumer: event.NewBaseConsumer(id),
		logger:       logger,
		eq:           eq,
		scanPeriod:   scanPeriod,
	}
}

// RegisterSource adds src to the set of sources scanned for a
// retransmission timeout, starting the timer if this is the first one.
func (t *TCPRtxTimer) RegisterSource(src *TCPSource) {
	t.sources = append(t.sources, src)
	if len(t.sources) == 1 && !RtxTimersDisabled {
		t.eq.Enqueue(t.eq.Now()+t.scanPeriod, t)
	}
}

// HandleEvent checks every registered source for a retransmission
// timeout and reschedules itself.
func (t *TCPRtxTimer) HandleEvent() {
	if RtxTimersDisabled {
		return
	}
	now := t.eq.Now()
	for _, src := range t.sources {
		src.RtxTimerHook(now)
	}
	t.eq.Enqueue(t.eq.Now()+t.scanPeriod, t)
}
