// Package simmetrics implements the metrics-boundary contract named in
// spec.md §6: the per-device, per-queue, and per-TCP-flow counters the
// simulation core exposes, collected as Prometheus metrics the same way
// the teacher's internal/metrics package collects BFD session metrics.
// Out of scope per spec.md §1: dashboards, alerting, anything past the
// exporter boundary.
package simmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/transport"
)

const (
	namespace = "htsim"
)

// Label names used across the collector's metric vectors.
const (
	labelDevice = "device"
	labelLink   = "link"
	labelFlow   = "flow"
)

// Collector holds every Prometheus metric htsimd exports and the
// callbacks needed to refresh gauge values from live simulation state on
// each scrape.
type Collector struct {
	// Device counters (spec.md §6).
	DevicePacketsSeen          *prometheus.GaugeVec
	DeviceBytesSeen            *prometheus.GaugeVec
	DevicePacketsFailedToMatch *prometheus.GaugeVec
	DeviceBytesFailedToMatch   *prometheus.GaugeVec
	DevicePacketsForLocalhost  *prometheus.GaugeVec
	DeviceBytesForLocalhost    *prometheus.GaugeVec
	DeviceNumRules             *prometheus.GaugeVec
	DeviceRouteUpdatesSeen     *prometheus.GaugeVec

	// Queue gauges.
	QueueSizeBytes *prometheus.GaugeVec
	QueueDropped   *prometheus.GaugeVec

	// TCP flow gauges.
	TCPCwnd      *prometheus.GaugeVec
	TCPSsthresh  *prometheus.GaugeVec
	TCPRTOMicros *prometheus.GaugeVec

	// Per-flow traffic gauges.
	FlowPktsTx  *prometheus.GaugeVec
	FlowPktsRx  *prometheus.GaugeVec
	FlowBytesTx *prometheus.GaugeVec
	FlowBytesRx *prometheus.GaugeVec

	deviceSources []deviceSource
	queueSources  []queueSource
	tcpSources    []tcpSource
	flowSources   []flowSource
}

// FlowCounters is the narrow view of a transport connection the
// collector needs; transport's sources and sinks all satisfy it.
type FlowCounters interface {
	Stats() transport.ConnectionStats
}

type deviceSource struct {
	name string
	dev  *datapath.Device
}

type queueSource struct {
	name  string
	queue *datapath.Queue
}

type tcpSource struct {
	name string
	src  *transport.TCPSource
}

type flowSource struct {
	name string
	conn FlowCounters
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		DevicePacketsSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "packets_seen",
			Help: "Total packets a device has seen arrive on any port.",
		}, []string{labelDevice}),
		DeviceBytesSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "bytes_seen",
			Help: "Total bytes a device has seen arrive on any port.",
		}, []string{labelDevice}),
		DevicePacketsFailedToMatch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "packets_failed_to_match",
			Help: "Packets dropped because no rule matched.",
		}, []string{labelDevice}),
		DeviceBytesFailedToMatch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "bytes_failed_to_match",
			Help: "Bytes dropped because no rule matched.",
		}, []string{labelDevice}),
		DevicePacketsForLocalhost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "packets_for_localhost",
			Help: "Packets delivered to this device's own connection table.",
		}, []string{labelDevice}),
		DeviceBytesForLocalhost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "bytes_for_localhost",
			Help: "Bytes delivered to this device's own connection table.",
		}, []string{labelDevice}),
		DeviceNumRules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "num_rules",
			Help: "Number of forwarding rules currently installed on a device.",
		}, []string{labelDevice}),
		DeviceRouteUpdatesSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "route_updates_seen",
			Help: "SSCP rule installs/updates a device has received.",
		}, []string{labelDevice}),
		QueueSizeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "size_bytes",
			Help: "Current occupancy of a link's queue, in bytes.",
		}, []string{labelLink}),
		QueueDropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "packets_dropped",
			Help: "Total packets dropped by a link's queue.",
		}, []string{labelLink}),
		TCPCwnd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tcp", Name: "cwnd_bytes",
			Help: "Current congestion window of a TCP flow, in bytes.",
		}, []string{labelFlow}),
		TCPSsthresh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tcp", Name: "ssthresh_bytes",
			Help: "Current slow-start threshold of a TCP flow, in bytes.",
		}, []string{labelFlow}),
		TCPRTOMicros: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tcp", Name: "rto_micros",
			Help: "Current retransmit timeout of a TCP flow, in microseconds.",
		}, []string{labelFlow}),
		FlowPktsTx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "flow", Name: "pkts_tx",
			Help: "Packets transmitted by a connection endpoint.",
		}, []string{labelFlow}),
		FlowPktsRx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "flow", Name: "pkts_rx",
			Help: "Packets received by a connection endpoint.",
		}, []string{labelFlow}),
		FlowBytesTx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "flow", Name: "bytes_tx",
			Help: "Bytes transmitted by a connection endpoint.",
		}, []string{labelFlow}),
		FlowBytesRx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "flow", Name: "bytes_rx",
			Help: "Bytes received by a connection endpoint.",
		}, []string{labelFlow}),
	}

	reg.MustRegister(
		c.DevicePacketsSeen,
		c.DeviceBytesSeen,
		c.DevicePacketsFailedToMatch,
		c.DeviceBytesFailedToMatch,
		c.DevicePacketsForLocalhost,
		c.DeviceBytesForLocalhost,
		c.DeviceNumRules,
		c.DeviceRouteUpdatesSeen,
		c.QueueSizeBytes,
		c.QueueDropped,
		c.TCPCwnd,
		c.TCPSsthresh,
		c.TCPRTOMicros,
		c.FlowPktsTx,
		c.FlowPktsRx,
		c.FlowBytesTx,
		c.FlowBytesRx,
	)

	return c
}

// WatchDevice registers dev so its counters are refreshed into the
// corresponding gauges on every Refresh call.
func (c *Collector) WatchDevice(name string, dev *datapath.Device) {
	c.deviceSources = append(c.deviceSources, deviceSource{name: name, dev: dev})
}

// WatchQueue registers queue so its occupancy/drop counters are
// refreshed on every Refresh call.
func (c *Collector) WatchQueue(name string, queue *datapath.Queue) {
	c.queueSources = append(c.queueSources, queueSource{name: name, queue: queue})
}

// WatchTCPSource registers src so its congestion-control state is
// refreshed on every Refresh call.
func (c *Collector) WatchTCPSource(name string, src *transport.TCPSource) {
	c.tcpSources = append(c.tcpSources, tcpSource{name: name, src: src})
	c.WatchFlow(name, src)
}

// WatchFlow registers any connection endpoint so its byte/packet
// counters are refreshed on every Refresh call.
func (c *Collector) WatchFlow(name string, conn FlowCounters) {
	c.flowSources = append(c.flowSources, flowSource{name: name, conn: conn})
}

// Refresh pulls the current counters from every watched component and
// updates the corresponding gauges. promhttp serves whatever the gauges
// currently hold; cmd/htsimd calls Refresh once, after the simulation
// run has finished, so scrapes taken during a run see the previous values.
func (c *Collector) Refresh() {
	for _, d := range c.deviceSources {
		st := d.dev.Stats()
		c.DevicePacketsSeen.WithLabelValues(d.name).Set(float64(st.PacketsSeen))
		c.DeviceBytesSeen.WithLabelValues(d.name).Set(float64(st.BytesSeen))
		c.DevicePacketsFailedToMatch.WithLabelValues(d.name).Set(float64(st.PacketsFailedToMatch))
		c.DeviceBytesFailedToMatch.WithLabelValues(d.name).Set(float64(st.BytesFailedToMatch))
		c.DevicePacketsForLocalhost.WithLabelValues(d.name).Set(float64(st.PacketsForLocalhost))
		c.DeviceBytesForLocalhost.WithLabelValues(d.name).Set(float64(st.BytesForLocalhost))
		c.DeviceNumRules.WithLabelValues(d.name).Set(float64(d.dev.Matcher().NumRules()))
		c.DeviceRouteUpdatesSeen.WithLabelValues(d.name).Set(float64(st.RouteUpdatesSeen))
	}

	for _, q := range c.queueSources {
		st := q.queue.Stats()
		c.QueueSizeBytes.WithLabelValues(q.name).Set(float64(st.QueueSizeBytes))
		c.QueueDropped.WithLabelValues(q.name).Set(float64(st.PktsDropped))
	}

	for _, t := range c.tcpSources {
		st := t.src.Snapshot()
		c.TCPCwnd.WithLabelValues(t.name).Set(float64(st.Cwnd))
		c.TCPSsthresh.WithLabelValues(t.name).Set(float64(st.Ssthresh))
		c.TCPRTOMicros.WithLabelValues(t.name).Set(float64(st.RTO))
	}

	for _, f := range c.flowSources {
		st := f.conn.Stats()
		c.FlowPktsTx.WithLabelValues(f.name).Set(float64(st.PktsTx))
		c.FlowPktsRx.WithLabelValues(f.name).Set(float64(st.PktsRx))
		c.FlowBytesTx.WithLabelValues(f.name).Set(float64(st.BytesTx))
		c.FlowBytesRx.WithLabelValues(f.name).Set(float64(st.BytesRx))
	}
}
