package netstackmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "netstack"
	subsystem = "stack"
)

// Label names for netstack metrics.
const (
	labelProto     = "proto"
	labelDevice    = "device"
	labelFromState = "from_state"
	labelToState   = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus netstack metrics
// -------------------------------------------------------------------------

// Collector holds all netstack Prometheus metrics.
//
//   - Packet counters track ingress/egress/drop volumes per protocol.
//   - Socket gauges track currently open sockets per protocol (TCP/UDP/ICMP).
//   - TCP state transition counters record FSM changes for alerting.
//   - ARP counters track cache hits, misses, and resolve timeouts.
type Collector struct {
	// PacketsReceived counts packets successfully demultiplexed per protocol.
	PacketsReceived *prometheus.CounterVec

	// PacketsSent counts packets transmitted per protocol.
	PacketsSent *prometheus.CounterVec

	// PacketsDropped counts packets dropped per protocol (checksum failure,
	// truncation, no matching socket).
	PacketsDropped *prometheus.CounterVec

	// OpenSockets tracks the number of currently allocated sockets, labeled
	// by protocol.
	OpenSockets *prometheus.GaugeVec

	// TCPStateTransitions counts TCP FSM state transitions, labeled with the
	// old and new state.
	TCPStateTransitions *prometheus.CounterVec

	// ARPCacheHits counts ARP resolutions served directly from the cache.
	ARPCacheHits prometheus.Counter

	// ARPCacheMisses counts ARP resolutions that required sending a request.
	ARPCacheMisses prometheus.Counter

	// ARPResolveTimeouts counts blocking Resolve calls that gave up after
	// the configured timeout with no reply.
	ARPResolveTimeouts prometheus.Counter
}

// NewCollector creates a Collector with all netstack metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "netstack_stack_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsReceived,
		c.PacketsSent,
		c.PacketsDropped,
		c.OpenSockets,
		c.TCPStateTransitions,
		c.ARPCacheHits,
		c.ARPCacheMisses,
		c.ARPResolveTimeouts,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	protoLabels := []string{labelProto}
	transitionLabels := []string{labelFromState, labelToState}

	return &Collector{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total packets successfully demultiplexed, by protocol.",
		}, protoLabels),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total packets transmitted, by protocol.",
		}, protoLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped due to validation failure or no matching socket.",
		}, protoLabels),

		OpenSockets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_sockets",
			Help:      "Number of currently allocated sockets, by protocol.",
		}, protoLabels),

		TCPStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tcp_state_transitions_total",
			Help:      "Total TCP FSM state transitions.",
		}, transitionLabels),

		ARPCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "arp_cache_hits_total",
			Help:      "Total ARP resolutions served from the cache.",
		}),

		ARPCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "arp_cache_misses_total",
			Help:      "Total ARP resolutions that required sending a request.",
		}),

		ARPResolveTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "arp_resolve_timeouts_total",
			Help:      "Total blocking ARP Resolve calls that timed out.",
		}),
	}
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsReceived increments the received packets counter for proto.
// A nil Collector is a no-op, so callers in packages tested without a
// registry (nil passed at construction) don't need a nil check.
func (c *Collector) IncPacketsReceived(proto string) {
	if c == nil {
		return
	}
	c.PacketsReceived.WithLabelValues(proto).Inc()
}

// IncPacketsSent increments the transmitted packets counter for proto.
func (c *Collector) IncPacketsSent(proto string) {
	if c == nil {
		return
	}
	c.PacketsSent.WithLabelValues(proto).Inc()
}

// IncPacketsDropped increments the dropped packets counter for proto.
func (c *Collector) IncPacketsDropped(proto string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(proto).Inc()
}

// -------------------------------------------------------------------------
// Socket Lifecycle
// -------------------------------------------------------------------------

// IncOpenSockets increments the open-sockets gauge for proto. Called on
// socket allocation.
func (c *Collector) IncOpenSockets(proto string) {
	if c == nil {
		return
	}
	c.OpenSockets.WithLabelValues(proto).Inc()
}

// DecOpenSockets decrements the open-sockets gauge for proto. Called on
// socket free.
func (c *Collector) DecOpenSockets(proto string) {
	if c == nil {
		return
	}
	c.OpenSockets.WithLabelValues(proto).Dec()
}

// -------------------------------------------------------------------------
// TCP State Transitions
// -------------------------------------------------------------------------

// RecordTCPStateTransition increments the state transition counter with
// the old and new state labels, e.g. for alerting on unexpected resets.
func (c *Collector) RecordTCPStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.TCPStateTransitions.WithLabelValues(from, to).Inc()
}

// -------------------------------------------------------------------------
// ARP
// -------------------------------------------------------------------------

// IncARPCacheHit increments the ARP cache hit counter.
func (c *Collector) IncARPCacheHit() {
	if c == nil {
		return
	}
	c.ARPCacheHits.Inc()
}

// IncARPCacheMiss increments the ARP cache miss counter.
func (c *Collector) IncARPCacheMiss() {
	if c == nil {
		return
	}
	c.ARPCacheMisses.Inc()
}

// IncARPResolveTimeout increments the ARP resolve timeout counter.
func (c *Collector) IncARPResolveTimeout() {
	if c == nil {
		return
	}
	c.ARPResolveTimeouts.Inc()
}
