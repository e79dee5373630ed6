/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package stats implements the Stats & Introspection surface (C12):
// tracer-wide counters exposed as a prometheus.Collector and as the
// GET_SOCKTRACE_SHOW control-protocol response (see control.go; the
// package has no socket listener and no set command), per spec.md §4.11.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// State mirrors the tracer lifecycle (C10) states this package reports.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateStop
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// ProtoCounters tracks per-protocol record counts, keyed by the
// wire.Protocol byte value so callers needn't import pkg/wire here.
type protoCounters struct {
	mu     sync.Mutex
	counts map[uint8]uint64
}

func newProtoCounters() *protoCounters {
	return &protoCounters{counts: make(map[uint8]uint64)}
}

func (p *protoCounters) add(proto uint8, n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[proto] += n
}

func (p *protoCounters) snapshot() map[uint8]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint8]uint64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// Collector aggregates the counters spec.md §4.11 names: per-protocol
// record counts, kernel-side loss, a single queue-loss total across all
// queues (no per-queue enqueue, dequeue or lost counts), batch
// bursts, heap-allocation failures, tracer state, adaptation flag, and
// boot-time drift between successive readings. It implements
// prometheus.Collector in the same Describe/Collect shape the teacher's
// TCPInfoCollector uses, substituting tracer-wide counters for
// per-connection tcp_info fields.
type Collector struct {
	descs map[string]*prometheus.Desc

	proto *protoCounters

	kernelLoss      atomic.Uint64
	queueLost       atomic.Uint64
	batchBursts     atomic.Uint64
	allocFailures   atomic.Uint64
	socketMapCount  atomic.Int64
	traceMapCount   atomic.Int64
	reclaimedTotal  atomic.Uint64
	bootTimeDriftNs atomic.Int64

	mu           sync.Mutex
	state        State
	adaptSuccess bool
	constLabels  prometheus.Labels
}

// New builds a Collector. constLabels is attached to every exported
// metric, mirroring the teacher's NewTCPInfoCollector constLabels
// parameter (e.g. a tracer instance or hostname label).
func New(constLabels prometheus.Labels) *Collector {
	descs := map[string]*prometheus.Desc{
		"protocol_records_total":  prometheus.NewDesc("socktracer_protocol_records_total", "Capture records observed, by inferred protocol.", []string{"protocol"}, constLabels),
		"kernel_loss_total":       prometheus.NewDesc("socktracer_kernel_loss_total", "Events dropped in kernel context before reaching the perf ring.", nil, constLabels),
		"queue_lost_total":        prometheus.NewDesc("socktracer_queue_lost_total", "Work items dropped because a dispatcher worker queue was full.", nil, constLabels),
		"batch_bursts_total":      prometheus.NewDesc("socktracer_batch_bursts_total", "Number of full (16-record) batches flushed.", nil, constLabels),
		"alloc_failures_total":    prometheus.NewDesc("socktracer_alloc_failures_total", "Heap-allocation failures while staging a batch.", nil, constLabels),
		"socket_map_count":        prometheus.NewDesc("socktracer_socket_map_count", "Live entries in the socket state table.", nil, constLabels),
		"trace_map_count":         prometheus.NewDesc("socktracer_trace_map_count", "Live entries in the trace correlation table.", nil, constLabels),
		"reclaimed_total":         prometheus.NewDesc("socktracer_reclaimed_total", "Entries evicted by the idle-time reclaimer.", nil, constLabels),
		"boot_time_drift_ns":      prometheus.NewDesc("socktracer_boot_time_drift_ns", "Drift in nanoseconds between successive sys_boot_time_ns readings.", nil, constLabels),
		"tracer_state":            prometheus.NewDesc("socktracer_tracer_state", "Tracer lifecycle state (0=INIT, 1=RUNNING, 2=STOP).", nil, constLabels),
		"adapt_success":           prometheus.NewDesc("socktracer_adapt_success", "1 once kernel offset adaptation has succeeded, else 0.", nil, constLabels),
	}

	return &Collector{
		descs:       descs,
		proto:       newProtoCounters(),
		constLabels: constLabels,
	}
}

func (c *Collector) Describe(out chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		out <- d
	}
}

func (c *Collector) Collect(out chan<- prometheus.Metric) {
	for proto, n := range c.proto.snapshot() {
		out <- prometheus.MustNewConstMetric(c.descs["protocol_records_total"], prometheus.CounterValue, float64(n), fmt.Sprintf("%d", proto))
	}

	out <- prometheus.MustNewConstMetric(c.descs["kernel_loss_total"], prometheus.CounterValue, float64(c.kernelLoss.Load()))
	out <- prometheus.MustNewConstMetric(c.descs["queue_lost_total"], prometheus.CounterValue, float64(c.queueLost.Load()))
	out <- prometheus.MustNewConstMetric(c.descs["batch_bursts_total"], prometheus.CounterValue, float64(c.batchBursts.Load()))
	out <- prometheus.MustNewConstMetric(c.descs["alloc_failures_total"], prometheus.CounterValue, float64(c.allocFailures.Load()))
	out <- prometheus.MustNewConstMetric(c.descs["socket_map_count"], prometheus.GaugeValue, float64(c.socketMapCount.Load()))
	out <- prometheus.MustNewConstMetric(c.descs["trace_map_count"], prometheus.GaugeValue, float64(c.traceMapCount.Load()))
	out <- prometheus.MustNewConstMetric(c.descs["reclaimed_total"], prometheus.CounterValue, float64(c.reclaimedTotal.Load()))
	out <- prometheus.MustNewConstMetric(c.descs["boot_time_drift_ns"], prometheus.GaugeValue, float64(c.bootTimeDriftNs.Load()))

	c.mu.Lock()
	state := c.state
	adapt := c.adaptSuccess
	c.mu.Unlock()

	out <- prometheus.MustNewConstMetric(c.descs["tracer_state"], prometheus.GaugeValue, float64(state))
	adaptVal := 0.0
	if adapt {
		adaptVal = 1.0
	}
	out <- prometheus.MustNewConstMetric(c.descs["adapt_success"], prometheus.GaugeValue, adaptVal)
}

// AddProtocolRecords folds n newly observed records of the given protocol
// into the running per-protocol total.
func (c *Collector) AddProtocolRecords(proto uint8, n uint64) {
	c.proto.add(proto, n)
}

func (c *Collector) AddKernelLoss(n uint64) { c.kernelLoss.Add(n) }
func (c *Collector) AddQueueLoss(n uint64)  { c.queueLost.Add(n) }
func (c *Collector) AddBatchBurst()         { c.batchBursts.Add(1) }
func (c *Collector) AddAllocFailure()       { c.allocFailures.Add(1) }
func (c *Collector) AddReclaimed(n uint64)  { c.reclaimedTotal.Add(n) }

// SetSocketMapCount records the socket table's current live-entry count
// net of reclamation, per spec.md §4.9's "reclamation counters are
// subtracted from the kernel-reported live count".
func (c *Collector) SetSocketMapCount(n int64) { c.socketMapCount.Store(n) }
func (c *Collector) SetTraceMapCount(n int64)  { c.traceMapCount.Store(n) }

// SetBootTimeDrift records the delta between this and the previous
// sys_boot_time_ns sample.
func (c *Collector) SetBootTimeDrift(deltaNs int64) { c.bootTimeDriftNs.Store(deltaNs) }

// SetState records the tracer's current lifecycle state.
func (c *Collector) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// SetAdaptSuccess records whether kernel offset adaptation has completed.
func (c *Collector) SetAdaptSuccess(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adaptSuccess = ok
}

// Snapshot is the value returned by the GET_SOCKTRACE_SHOW control
// command (spec.md §4.11). It holds no per-CPU offset data; AdaptSuccess
// is the only offset-related field.
type Snapshot struct {
	State           string           `json:"state"`
	AdaptSuccess    bool             `json:"adapt_success"`
	ProtocolRecords map[uint8]uint64 `json:"protocol_records"`
	KernelLoss      uint64           `json:"kernel_loss"`
	QueueLost       uint64           `json:"queue_lost"`
	BatchBursts     uint64           `json:"batch_bursts"`
	AllocFailures   uint64           `json:"alloc_failures"`
	SocketMapCount  int64            `json:"socket_map_count"`
	TraceMapCount   int64            `json:"trace_map_count"`
	ReclaimedTotal  uint64           `json:"reclaimed_total"`
	BootTimeDriftNs int64            `json:"boot_time_drift_ns"`
}

// Show builds the GET_SOCKTRACE_SHOW response from the collector's
// current counters.
func (c *Collector) Show() Snapshot {
	c.mu.Lock()
	state := c.state
	adapt := c.adaptSuccess
	c.mu.Unlock()

	return Snapshot{
		State:           state.String(),
		AdaptSuccess:    adapt,
		ProtocolRecords: c.proto.snapshot(),
		KernelLoss:      c.kernelLoss.Load(),
		QueueLost:       c.queueLost.Load(),
		BatchBursts:     c.batchBursts.Load(),
		AllocFailures:   c.allocFailures.Load(),
		SocketMapCount:  c.socketMapCount.Load(),
		TraceMapCount:   c.traceMapCount.Load(),
		ReclaimedTotal:  c.reclaimedTotal.Load(),
		BootTimeDriftNs: c.bootTimeDriftNs.Load(),
	}
}
