/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package ring

import (
	"fmt"

	"github.com/xerra/socktracer/pkg/wire"
)

// Reader drains one CPU's perf ring, per spec.md §4.8. Production wires
// one Reader per online CPU against that CPU's own ring buffer; this
// reimplementation leaves the actual ring-buffer poll loop to the
// caller and exposes HandleFrame as the per-frame unit of work, so it
// can be driven by a real perf-ring poll, a test, or a replay log
// identically.
type Reader struct {
	dispatcher *Dispatcher
	bootTimeNs uint64
}

// NewReader builds a Reader over dispatcher. bootTimeNs is the current
// sys_boot_time_ns sample (spec.md §6), refreshed periodically by the
// caller; HandleFrame uses whatever value was current when it's called.
func NewReader(dispatcher *Dispatcher, bootTimeNs uint64) *Reader {
	return &Reader{dispatcher: dispatcher, bootTimeNs: bootTimeNs}
}

// SetBootTime updates the boot-time sample used for subsequent frames.
func (r *Reader) SetBootTime(bootTimeNs uint64) {
	r.bootTimeNs = bootTimeNs
}

// HandleFrame processes one raw perf-ring frame. eventType in
// [1, MinExtraEventType) is a socket-data batch whose payload is one
// wire-encoded Envelope; eventType >= MinExtraEventType is an extra event
// whose payload is handed through unexamined, per spec.md §4.8 and §6.
func (r *Reader) HandleFrame(eventType uint32, payload []byte) error {
	if eventType == 0 {
		return fmt.Errorf("ring: invalid event_type 0")
	}

	if eventType >= MinExtraEventType {
		r.dispatcher.EnqueueExtraEvent(eventType, payload)
		return nil
	}

	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return fmt.Errorf("ring: decoding socket-data batch: %w", err)
	}

	for i := range env.Records {
		rec := env.Records[i]
		// spec.md §6: "timestamp is microseconds since Unix epoch,
		// computed as (kernel_monotonic_ns + sys_boot_time_ns) / 1000".
		// The wire value carries kernel_monotonic_ns until this point.
		rec.Timestamp = (rec.Timestamp + r.bootTimeNs) / 1000
		isLast := i == len(env.Records)-1
		r.dispatcher.EnqueueRecord(rec, isLast)
	}

	return nil
}
