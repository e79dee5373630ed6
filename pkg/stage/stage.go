/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package stage implements the Event Batcher (C7): a per-CPU buffer that
// packs capture records into a power-of-two envelope before handing it to
// the Ring Reader, per spec.md §4.7.
package stage

import (
	"sync"
	"time"

	"github.com/xerra/socktracer/pkg/wire"
)

// Buffer is one CPU's batching buffer. Production owns one per online
// CPU with no cross-CPU sharing, matching spec.md §5's "per-CPU
// structures... never require locking"; this reimplementation still
// guards it with a mutex because its goroutine is not guaranteed
// hardware-pinned exclusivity the way a real eBPF per-CPU map is.
type Buffer struct {
	mu      sync.Mutex
	records []wire.Record
	oldest  time.Time
}

// NewBuffer constructs an empty batching buffer.
func NewBuffer() *Buffer {
	return &Buffer{records: make([]wire.Record, 0, wire.MaxRecordsPerEnvelope)}
}

// Append adds r to the buffer. It reports full=true once the buffer has
// reached spec.md §4.7's cap of 16 records, at which point the caller
// must Flush before appending again.
func (b *Buffer) Append(r wire.Record, now time.Time) (full bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		b.oldest = now
	}
	b.records = append(b.records, r)
	return len(b.records) >= wire.MaxRecordsPerEnvelope
}

// ShouldFlush reports whether the buffer's oldest record has aged past
// maxAge, the "periodic flush hook... because the oldest record is older
// than 1 second" condition from spec.md §4.7, driven in production by
// the getppid 1Hz heartbeat tracepoint (spec.md §4.10).
func (b *Buffer) ShouldFlush(now time.Time, maxAge time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records) > 0 && now.Sub(b.oldest) > maxAge
}

// Flush drains the buffer into an Envelope ready for emission to the
// perf ring, resetting the buffer's own state. ok is false when the
// buffer was empty.
func (b *Buffer) Flush() (env wire.Envelope, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return wire.Envelope{}, false
	}

	env = wire.Envelope{Records: append([]wire.Record(nil), b.records...)}
	b.records = b.records[:0]
	return env, true
}

// Len reports the number of records currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
