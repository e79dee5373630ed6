/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package reclaim

import (
	"testing"
	"time"

	"github.com/xerra/socktracer/pkg/socktable"
	"github.com/xerra/socktracer/pkg/traceid"
	"github.com/xerra/socktracer/pkg/tracecorr"
	"github.com/xerra/socktracer/pkg/wire"
)

func fixedAllocator() *traceid.Allocator {
	return traceid.NewAllocator(0, func() uint64 { return 100 })
}

func TestSweepRemovesEntriesIdlePastTimeout(t *testing.T) {
	sockets := socktable.NewTable(fixedAllocator())
	traces := tracecorr.NewTable(fixedAllocator())

	key := socktable.Key(1, 3)
	sockets.Apply(key, socktable.Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Proto: wire.ProtoHTTP1, Now: 0})

	clock := uint64(0)
	r := New(sockets, traces, func() uint64 { return clock })

	clock = 5
	if n := r.Sweep(); n != 0 {
		t.Fatalf("Sweep at 5s idle: got %d reclaimed, want 0", n)
	}
	if sockets.Len() != 1 {
		t.Fatalf("sockets.Len() after 5s: got %d, want 1 (not yet idle)", sockets.Len())
	}

	clock = 11
	if n := r.Sweep(); n != 1 {
		t.Fatalf("Sweep at 11s idle: got %d reclaimed, want 1", n)
	}
	if sockets.Len() != 0 {
		t.Fatalf("sockets.Len() after reclaim: got %d, want 0", sockets.Len())
	}
	if r.Reclaimed() != 1 {
		t.Fatalf("Reclaimed() = %d, want 1", r.Reclaimed())
	}
}

func TestSweepIsIdempotentWithinIdleWindow(t *testing.T) {
	sockets := socktable.NewTable(fixedAllocator())
	traces := tracecorr.NewTable(fixedAllocator())

	key := socktable.Key(1, 3)
	sockets.Apply(key, socktable.Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Proto: wire.ProtoHTTP1, Now: 0})

	clock := uint64(11)
	r := New(sockets, traces, func() uint64 { return clock })

	first := r.Sweep()
	second := r.Sweep()

	if first != 1 {
		t.Fatalf("first Sweep: got %d, want 1", first)
	}
	if second != 0 {
		t.Fatalf("second Sweep within same idle window: got %d, want 0 (idempotent)", second)
	}
	if r.Sweeps() != 2 {
		t.Fatalf("Sweeps() = %d, want 2", r.Sweeps())
	}
}

func TestShouldSweepNowReportsHighWaterMark(t *testing.T) {
	sockets := socktable.NewTable(fixedAllocator())
	traces := tracecorr.NewTable(fixedAllocator())
	r := New(sockets, traces, func() uint64 { return 0 })

	if r.ShouldSweepNow() {
		t.Fatalf("ShouldSweepNow on empty tables: want false")
	}

	for i := 0; i < HighWaterMark+1; i++ {
		key := socktable.Key(1, int32(i))
		sockets.Apply(key, socktable.Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Proto: wire.ProtoHTTP1, Now: 0})
	}

	if !r.ShouldSweepNow() {
		t.Fatalf("ShouldSweepNow with %d socket entries: want true", HighWaterMark+1)
	}
}

func TestRunAndStopDoesNotPanic(t *testing.T) {
	sockets := socktable.NewTable(fixedAllocator())
	traces := tracecorr.NewTable(fixedAllocator())
	r := New(sockets, traces, func() uint64 { return 0 })

	r.Run(time.Millisecond)
	r.Stop()
	r.Stop() // second Stop must be a safe no-op
}
