/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tracecorr

import (
	"testing"

	"github.com/xerra/socktracer/pkg/traceid"
	"github.com/xerra/socktracer/pkg/wire"
)

func fixedAllocator(start uint64) *traceid.Allocator {
	n := start
	return traceid.NewAllocator(0, func() uint64 { n += 100; return n })
}

func TestScenarioS2CrossSocketRelay(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	threadKey := Key(1, 42)

	ingress := tbl.Correlate(Event{
		ThreadKey: threadKey,
		SocketID:  5,
		CurrentFD: 5,
		Direction: wire.Ingress,
		MsgType:   wire.MsgRequest,
		Now:       10,
	})
	if ingress.TraceID == 0 {
		t.Fatalf("ingress: TraceID = 0, want nonzero")
	}

	egress := tbl.Correlate(Event{
		ThreadKey: threadKey,
		SocketID:  7, // different socket from the ingress
		CurrentFD: 7,
		Direction: wire.Egress,
		MsgType:   wire.MsgResponse,
		Now:       11,
	})
	if egress.TraceID != ingress.TraceID {
		t.Fatalf("S2: egress TraceID = %d, want %d (shared with ingress)", egress.TraceID, ingress.TraceID)
	}

	if _, ok := tbl.Get(threadKey); ok {
		t.Fatalf("S2: trace entry for thread still present after completing egress")
	}
}

func TestEgressSameSocketDoesNotCorrelate(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	threadKey := Key(1, 42)

	tbl.Correlate(Event{
		ThreadKey: threadKey, SocketID: 5, CurrentFD: 5,
		Direction: wire.Ingress, MsgType: wire.MsgRequest, Now: 1,
	})

	egress := tbl.Correlate(Event{
		ThreadKey: threadKey, SocketID: 5, CurrentFD: 5,
		Direction: wire.Egress, MsgType: wire.MsgResponse, Now: 2,
	})
	if egress.TraceID != 0 {
		t.Fatalf("same-socket egress: TraceID = %d, want 0", egress.TraceID)
	}

	if _, ok := tbl.Get(threadKey); !ok {
		t.Fatalf("same-socket egress: trace entry was deleted, want it preserved")
	}
}

func TestEgressWithNoPriorTraceEmitsZero(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	got := tbl.Correlate(Event{
		ThreadKey: Key(1, 99), SocketID: 3, CurrentFD: 3,
		Direction: wire.Egress, MsgType: wire.MsgResponse, Now: 1,
	})
	if got.TraceID != 0 {
		t.Fatalf("egress with no pre: TraceID = %d, want 0", got.TraceID)
	}
}

func TestIngressResponseAdoptsStoredPeerFD(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	threadKey := Key(1, 1)

	got := tbl.Correlate(Event{
		ThreadKey:    threadKey,
		SocketID:     9,
		CurrentFD:    9,
		Direction:    wire.Ingress,
		MsgType:      wire.MsgResponse,
		StoredPeerFD: 42,
		Now:          1,
	})
	if !got.SetPeerFD || got.PeerFD != 42 {
		t.Fatalf("Correlate = %+v, want SetPeerFD=true PeerFD=42", got)
	}
	if !got.PropagateToPeer || got.PeerSocketFD != 42 {
		t.Fatalf("Correlate = %+v, want PropagateToPeer=true PeerSocketFD=42", got)
	}
}

// TestInheritFiresOnResponseResponse pins spec.md §9's documented open
// question: the "matching pair" inheritance guard fires on any repeated
// (direction, msg_type) pair, including two consecutive RESPONSE events,
// not only REQUEST pipelining. This is preserved literally rather than
// "fixed", per the design note instructing implementers to keep the
// literal check and flag it as observable.
func TestInheritFiresOnResponseResponse(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	threadKey := Key(1, 7)

	first := tbl.Correlate(Event{
		ThreadKey: threadKey, SocketID: 3, CurrentFD: 3,
		Direction: wire.Ingress, MsgType: wire.MsgResponse, Now: 1,
	})

	second := tbl.Correlate(Event{
		ThreadKey:       threadKey,
		SocketID:        3,
		CurrentFD:       3,
		Direction:       wire.Ingress,
		MsgType:         wire.MsgResponse,
		StoredHadEntry:  true,
		StoredDirection: wire.Ingress,
		StoredMsgType:   wire.MsgResponse,
		Now:             2,
	})

	if second.TraceID != first.TraceID {
		t.Fatalf("inherit on RESPONSE-after-RESPONSE: second.TraceID = %d, want %d (inherited)", second.TraceID, first.TraceID)
	}
	if second.SetPeerFD {
		t.Fatalf("inherit on RESPONSE-after-RESPONSE: SetPeerFD = true, want false (inherit path skips the normal branch)")
	}
}

func TestReapIdleRemovesStaleTraceEntries(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	tbl.Correlate(Event{ThreadKey: Key(1, 1), SocketID: 1, CurrentFD: 1, Direction: wire.Ingress, MsgType: wire.MsgRequest, Now: 0})

	removed := tbl.ReapIdle(100, 10)
	if removed != 1 {
		t.Fatalf("ReapIdle removed %d, want 1", removed)
	}
	if tbl.ReapIdle(100, 10) != 0 {
		t.Fatalf("ReapIdle a second time: want idempotent no-op")
	}
}
