/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package socktable

import (
	"testing"

	"github.com/xerra/socktracer/pkg/traceid"
	"github.com/xerra/socktracer/pkg/wire"
)

func fixedAllocator(id uint64) *traceid.Allocator {
	n := id * 100
	return traceid.NewAllocator(0, func() uint64 { return n })
}

func TestApplyFirstEventAllocatesUIDAndSeqOne(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(100, 3)

	out := tbl.Apply(key, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Proto: wire.ProtoHTTP1, Now: 10})
	if !out.Emit {
		t.Fatalf("Apply: Emit = false, want true")
	}
	if out.Seq != 1 {
		t.Fatalf("Apply: Seq = %d, want 1 (S1 scenario: first record is seq 1)", out.Seq)
	}
	if out.Entry.UID == 0 {
		t.Fatalf("Apply: UID = 0, want nonzero")
	}
}

func TestApplyScenarioS1HTTPRequestResponse(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(100, 3)

	req := tbl.Apply(key, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Proto: wire.ProtoHTTP1, Now: 10})
	resp := tbl.Apply(key, Update{Direction: wire.Ingress, MsgType: wire.MsgResponse, Proto: wire.ProtoHTTP1, Now: 11})

	if req.Seq != 1 || resp.Seq != 2 {
		t.Fatalf("S1: seqs = %d, %d, want 1, 2", req.Seq, resp.Seq)
	}
	if req.Entry.UID != resp.Entry.UID {
		t.Fatalf("S1: UID changed between request and response: %d != %d", req.Entry.UID, resp.Entry.UID)
	}
}

func TestApplyKeepsSeqOnMatchingConsecutivePair(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(100, 3)

	first := tbl.Apply(key, Update{Direction: wire.Ingress, MsgType: wire.MsgResponse, Now: 1})
	second := tbl.Apply(key, Update{Direction: wire.Ingress, MsgType: wire.MsgResponse, Now: 2})

	if first.Seq != second.Seq {
		t.Fatalf("keep_data_seq: seqs = %d, %d, want equal for matching consecutive pair", first.Seq, second.Seq)
	}
}

func TestApplyPrestoreDoesNotEmit(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(200, 4)

	out := tbl.Apply(key, Update{Direction: wire.Ingress, MsgType: wire.MsgPrestore, Stash: []byte{1, 2, 3, 4}, Now: 1})
	if out.Emit {
		t.Fatalf("Apply PRESTORE: Emit = true, want false")
	}

	e, ok := tbl.Get(key)
	if !ok {
		t.Fatalf("Get after PRESTORE: entry missing")
	}
	if len(e.PrevData) != 4 {
		t.Fatalf("Get after PRESTORE: PrevData = %v, want 4 stashed bytes", e.PrevData)
	}
}

func TestApplyReconfirmDoesNotEmit(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(200, 4)

	out := tbl.Apply(key, Update{Direction: wire.Ingress, MsgType: wire.MsgReconfirm, Now: 1})
	if out.Emit {
		t.Fatalf("Apply RECONFIRM: Emit = true, want false")
	}
	e, ok := tbl.Get(key)
	if !ok || !e.NeedReconfirm {
		t.Fatalf("Get after RECONFIRM: entry = %+v, ok=%v, want NeedReconfirm=true", e, ok)
	}
}

func TestApplyClearDeletesEntry(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(200, 4)

	tbl.Apply(key, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Now: 1})
	out := tbl.Apply(key, Update{MsgType: wire.MsgClear, Now: 2})
	if !out.Deleted {
		t.Fatalf("Apply CLEAR: Deleted = false, want true")
	}
	if _, ok := tbl.Get(key); ok {
		t.Fatalf("Get after CLEAR: entry still present")
	}
}

func TestScenarioS5CloseResetsSeqForNewSocketID(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(300, 3)

	first := tbl.Apply(key, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Now: 1})
	tbl.Delete(key) // close(fd)

	second := tbl.Apply(key, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Now: 5})
	if second.Seq != 1 {
		t.Fatalf("S5: seq after reopen = %d, want 1 (reset)", second.Seq)
	}
	if second.Entry.UID == first.Entry.UID {
		t.Fatalf("S5: UID unchanged after close/reopen, want a new socket_id")
	}
}

func TestReapIdleRemovesStaleEntries(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	stale := Key(1, 1)
	fresh := Key(1, 2)

	tbl.Apply(stale, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Now: 0})
	tbl.Apply(fresh, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Now: 100})

	removed := tbl.ReapIdle(100, 10)
	if removed != 1 {
		t.Fatalf("ReapIdle removed %d entries, want 1", removed)
	}
	if _, ok := tbl.Get(stale); ok {
		t.Fatalf("ReapIdle: stale entry still present")
	}
	if _, ok := tbl.Get(fresh); !ok {
		t.Fatalf("ReapIdle: fresh entry was removed")
	}
}

func TestReapIdleIsIdempotent(t *testing.T) {
	tbl := NewTable(fixedAllocator(1))
	key := Key(1, 1)
	tbl.Apply(key, Update{Direction: wire.Egress, MsgType: wire.MsgRequest, Now: 0})

	first := tbl.ReapIdle(100, 10)
	second := tbl.ReapIdle(100, 10)
	if first != 1 || second != 0 {
		t.Fatalf("ReapIdle twice = %d, %d, want 1, 0 (idempotent)", first, second)
	}
}
