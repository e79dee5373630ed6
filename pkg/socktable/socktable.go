/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package socktable implements the Socket State Table (C5): one record
// per (tgid,fd) carrying protocol classification, capture sequence, and
// cross-socket linkage, per spec.md §3/§4.5.
package socktable

import (
	"sync"

	"github.com/xerra/socktracer/pkg/protocol"
	"github.com/xerra/socktracer/pkg/sockres"
	"github.com/xerra/socktracer/pkg/traceid"
	"github.com/xerra/socktracer/pkg/wire"
)

// Key packs (tgid,fd) into the Socket State Table's key, per spec.md §3:
// "keyed by (tgid<<32)|fd".
func Key(tgid uint32, fd int32) uint64 {
	return uint64(tgid)<<32 | uint64(uint32(fd))
}

// Entry is one Socket Entry from spec.md §3.
type Entry struct {
	UID           uint64
	Proto         wire.Protocol
	Seq           uint64
	Direction     wire.Direction
	MsgType       wire.MsgType
	Role          protocol.Role
	NeedReconfirm bool
	CorrelationID uint64
	PeerFD        int32
	PrevData      []byte
	TraceID       uint64
	UpdateTime    uint64 // seconds since boot, per spec.md §3
	Congestion    sockres.CongestionInfo
}

// Update is one classified event about to be applied to the table.
type Update struct {
	Direction     wire.Direction
	MsgType       wire.MsgType
	Proto         wire.Protocol
	Role          protocol.Role
	CorrelationID uint64
	Stash         []byte // non-nil only when MsgType == wire.MsgPrestore
	Now           uint64
}

// Outcome reports what the caller should do with the event that produced
// it: whether to emit a capture record, and at what sequence number.
type Outcome struct {
	Emit    bool
	Seq     uint64
	Entry   Entry
	Deleted bool
}

// Table is the Socket State Table: a live map guarded by a single mutex.
// Unlike the kernel-side hash map spec.md §5 describes (shared across
// CPUs, relying on the eBPF map's own locking), this reimplementation's
// goroutines are not pinned to exclusive per-CPU execution, so an
// explicit mutex stands in for that guarantee.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
	alloc   *traceid.Allocator
}

// NewTable constructs an empty table. alloc mints the `uid` spec.md §3
// calls "assigned once and stable".
func NewTable(alloc *traceid.Allocator) *Table {
	return &Table{entries: make(map[uint64]*Entry), alloc: alloc}
}

// Get returns a snapshot of the entry at key, if any.
func (t *Table) Get(key uint64) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Apply implements spec.md §4.5's update policy for one classified
// event. PRESTORE and RECONFIRM create/refresh the entry without
// emitting, per steps 3-4; CLEAR deletes the entry, per step 5; anything
// else advances seq by one unless the carrier's (direction, msg_type)
// pair is unchanged from what's already stored, the `keep_data_seq`
// condition from spec.md §3.
func (t *Table) Apply(key uint64, u Update) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.MsgType == wire.MsgClear {
		delete(t.entries, key)
		return Outcome{Deleted: true}
	}

	e, exists := t.entries[key]
	if !exists {
		e = &Entry{UID: t.alloc.Next()}
		t.entries[key] = e
	}

	switch u.MsgType {
	case wire.MsgPrestore:
		e.PrevData = u.Stash
		e.Direction = u.Direction
		e.MsgType = u.MsgType
		e.Proto = u.Proto
		e.Role = u.Role
		e.UpdateTime = u.Now
		return Outcome{Entry: *e}
	case wire.MsgReconfirm:
		e.NeedReconfirm = true
		e.Direction = u.Direction
		e.MsgType = u.MsgType
		e.Proto = u.Proto
		e.Role = u.Role
		e.UpdateTime = u.Now
		return Outcome{Entry: *e}
	}

	keepDataSeq := exists && e.Direction == u.Direction && e.MsgType == u.MsgType
	if !keepDataSeq {
		e.Seq++
	}

	e.Direction = u.Direction
	e.MsgType = u.MsgType
	e.Proto = u.Proto
	e.Role = u.Role
	e.CorrelationID = u.CorrelationID
	e.NeedReconfirm = false
	e.PrevData = nil
	e.UpdateTime = u.Now

	return Outcome{Emit: true, Seq: e.Seq, Entry: *e}
}

// Delete removes the entry at key unconditionally, the close(fd) path of
// spec.md §4.5 step 5.
func (t *Table) Delete(key uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Len reports the number of live entries, used by pkg/stats for the
// `socket_map_count` counter.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops every entry, used by the RUNNING -> STOP transition
// (spec.md §4.10: "clear the socket table (forced 0 idle-time reclaim)").
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[uint64]*Entry)
}

// RefreshCongestion reads live TCP_INFO congestion/RTT data for fd via
// pkg/sockres and stores it on the entry at key, augmenting the
// classification fields with data spec.md §9 notes the offset-inference
// path can't reach (tcp_sock's sequence counters aren't exposed via
// TCP_INFO, but loss-recovery state and RTT are). Returns
// sockres.InspectCongestion's error if TCP_INFO cannot be read from fd; a
// no-op if key has no live entry.
func (t *Table) RefreshCongestion(key uint64, fd int) error {
	info, err := sockres.InspectCongestion(fd)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.Congestion = info
	}
	return nil
}

// PeerFD returns the stored peer_fd for key, the linkage pkg/tracecorr
// reads to decide whether to propagate a trace id to a paired socket.
func (t *Table) PeerFD(key uint64) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return 0, false
	}
	return e.PeerFD, true
}

// SetPeerFD records the fd a paired message is expected on.
func (t *Table) SetPeerFD(key uint64, fd int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.PeerFD = fd
	}
}

// SetTraceID writes a trace id into the entry at key, the propagation
// spec.md §4.6 describes: "also write the current thread_trace_id into
// the peer socket's entry so that the peer's next EGRESS can pick it up."
func (t *Table) SetTraceID(key uint64, traceID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.TraceID = traceID
	}
}

// ReapIdle deletes every entry whose UpdateTime is more than maxIdleSec
// older than nowSec, the socket-table half of the Map Reclaimer (C9).
// Returns the number of entries removed.
func (t *Table) ReapIdle(nowSec, maxIdleSec uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if nowSec-e.UpdateTime > maxIdleSec {
			delete(t.entries, k)
			n++
		}
	}
	return n
}
