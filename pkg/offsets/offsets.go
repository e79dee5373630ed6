/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package offsets implements the Offset Inferencer (C1): discovering, at
// runtime, the byte offsets of the four kernel-struct fields the socket
// and connection layer need to read directly, because those offsets move
// between kernel versions and builds. See candidates.go for the
// hard-coded per-version guesses and predicates.go for the structural
// checks spec.md §4.1 requires beyond plain non-zero tests.
package offsets

import "sync"

// SocketType mirrors the kernel's SOCK_STREAM/SOCK_DGRAM distinction,
// the only two socket.type values spec.md §4.1/§4.3 treat as observable.
type SocketType uint16

const (
	SockUnknown SocketType = 0
	SockStream  SocketType = 1
	SockDgram   SocketType = 2
)

// Table is the per-CPU offset record from spec.md §3: "a per-CPU record
// containing byte offsets for: task.files, sock.__sk_flags,
// tcp_sock.copied_seq, tcp_sock.write_seq; plus a ready flag." Once Ready
// is true the fields are treated as immutable per spec.md §9's design
// note ("avoid mutating it from hooks after the ready transition").
type Table struct {
	TaskFiles    int
	SkFlags      int
	TCPCopiedSeq int
	TCPWriteSeq  int
	Ready        bool
}

// complete reports whether every field the inference driver is
// responsible for has been fixed.
func (t Table) complete() bool {
	return t.TaskFiles != 0 && t.SkFlags != 0 && t.TCPCopiedSeq != 0 && t.TCPWriteSeq != 0
}

// GoRuntimeTable is the supplemented offset sub-table from SPEC_FULL's
// Go-runtime addition: the byte offsets needed to read a goroutine id and
// to follow a net.Conn or crypto/tls.Conn down to its raw fd. Independent
// readiness from Table — a traced process may be a Go binary (this table
// applies) or not (it never will, and trace correlation runs unaffected).
type GoRuntimeTable struct {
	GoidOffset      int
	NetConnFDOffset int
	TLSConnOffset   int
	Ready           bool
}

func (g GoRuntimeTable) complete() bool {
	return g.GoidOffset != 0 && g.NetConnFDOffset != 0 && g.TLSConnOffset != 0
}

// Broadcaster holds one Table and one GoRuntimeTable per CPU; Broadcast
// and BroadcastGoRuntime each copy one kind of table to every CPU once a
// single CPU's driver run completes it (spec.md §4.1:
// "once any online CPU is ready it broadcasts its offsets to all
// entries"). Reads and writes are synchronized because, unlike the real
// per-CPU eBPF maps, this reimplementation's driver goroutines are not
// actually pinned to exclusive hardware threads.
type Broadcaster struct {
	mu      sync.RWMutex
	cpus    []Table
	goCPUs  []GoRuntimeTable
	goReady bool
}

// NewBroadcaster allocates storage for numCPU entries, matching
// runtime.NumCPU() (or a fixed count in tests).
func NewBroadcaster(numCPU int) *Broadcaster {
	return &Broadcaster{
		cpus:   make([]Table, numCPU),
		goCPUs: make([]GoRuntimeTable, numCPU),
	}
}

// Broadcast copies t into every CPU slot and marks them ready, matching
// spec.md §4.1's lifecycle step that runs once before C10 detaches the
// inference driver.
func (b *Broadcaster) Broadcast(t Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.Ready = true
	for i := range b.cpus {
		b.cpus[i] = t
	}
}

// BroadcastGoRuntime does the Go-runtime table's equivalent of Broadcast.
func (b *Broadcaster) BroadcastGoRuntime(g GoRuntimeTable) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g.Ready = true
	b.goReady = true
	for i := range b.goCPUs {
		b.goCPUs[i] = g
	}
}

// ForCPU returns the offset table currently visible to the given CPU
// index. Before the first Broadcast this is the zero Table (Ready false).
func (b *Broadcaster) ForCPU(cpu int) Table {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cpu < 0 || cpu >= len(b.cpus) {
		return Table{}
	}
	return b.cpus[cpu]
}

// GoRuntimeForCPU is ForCPU's Go-runtime-table equivalent.
func (b *Broadcaster) GoRuntimeForCPU(cpu int) GoRuntimeTable {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cpu < 0 || cpu >= len(b.goCPUs) {
		return GoRuntimeTable{}
	}
	return b.goCPUs[cpu]
}

// AnyReady reports whether at least one CPU's offsets are ready, the
// condition C10 polls to decide whether to transition INIT -> RUNNING.
func (b *Broadcaster) AnyReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.cpus {
		if b.cpus[i].Ready {
			return true
		}
	}
	return false
}
