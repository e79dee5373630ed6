/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package offsets

import (
	"fmt"
	"net"
)

// LoopbackDriver is the "tiny loopback TCP server + one client per online
// CPU" spec.md §4.1 describes: a known, repeatable syscall pattern a
// Prober observes while evaluating candidate offsets.
type LoopbackDriver struct {
	ln net.Listener
}

// NewLoopbackDriver binds the fixed inference port spec.md §6 names:
// "a fixed configured TCP port on 127.0.0.1."
func NewLoopbackDriver(port int) (*LoopbackDriver, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("offsets: binding inference driver: %w", err)
	}
	return &LoopbackDriver{ln: ln}, nil
}

// Addr returns the bound loopback address, including the port actually
// chosen when NewLoopbackDriver was called with port 0.
func (d *LoopbackDriver) Addr() net.Addr { return d.ln.Addr() }

// Close stops the driver by closing its listener. pkg/tracer does not
// call it; the driver's owner closes it once offsets are ready.
func (d *LoopbackDriver) Close() error { return d.ln.Close() }

const probePayload = "offset-inference-probe"

// Exercise performs one round of the known syscall pattern: a client
// connects and writes a fixed payload, the server accepts and reads it.
// It returns both live connections so a Prober can resolve candidate
// offsets against their real fds and kernel socket state.
func (d *LoopbackDriver) Exercise() (server, client net.Conn, err error) {
	client, err = net.Dial("tcp", d.ln.Addr().String())
	if err != nil {
		return nil, nil, fmt.Errorf("offsets: dialing inference driver: %w", err)
	}

	server, err = d.ln.Accept()
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("offsets: accepting inference driver connection: %w", err)
	}

	if _, err := client.Write([]byte(probePayload)); err != nil {
		server.Close()
		client.Close()
		return nil, nil, fmt.Errorf("offsets: writing probe payload: %w", err)
	}

	buf := make([]byte, len(probePayload))
	if _, err := server.Read(buf); err != nil {
		server.Close()
		client.Close()
		return nil, nil, fmt.Errorf("offsets: reading probe payload: %w", err)
	}

	return server, client, nil
}

// Prober resolves a candidate offset to the neighboring field values its
// structural predicate needs. Production wires this against real
// probe-read output captured from a LoopbackDriver.Exercise() connection;
// tests supply a fake that encodes one synthetic struct layout.
type Prober interface {
	ProbeTaskFiles(candidate int) TaskFilesProbe
	ProbeSkFlags(candidate int) SkFlagsBits
	ProbeTCPCopiedSeq(candidate int) TCPCopiedSeqProbe
	ProbeTCPWriteSeq(candidate int) TCPWriteSeqProbe
}

// Infer walks each field's candidate table in order and keeps the first
// offset whose structural predicate passes. Table.Ready is set only once
// all four fields have been fixed, matching spec.md §4.1: "C1 sets
// offset.ready = 1 only when all four are fixed."
func Infer(p Prober) Table {
	var t Table

	for _, c := range TaskFilesCandidates {
		if MatchTaskFiles(p.ProbeTaskFiles(c)) {
			t.TaskFiles = c
			break
		}
	}
	for _, c := range SkFlagsCandidates {
		if MatchSkFlags(p.ProbeSkFlags(c)) {
			t.SkFlags = c
			break
		}
	}
	for _, c := range TCPCopiedSeqCandidates {
		if MatchTCPCopiedSeq(p.ProbeTCPCopiedSeq(c)) {
			t.TCPCopiedSeq = c
			break
		}
	}
	for _, c := range TCPWriteSeqCandidates {
		if MatchTCPWriteSeq(p.ProbeTCPWriteSeq(c)) {
			t.TCPWriteSeq = c
			break
		}
	}

	t.Ready = t.complete()
	return t
}

// COREOffsets is the Ready table used when the running kernel is
// CO-RE-capable (spec.md §4.1: "offsets are supplied by the loader's
// relocations and ready is set at load time"). Its numeric fields carry
// no meaning — BTF relocation happens in the loader, never here — callers
// must only consult Ready.
func COREOffsets() Table {
	return Table{Ready: true}
}

// GoRuntimeProber is InferGoRuntime's equivalent of Prober: one predicate
// check per Go-runtime candidate offset.
type GoRuntimeProber interface {
	ProbeGoid(candidate int) bool
	ProbeNetConnFD(candidate int) bool
	ProbeTLSConn(candidate int) bool
}

// InferGoRuntime fixes the Go-runtime offset sub-table the same way
// Infer fixes Table: first matching candidate wins, Ready only once every
// field is fixed.
func InferGoRuntime(p GoRuntimeProber) GoRuntimeTable {
	var g GoRuntimeTable

	for _, c := range GoidOffsetCandidates {
		if p.ProbeGoid(c) {
			g.GoidOffset = c
			break
		}
	}
	for _, c := range NetConnFDOffsetCandidates {
		if p.ProbeNetConnFD(c) {
			g.NetConnFDOffset = c
			break
		}
	}
	for _, c := range TLSConnOffsetCandidates {
		if p.ProbeTLSConn(c) {
			g.TLSConnOffset = c
			break
		}
	}

	g.Ready = g.complete()
	return g
}
