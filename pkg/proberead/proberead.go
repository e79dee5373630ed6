/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package proberead is the single seam every other tracking-core package
// goes through to read a field out of a captured kernel-struct byte window.
// spec.md §9 calls for exactly this: "a single typed helper with a
// compile-time size and a runtime fault count; all struct-field access
// goes through it." It generalizes the overlay technique
// github.com/xerra/socktracer/pkg/linux already uses for tcp_info
// (unsafe.Pointer over a fixed-layout byte array) to an arbitrary,
// bounds-checked offset into an arbitrary window.
package proberead

import "unsafe"

// Window is a bounded byte slice standing in for a region of kernel memory
// a probe read (bpf_probe_read_kernel, in the real eBPF program) copied out.
// In this reimplementation a Window is produced either by the C1 offset
// driver's own loopback sockets or, in tests, by a synthetic byte layout.
type Window []byte

// Reader wraps a Window with a fault counter, so a long-running tracer can
// report BadProbeRead (spec.md §7) as a statistic instead of a crash.
type Reader struct {
	w      Window
	faults uint64
}

func NewReader(w Window) *Reader {
	return &Reader{w: w}
}

// Faults returns the number of out-of-bounds reads attempted so far.
func (r *Reader) Faults() uint64 { return r.faults }

// Read copies sizeof(T) bytes from w at the given offset and reinterprets
// them as T. It never panics: an out-of-bounds offset increments the fault
// counter and returns the zero value, mirroring the silent-drop semantics
// spec.md §7 requires of BadProbeRead.
func Read[T any](r *Reader, offset int) T {
	var zero, out T
	size := int(unsafe.Sizeof(zero))

	if offset < 0 || offset+size > len(r.w) {
		r.faults++
		return zero
	}

	out = *(*T)(unsafe.Pointer(&r.w[offset]))
	return out
}

// ReadBytes copies n bytes from w at offset, bounds-checked the same way as
// Read. Used for fields like comm[16] that aren't scalar.
func (r *Reader) ReadBytes(offset, n int) []byte {
	if offset < 0 || n < 0 || offset+n > len(r.w) {
		r.faults++
		return nil
	}
	out := make([]byte, n)
	copy(out, r.w[offset:offset+n])
	return out
}

// Len reports the size of the underlying window.
func (r *Reader) Len() int { return len(r.w) }
