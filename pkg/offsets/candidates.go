/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package offsets

// Candidate offset tables, one hard-coded guess per kernel ABI revision
// the inference driver has been validated against. These mirror the
// per-kernel-version candidate arrays the original tracer's symbol-offset
// table carries (original_source's task_struct/sock/tcp_sock candidate
// lists); the exact numeric values are representative placeholders for
// this reimplementation, not a byte-for-byte transcription of any single
// kernel's pahole output.

// TaskFilesCandidates are byte offsets of task_struct.files across the
// supported kernel range.
var TaskFilesCandidates = []int{0x3f0, 0x420, 0x468, 0x500}

// SkFlagsCandidates are byte offsets of the __sk_flags bitfield within
// struct sock.
var SkFlagsCandidates = []int{0x110, 0x118, 0x128}

// TCPCopiedSeqCandidates are byte offsets of tcp_sock.copied_seq.
var TCPCopiedSeqCandidates = []int{0x670, 0x690, 0x6a8, 0x6c8}

// TCPWriteSeqCandidates are byte offsets of tcp_sock.write_seq.
var TCPWriteSeqCandidates = []int{0x6d0, 0x6f0, 0x708, 0x728}

// GoidOffsetCandidates are byte offsets of runtime.g.goid across recent
// Go toolchain releases.
var GoidOffsetCandidates = []int{0x98, 0xa0}

// NetConnFDOffsetCandidates are byte offsets to walk from a net.Conn's
// concrete *net.TCPConn down to its embedded netFD.pfd.Sysfd. Zero is
// deliberately excluded: GoRuntimeTable.complete treats a zero offset as
// "not yet found", so a field whose true offset is 0 cannot be
// represented here.
var NetConnFDOffsetCandidates = []int{0x8, 0x10}

// TLSConnOffsetCandidates are byte offsets of crypto/tls.Conn.conn, the
// embedded net.Conn a TLS-terminating Go process wraps.
var TLSConnOffsetCandidates = []int{0x8}
