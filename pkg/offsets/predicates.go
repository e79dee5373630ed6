/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package offsets

// TaskFilesProbe is what a candidate task.files offset resolves to, once
// the driver has walked files_struct -> fdt -> fd[fd] -> file ->
// private_data for that one candidate. The sub-offsets of files_struct,
// fdtable and file are treated as stable across the supported kernel
// range (only the four top-level fields in Table are being inferred, per
// spec.md §3); a real probe-read driver fills this in per candidate.
type TaskFilesProbe struct {
	FDSlotMatchesSyscallFD bool // fdt.fd[fd] == the fd this syscall is operating on
	PrivateDataIsSocket    bool // file.private_data, reinterpreted as *socket, looks valid
	SocketBackPointerOK    bool // socket.file == file, or (kernel >= 5.3) socket.wq == file's old wq slot
	SocketType             SocketType
}

// MatchTaskFiles implements spec.md §4.1's task.files predicate: "the
// candidate points to a files_struct whose fdt.fd[fd] matches the current
// syscall's fd AND whose file.private_data is a socket whose file
// back-pointer matches ... AND whose type is STREAM or DGRAM."
func MatchTaskFiles(p TaskFilesProbe) bool {
	if !p.FDSlotMatchesSyscallFD || !p.PrivateDataIsSocket || !p.SocketBackPointerOK {
		return false
	}
	return p.SocketType == SockStream || p.SocketType == SockDgram
}

// SkFlagsBits is the bitfield layout spec.md §4.1 names for sock.__sk_flags:
// "{padding:1, kern_sock:1, ..., protocol:8, type:16}".
type SkFlagsBits struct {
	Padding  uint8
	KernSock uint8
	Type     SocketType
}

// MatchSkFlags implements spec.md §4.1's sock.__sk_flags predicate:
// "padding==0, kern_sock==0, type in {STREAM, DGRAM}".
func MatchSkFlags(b SkFlagsBits) bool {
	if b.Padding != 0 || b.KernSock != 0 {
		return false
	}
	return b.Type == SockStream || b.Type == SockDgram
}

// TCPCopiedSeqProbe carries the neighboring-field values a tcp_sock
// candidate offset resolves to.
type TCPCopiedSeqProbe struct {
	CopiedSeq     uint32
	RcvNxt        uint32 // at candidate - 4
	RcvWup        uint32 // at candidate + 4
	TCPHeaderLen  uint32 // at candidate - 28
}

// MatchTCPCopiedSeq implements spec.md §4.1's tcp_sock.copied_seq
// predicate: "adjacent rcv_nxt at offset-4 equals candidate AND rcv_wup
// at offset+4 equals it AND tcp_header_len at offset-28 in [20,60] AND
// value != 0."
func MatchTCPCopiedSeq(p TCPCopiedSeqProbe) bool {
	if p.CopiedSeq == 0 {
		return false
	}
	if p.RcvNxt != p.CopiedSeq || p.RcvWup != p.CopiedSeq {
		return false
	}
	return p.TCPHeaderLen >= 20 && p.TCPHeaderLen <= 60
}

// TCPWriteSeqProbe carries the neighboring-field value a write_seq
// candidate offset resolves to.
type TCPWriteSeqProbe struct {
	WriteSeq uint32
	SndNxt   uint32
}

// MatchTCPWriteSeq implements spec.md §4.1's tcp_sock.write_seq
// predicate: "snd_nxt == write_seq AND both != 0."
func MatchTCPWriteSeq(p TCPWriteSeqProbe) bool {
	return p.WriteSeq != 0 && p.SndNxt != 0 && p.SndNxt == p.WriteSeq
}
