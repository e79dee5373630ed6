/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package wire implements the capture-record and batch-envelope wire
// layout from spec.md §6: the packed, little-endian format the kernel
// side (C7 Event Batcher) emits into the perf ring and the user side (C8
// Ring Reader) decodes. Encode/Decode are field-by-field with
// encoding/binary rather than an overlaid Go struct, so the wire size is
// exactly what spec.md names regardless of Go's own alignment rules.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Direction is capture-record bit 0 of flags.
type Direction uint8

const (
	Egress  Direction = 0
	Ingress Direction = 1
)

func (d Direction) String() string {
	if d == Ingress {
		return "INGRESS"
	}
	return "EGRESS"
}

// MsgType is capture-record bits 1-7 of flags.
type MsgType uint8

const (
	MsgUnknown MsgType = iota
	MsgRequest
	MsgResponse
	MsgPrestore
	MsgReconfirm
	MsgClear
)

func (m MsgType) String() string {
	switch m {
	case MsgRequest:
		return "REQUEST"
	case MsgResponse:
		return "RESPONSE"
	case MsgPrestore:
		return "PRESTORE"
	case MsgReconfirm:
		return "RECONFIRM"
	case MsgClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// Protocol is the application-layer protocol the external inferencer (C4)
// identified. Value 0 means not yet classified.
type Protocol uint16

const (
	ProtoUnknown Protocol = iota
	ProtoHTTP1
	ProtoMySQL
	ProtoRedis
	ProtoDNS
	ProtoDubbo
	ProtoKafka
)

// L4Protocol mirrors the kernel's IPPROTO_* numbering so the wire value
// needs no translation at either end.
type L4Protocol uint8

const (
	L4TCP L4Protocol = 6
	L4UDP L4Protocol = 17
)

// Tuple is the 5-tuple plus address-family length from spec.md §6.
type Tuple struct {
	DAddr      [16]byte
	SAddr      [16]byte
	AddrLen    uint8
	L4Protocol L4Protocol
	DPort      uint16 // converted from network order to the port value, per spec.md §4.3
	Num        uint16 // source port, host order
}

// MaxDataLen is the capture-record payload cap from spec.md §3 ("data_len
// (≤1024)").
const MaxDataLen = 1024

// RecordSize is the fixed encoded size of a Record: it never varies, since
// Data is always encoded at its full MaxDataLen capacity with DataLen
// marking how many of those bytes are meaningful. This is what lets C7
// pack a power-of-two buffer by simple record counting.
const RecordSize = 4 + 4 + 8 + 16 + /* pid,tgid,coroutine_id,comm */
	8 + /* socket_id */
	16 + 16 + 1 + 1 + 2 + 2 + /* tuple */
	4 + 4 + /* extra_data, extra_data_count */
	4 + 8 + /* tcp_seq, thread_trace_id */
	8 + 1 + /* timestamp, flags */
	8 + 8 + 2 + 2 + /* syscall_len, data_seq, data_type, data_len */
	MaxDataLen

// Record is the user-facing, Go-native form of spec.md §3's Capture
// Record. Immutable after Encode per the data model's invariant.
type Record struct {
	Pid         uint32
	Tgid        uint32
	CoroutineID uint64
	Comm        [16]byte

	SocketID uint64
	Tuple    Tuple

	ExtraData      uint32
	ExtraDataCount uint32

	TCPSeq        uint32
	ThreadTraceID uint64

	Timestamp uint64 // microseconds since Unix epoch, spec.md §6
	Direction Direction
	MsgType   MsgType

	SyscallLen uint64
	DataSeq    uint64 // this is capture_seq (spec.md §3's "capture_seq"), named data_seq on the wire
	DataType   Protocol
	DataLen    uint16
	Data       [MaxDataLen]byte
}

func (r *Record) flags() uint8 {
	return uint8(r.Direction&0x1) | (uint8(r.MsgType&0x7f) << 1)
}

func setFlags(r *Record, f uint8) {
	r.Direction = Direction(f & 0x1)
	r.MsgType = MsgType((f >> 1) & 0x7f)
}

// Encode appends the packed little-endian wire form of r to buf, returning
// the grown slice.
func (r *Record) Encode(buf []byte) []byte {
	var scratch [RecordSize]byte
	b := scratch[:0]

	b = binary.LittleEndian.AppendUint32(b, r.Pid)
	b = binary.LittleEndian.AppendUint32(b, r.Tgid)
	b = binary.LittleEndian.AppendUint64(b, r.CoroutineID)
	b = append(b, r.Comm[:]...)

	b = binary.LittleEndian.AppendUint64(b, r.SocketID)
	b = append(b, r.Tuple.DAddr[:]...)
	b = append(b, r.Tuple.SAddr[:]...)
	b = append(b, r.Tuple.AddrLen)
	b = append(b, byte(r.Tuple.L4Protocol))
	b = binary.LittleEndian.AppendUint16(b, r.Tuple.DPort)
	b = binary.LittleEndian.AppendUint16(b, r.Tuple.Num)

	b = binary.LittleEndian.AppendUint32(b, r.ExtraData)
	b = binary.LittleEndian.AppendUint32(b, r.ExtraDataCount)

	b = binary.LittleEndian.AppendUint32(b, r.TCPSeq)
	b = binary.LittleEndian.AppendUint64(b, r.ThreadTraceID)

	b = binary.LittleEndian.AppendUint64(b, r.Timestamp)
	b = append(b, r.flags())

	b = binary.LittleEndian.AppendUint64(b, r.SyscallLen)
	b = binary.LittleEndian.AppendUint64(b, r.DataSeq)
	b = binary.LittleEndian.AppendUint16(b, uint16(r.DataType))
	b = binary.LittleEndian.AppendUint16(b, r.DataLen)
	b = append(b, r.Data[:]...)

	if len(b) != RecordSize {
		panic(fmt.Sprintf("wire: encoded record is %d bytes, want %d", len(b), RecordSize))
	}
	return append(buf, b...)
}

// DecodeRecord parses one fixed-size Record from the front of buf,
// returning the remaining, undecoded bytes.
func DecodeRecord(buf []byte) (Record, []byte, error) {
	if len(buf) < RecordSize {
		return Record{}, buf, fmt.Errorf("wire: short buffer: have %d bytes, want %d", len(buf), RecordSize)
	}

	r := Record{}
	rd := bytes.NewReader(buf[:RecordSize])

	r.Pid = binary.LittleEndian.Uint32(next(rd, 4))
	r.Tgid = binary.LittleEndian.Uint32(next(rd, 4))
	r.CoroutineID = binary.LittleEndian.Uint64(next(rd, 8))
	copy(r.Comm[:], next(rd, 16))

	r.SocketID = binary.LittleEndian.Uint64(next(rd, 8))
	copy(r.Tuple.DAddr[:], next(rd, 16))
	copy(r.Tuple.SAddr[:], next(rd, 16))
	r.Tuple.AddrLen = next(rd, 1)[0]
	r.Tuple.L4Protocol = L4Protocol(next(rd, 1)[0])
	r.Tuple.DPort = binary.LittleEndian.Uint16(next(rd, 2))
	r.Tuple.Num = binary.LittleEndian.Uint16(next(rd, 2))

	r.ExtraData = binary.LittleEndian.Uint32(next(rd, 4))
	r.ExtraDataCount = binary.LittleEndian.Uint32(next(rd, 4))

	r.TCPSeq = binary.LittleEndian.Uint32(next(rd, 4))
	r.ThreadTraceID = binary.LittleEndian.Uint64(next(rd, 8))

	r.Timestamp = binary.LittleEndian.Uint64(next(rd, 8))
	setFlags(&r, next(rd, 1)[0])

	r.SyscallLen = binary.LittleEndian.Uint64(next(rd, 8))
	r.DataSeq = binary.LittleEndian.Uint64(next(rd, 8))
	r.DataType = Protocol(binary.LittleEndian.Uint16(next(rd, 2)))
	r.DataLen = binary.LittleEndian.Uint16(next(rd, 2))
	copy(r.Data[:], next(rd, MaxDataLen))

	return r, buf[RecordSize:], nil
}

// next reads exactly n bytes from rd. rd is always backed by a
// RecordSize-length slice already bounds-checked by the caller, so the
// read cannot fail.
func next(rd *bytes.Reader, n int) []byte {
	b := make([]byte, n)
	_, _ = rd.Read(b)
	return b
}
