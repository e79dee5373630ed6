/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package stage

import (
	"testing"
	"time"

	"github.com/xerra/socktracer/pkg/wire"
)

func TestAppendFillsToCapAndReportsFull(t *testing.T) {
	b := NewBuffer()
	base := time.Unix(1000, 0)

	var full bool
	for i := 0; i < wire.MaxRecordsPerEnvelope; i++ {
		full = b.Append(wire.Record{SocketID: uint64(i)}, base)
	}
	if !full {
		t.Fatalf("Append: full = false after %d records, want true", wire.MaxRecordsPerEnvelope)
	}
	if b.Len() != wire.MaxRecordsPerEnvelope {
		t.Fatalf("Len() = %d, want %d", b.Len(), wire.MaxRecordsPerEnvelope)
	}
}

func TestShouldFlushAgesOut(t *testing.T) {
	b := NewBuffer()
	base := time.Unix(1000, 0)
	b.Append(wire.Record{}, base)

	if b.ShouldFlush(base.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("ShouldFlush at 500ms: want false (under 1s threshold)")
	}
	if !b.ShouldFlush(base.Add(1500*time.Millisecond), time.Second) {
		t.Fatalf("ShouldFlush at 1.5s: want true (over 1s threshold)")
	}
}

func TestShouldFlushFalseWhenEmpty(t *testing.T) {
	b := NewBuffer()
	if b.ShouldFlush(time.Unix(1000, 0), time.Second) {
		t.Fatalf("ShouldFlush on empty buffer: want false")
	}
}

func TestFlushResetsBuffer(t *testing.T) {
	b := NewBuffer()
	now := time.Unix(1000, 0)
	b.Append(wire.Record{SocketID: 7}, now)

	env, ok := b.Flush()
	if !ok {
		t.Fatalf("Flush: ok = false, want true")
	}
	if len(env.Records) != 1 || env.Records[0].SocketID != 7 {
		t.Fatalf("Flush envelope = %+v, want one record with SocketID=7", env)
	}
	if b.Len() != 0 {
		t.Fatalf("Len() after Flush = %d, want 0", b.Len())
	}

	if _, ok := b.Flush(); ok {
		t.Fatalf("Flush on empty buffer: ok = true, want false")
	}
}

// TestAppendIovecsUsesFirstIovecLength pins spec.md §9's second documented
// open question: only iovecs[0].Len determines payloadLen, even when
// later iovecs contribute more bytes to the data window than that.
func TestAppendIovecsUsesFirstIovecLength(t *testing.T) {
	iovecs := []Iovec{
		{Base: []byte("GET /"), Len: 5},
		{Base: []byte(" HTTP/1.1\r\n"), Len: 11},
	}

	out, payloadLen := AppendIovecs(nil, iovecs)
	if payloadLen != 5 {
		t.Fatalf("payloadLen = %d, want 5 (iovecs[0].Len only)", payloadLen)
	}
	want := "GET / HTTP/1.1\r\n"
	if string(out) != want {
		t.Fatalf("out = %q, want %q (later iovec bytes still concatenated)", out, want)
	}
}

func TestAppendIovecsEmpty(t *testing.T) {
	out, payloadLen := AppendIovecs(nil, nil)
	if out != nil || payloadLen != 0 {
		t.Fatalf("AppendIovecs(nil): got (%v, %d), want (nil, 0)", out, payloadLen)
	}
}

func TestAppendIovecsClampsToMaxDataLen(t *testing.T) {
	big := make([]byte, wire.MaxDataLen+100)
	for i := range big {
		big[i] = 'x'
	}
	out, _ := AppendIovecs(nil, []Iovec{{Base: big, Len: len(big)}})
	if len(out) != wire.MaxDataLen {
		t.Fatalf("len(out) = %d, want clamped to %d", len(out), wire.MaxDataLen)
	}
}

func TestAppendIovecsLimitsCountToMaxIovecs(t *testing.T) {
	iovecs := make([]Iovec, MaxIovecs+5)
	for i := range iovecs {
		iovecs[i] = Iovec{Base: []byte{byte(i)}, Len: 1}
	}
	out, _ := AppendIovecs(nil, iovecs)
	if len(out) != MaxIovecs {
		t.Fatalf("len(out) = %d, want %d (only first MaxIovecs iovecs copied)", len(out), MaxIovecs)
	}
}
