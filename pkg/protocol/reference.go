/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/xerra/socktracer/pkg/wire"
)

// Reference is the default Inferencer: a small battery of per-protocol
// heuristics tried in a fixed order, grounded on each protocol's wire
// shape rather than port numbers. The order matters only in that MySQL's
// two-read PRESTORE pattern must be checked before any generic
// short-buffer fallback.
type Reference struct{}

func NewReference() *Reference { return &Reference{} }

var (
	httpRequestPrefixes = [][]byte{
		[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("HEAD "),
		[]byte("DELETE "), []byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "), []byte("TRACE "),
	}
	httpResponsePrefix = []byte("HTTP/1.")
	dubboMagic         = []byte{0xda, 0xbb}
)

// Infer tries, in order: HTTP/1, Dubbo, DNS, Redis, MySQL, Kafka. The
// first protocol whose shape matches wins; an unmatched buffer returns
// {ProtoUnknown, MsgUnknown}.
func (r *Reference) Infer(buf []byte, ctx ConnContext) Result {
	if res, ok := inferHTTP1(buf); ok {
		return res
	}
	if res, ok := inferDubbo(buf); ok {
		return res
	}
	if ctx.L4 == wire.L4UDP {
		if res, ok := inferDNS(buf); ok {
			return res
		}
	}
	if res, ok := inferRedis(buf, ctx); ok {
		return res
	}
	if res, ok := inferMySQL(buf, ctx); ok {
		return res
	}
	if res, ok := inferKafka(buf, ctx); ok {
		return res
	}
	return Result{Protocol: wire.ProtoUnknown, MsgType: wire.MsgUnknown}
}

func inferHTTP1(buf []byte) (Result, bool) {
	for _, p := range httpRequestPrefixes {
		if bytes.HasPrefix(buf, p) {
			return Result{Protocol: wire.ProtoHTTP1, MsgType: wire.MsgRequest}, true
		}
	}
	if bytes.HasPrefix(buf, httpResponsePrefix) {
		return Result{Protocol: wire.ProtoHTTP1, MsgType: wire.MsgResponse}, true
	}
	return Result{}, false
}

// inferDubbo recognizes the Apache Dubbo 16-byte frame header: 2-byte
// magic, 1 flag byte whose high bit distinguishes request (1) from
// response (0), and an 8-byte correlation id at offset 4.
func inferDubbo(buf []byte) (Result, bool) {
	if len(buf) < 16 || !bytes.HasPrefix(buf, dubboMagic) {
		return Result{}, false
	}
	flag := buf[2]
	correlationID := binary.BigEndian.Uint64(buf[4:12])

	mt := wire.MsgResponse
	if flag&0x80 != 0 {
		mt = wire.MsgRequest
	}
	return Result{Protocol: wire.ProtoDubbo, MsgType: mt, CorrelationID: correlationID}, true
}

// inferDNS recognizes a 12-byte-or-longer DNS header and reads the QR
// bit (the high bit of the flags byte at offset 2).
func inferDNS(buf []byte) (Result, bool) {
	if len(buf) < 12 {
		return Result{}, false
	}
	qdcount := binary.BigEndian.Uint16(buf[4:6])
	if qdcount == 0 || qdcount > 64 {
		return Result{}, false
	}
	mt := wire.MsgRequest
	if buf[2]&0x80 != 0 {
		mt = wire.MsgResponse
	}
	return Result{Protocol: wire.ProtoDNS, MsgType: mt}, true
}

// inferRedis recognizes a RESP frame by its leading sigil. '*' (array)
// is how every Redis command is sent, so it is always a REQUEST; the
// scalar reply sigils ('+', '-', ':', '$') are always a RESPONSE.
func inferRedis(buf []byte, ctx ConnContext) (Result, bool) {
	if len(buf) == 0 {
		return Result{}, false
	}
	switch buf[0] {
	case '*':
		return Result{Protocol: wire.ProtoRedis, MsgType: wire.MsgRequest}, true
	case '+', '-', ':', '$':
		return Result{Protocol: wire.ProtoRedis, MsgType: wire.MsgResponse}, true
	}
	return Result{}, false
}

// inferMySQL implements spec.md's S3 scenario: the first read of exactly
// a 4-byte packet header (3-byte little-endian length, 1-byte sequence
// id) is stashed via PRESTORE; the following read, carrying the body,
// combines with the stashed header to emit one record with extra_data
// set to the stashed header bytes.
func inferMySQL(buf []byte, ctx ConnContext) (Result, bool) {
	if len(ctx.PrevData) == 4 {
		var extra [4]byte
		copy(extra[:], ctx.PrevData)
		mt := wire.MsgResponse
		if ctx.Role == RoleClient {
			mt = wire.MsgRequest
		}
		return Result{
			Protocol:       wire.ProtoMySQL,
			MsgType:        mt,
			ExtraData:      extra,
			ExtraDataCount: 4,
		}, true
	}

	if len(buf) != 4 {
		return Result{}, false
	}
	length := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
	if length == 0 || length > 1<<24 {
		return Result{}, false
	}
	stash := make([]byte, 4)
	copy(stash, buf)
	return Result{Protocol: wire.ProtoMySQL, MsgType: wire.MsgPrestore, Stash: stash}, true
}

// inferKafka implements the request/response header shape: a 4-byte
// correlation id at offset 4, preceded by a 2-byte api key and 2-byte
// api version on the request side. Without a live outstanding-request
// table this heuristic can only use Role to decide REQUEST vs RESPONSE;
// a full implementation would reconcile CorrelationID against
// pkg/socktable's socket entry, which owns the outstanding-request state.
func inferKafka(buf []byte, ctx ConnContext) (Result, bool) {
	if len(buf) < 8 {
		return Result{}, false
	}
	apiKey := binary.BigEndian.Uint16(buf[0:2])
	if ctx.Role != RoleClient || apiKey > 70 {
		return Result{}, false
	}
	correlationID := uint64(binary.BigEndian.Uint32(buf[4:8]))
	return Result{Protocol: wire.ProtoKafka, MsgType: wire.MsgRequest, CorrelationID: correlationID}, true
}
