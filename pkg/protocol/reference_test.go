/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package protocol

import (
	"testing"

	"github.com/xerra/socktracer/pkg/wire"
)

func TestInferHTTP1Request(t *testing.T) {
	r := NewReference()
	got := r.Infer([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), ConnContext{})
	if got.Protocol != wire.ProtoHTTP1 || got.MsgType != wire.MsgRequest {
		t.Fatalf("Infer = %+v, want {HTTP1, REQUEST}", got)
	}
}

func TestInferHTTP1Response(t *testing.T) {
	r := NewReference()
	got := r.Infer([]byte("HTTP/1.1 200 OK\r\n\r\n"), ConnContext{})
	if got.Protocol != wire.ProtoHTTP1 || got.MsgType != wire.MsgResponse {
		t.Fatalf("Infer = %+v, want {HTTP1, RESPONSE}", got)
	}
}

func TestInferDNSRequestResponse(t *testing.T) {
	r := NewReference()
	ctx := ConnContext{L4: wire.L4UDP}

	query := make([]byte, 12)
	query[5] = 1 // qdcount = 1
	got := r.Infer(query, ctx)
	if got.Protocol != wire.ProtoDNS || got.MsgType != wire.MsgRequest {
		t.Fatalf("Infer(query) = %+v, want {DNS, REQUEST}", got)
	}

	reply := make([]byte, 12)
	reply[2] = 0x80 // QR bit set
	reply[5] = 1
	got = r.Infer(reply, ctx)
	if got.Protocol != wire.ProtoDNS || got.MsgType != wire.MsgResponse {
		t.Fatalf("Infer(reply) = %+v, want {DNS, RESPONSE}", got)
	}
}

func TestInferDNSRequiresTCPL4ToBeSkipped(t *testing.T) {
	r := NewReference()
	query := make([]byte, 12)
	query[5] = 1
	got := r.Infer(query, ConnContext{L4: wire.L4TCP})
	if got.Protocol == wire.ProtoDNS {
		t.Fatalf("Infer over TCP matched DNS: %+v, want no match (DNS heuristic only runs for UDP)", got)
	}
}

func TestInferRedisCommandAndReply(t *testing.T) {
	r := NewReference()

	cmd := r.Infer([]byte("*1\r\n$4\r\nPING\r\n"), ConnContext{})
	if cmd.Protocol != wire.ProtoRedis || cmd.MsgType != wire.MsgRequest {
		t.Fatalf("Infer(command) = %+v, want {Redis, REQUEST}", cmd)
	}

	reply := r.Infer([]byte("+PONG\r\n"), ConnContext{})
	if reply.Protocol != wire.ProtoRedis || reply.MsgType != wire.MsgResponse {
		t.Fatalf("Infer(reply) = %+v, want {Redis, RESPONSE}", reply)
	}
}

func TestInferMySQLTwoReadPattern(t *testing.T) {
	r := NewReference()

	header := []byte{0x05, 0x00, 0x00, 0x00} // length=5, seq=0
	first := r.Infer(header, ConnContext{Role: RoleClient})
	if first.Protocol != wire.ProtoMySQL || first.MsgType != wire.MsgPrestore {
		t.Fatalf("Infer(header) = %+v, want {MySQL, PRESTORE}", first)
	}
	if len(first.Stash) != 4 {
		t.Fatalf("Infer(header).Stash = %v, want 4 stashed bytes", first.Stash)
	}

	body := []byte{0x03, 's', 'e', 'l'}
	second := r.Infer(body, ConnContext{Role: RoleClient, PrevData: first.Stash})
	if second.Protocol != wire.ProtoMySQL || second.MsgType != wire.MsgRequest {
		t.Fatalf("Infer(body) = %+v, want {MySQL, REQUEST}", second)
	}
	if second.ExtraDataCount != 4 {
		t.Fatalf("Infer(body).ExtraDataCount = %d, want 4", second.ExtraDataCount)
	}
	if second.ExtraData != [4]byte{0x05, 0x00, 0x00, 0x00} {
		t.Fatalf("Infer(body).ExtraData = %v, want stashed header bytes", second.ExtraData)
	}
}

func TestInferDubboRequest(t *testing.T) {
	r := NewReference()

	req := make([]byte, 16)
	copy(req[:2], []byte{0xda, 0xbb})
	req[2] = 0xc2 // request bit set
	reqID := uint64(42)
	for i := 0; i < 8; i++ {
		req[11-i] = byte(reqID >> (8 * i))
	}
	got := r.Infer(req, ConnContext{})
	if got.Protocol != wire.ProtoDubbo || got.MsgType != wire.MsgRequest || got.CorrelationID != 42 {
		t.Fatalf("Infer(dubbo request) = %+v, want {Dubbo, REQUEST, id=42}", got)
	}
}

func TestInferKafkaRequestFromClient(t *testing.T) {
	r := NewReference()
	buf := make([]byte, 8)
	buf[1] = 3 // api key = 3 (metadata)
	buf[7] = 99
	got := r.Infer(buf, ConnContext{Role: RoleClient})
	if got.Protocol != wire.ProtoKafka || got.MsgType != wire.MsgRequest || got.CorrelationID != 99 {
		t.Fatalf("Infer(kafka) = %+v, want {Kafka, REQUEST, id=99}", got)
	}
}

func TestInferUnknownFallsThrough(t *testing.T) {
	r := NewReference()
	got := r.Infer([]byte{0x00, 0x01, 0x02}, ConnContext{})
	if got.Protocol != wire.ProtoUnknown || got.MsgType != wire.MsgUnknown {
		t.Fatalf("Infer(garbage) = %+v, want {Unknown, UNKNOWN}", got)
	}
}
