/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package protocol defines the external Protocol Inferencer contract (C4)
// from spec.md §4.4 and ships one reference implementation covering the
// six protocols spec.md §1 names. spec.md treats infer_protocol as a
// black box with a named contract; this package is that contract plus a
// usable default, not the only legal implementation.
package protocol

import "github.com/xerra/socktracer/pkg/wire"

// Role is the socket-entry role spec.md §3 tracks (C5's `role` field),
// passed in so a protocol can distinguish a request from a response when
// the wire bytes alone are ambiguous (e.g. Redis RESP replies).
type Role uint8

const (
	RoleUnknown Role = iota
	RoleClient
	RoleServer
)

// ConnContext is the conn_ctx argument of spec.md §4.4's contract: enough
// connection state for a protocol to classify one buffer without its own
// persistent storage. PrevData carries the up-to-4 stashed bytes from a
// prior PRESTORE classification (spec.md §3: socket entry's `prev_data`).
type ConnContext struct {
	L4            wire.L4Protocol
	Role          Role
	PrevData      []byte
	CorrelationID uint64
}

// Result is infer_protocol's return value: {protocol, type}, plus the
// optional 4-byte extra_data prefix and updated correlation id spec.md §3
// and §4.4 describe.
type Result struct {
	Protocol       wire.Protocol
	MsgType        wire.MsgType
	ExtraData      [4]byte
	ExtraDataCount uint32
	CorrelationID  uint64
	// Stash carries bytes the caller must hold in the socket entry's
	// prev_data for the next call, set only when MsgType == PRESTORE.
	Stash []byte
}

// Inferencer is the external contract spec.md §4.4 names:
// "infer_protocol(buf, len, conn_ctx, sk_type, extra) -> {protocol, type}".
// len is simply len(buf) in this reimplementation, so it is not a
// separate parameter.
type Inferencer interface {
	Infer(buf []byte, ctx ConnContext) Result
}
