/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package classify implements the Connection Classifier (C3): decides
// whether a resolved socket is an observable TCP or UDP connection over
// IPv4 or IPv6, and extracts its 5-tuple. See spec.md §4.3.
package classify

import (
	"encoding/binary"

	"github.com/xerra/socktracer/pkg/offsets"
	"github.com/xerra/socktracer/pkg/wire"
)

// Family mirrors the kernel's PF_INET/PF_INET6 distinction as read from
// skc_family.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyInet
	FamilyInet6
)

// State mirrors net/tcp_states.h's tcp_state enum. Only ESTABLISHED and
// CLOSE_WAIT are observable per spec.md §4.3; the rest exist so callers
// can pass a real skc_state value without translating it first.
type State uint8

const (
	StateEstablished State = 1
	StateSynSent     State = 2
	StateSynRecv     State = 3
	StateFinWait1    State = 4
	StateFinWait2    State = 5
	StateTimeWait    State = 6
	StateClose       State = 7
	StateCloseWait   State = 8
	StateLastAck     State = 9
	StateListen      State = 10
	StateClosing     State = 11
)

// Input is the raw, kernel-layout field set C3 reads to classify one
// socket, before any normalization.
type Input struct {
	Family   Family
	IPv6Only bool // the IPv6-only sockopt bit; ignored unless Family == FamilyInet6
	SockType offsets.SocketType
	TCPState State // only consulted when SockType == SockStream

	DAddr [16]byte
	SAddr [16]byte

	// DPortRaw is the destination port exactly as laid out in the kernel
	// socket struct: network byte order. SPort is already host byte
	// order in that same struct, matching spec.md §4.3's "source port is
	// host-order, matching kernel layout."
	DPortRaw [2]byte
	SPort    uint16
}

// Classify implements spec.md §4.3 verbatim: PF_INET6 with the v6-only
// bit clear is normalized to PF_INET (v4-mapped v6 treated as v4);
// SOCK_DGRAM is always UDP; SOCK_STREAM requires ESTABLISHED or
// CLOSE_WAIT, anything else is dropped. ok is false when the socket is
// not in an observable state.
func Classify(in Input) (t wire.Tuple, l4 wire.L4Protocol, ok bool) {
	family := in.Family
	if family == FamilyInet6 && !in.IPv6Only {
		family = FamilyInet
	}

	switch in.SockType {
	case offsets.SockDgram:
		l4 = wire.L4UDP
	case offsets.SockStream:
		if in.TCPState != StateEstablished && in.TCPState != StateCloseWait {
			return wire.Tuple{}, 0, false
		}
		l4 = wire.L4TCP
	default:
		return wire.Tuple{}, 0, false
	}

	addrLen := uint8(4)
	if family == FamilyInet6 {
		addrLen = 16
	}

	t = wire.Tuple{
		DAddr:      in.DAddr,
		SAddr:      in.SAddr,
		AddrLen:    addrLen,
		L4Protocol: l4,
		DPort:      binary.BigEndian.Uint16(in.DPortRaw[:]),
		Num:        in.SPort,
	}
	return t, l4, true
}
