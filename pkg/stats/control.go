/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package stats

import (
	"encoding/json"
	"fmt"

	"github.com/rs/xid"
)

// Command names a control-protocol request. GetSocktraceShow is the only
// command; there is no set command. This package has no socket listener:
// DecodeRequest, Handle and EncodeResponse process frames the caller
// reads and writes itself.
type Command string

// GetSocktraceShow is the one documented command, spec.md §4.12's
// supplemented detail: it returns a Snapshot with socket_map_count,
// trace_map_count, the single adapt_success flag, the kernel and queue
// loss totals and the other Collector counters. It returns no per-CPU
// offset tables or per-CPU readiness.
const GetSocktraceShow Command = "GET_SOCKTRACE_SHOW"

// Request is one control-socket request frame. ID correlates a Response
// back to its Request across the socket, since multiple CLI clients may
// share one control connection.
type Request struct {
	ID      string  `json:"id"`
	Command Command `json:"command"`
}

// NewRequest builds a Request with a fresh correlation id. xid is used
// here (rather than the hot-path socket/trace id scheme in pkg/traceid)
// because this id only needs to be unique per control-socket exchange,
// not partitioned by CPU or orderable against kernel timestamps.
func NewRequest(cmd Command) Request {
	return Request{ID: xid.New().String(), Command: cmd}
}

// Response carries either Snapshot (on success) or Error (on failure),
// echoing the Request's ID.
type Response struct {
	ID       string    `json:"id"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Handle executes req against the Collector's current counters and
// builds the matching Response. Unknown commands produce an error
// Response rather than panicking the caller.
func (c *Collector) Handle(req Request) Response {
	switch req.Command {
	case GetSocktraceShow:
		snap := c.Show()
		return Response{ID: req.ID, Snapshot: &snap}
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("stats: unknown command %q", req.Command)}
	}
}

// EncodeResponse marshals resp as the JSON wire form sent back to the
// client.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeRequest parses one control-socket request frame.
func DecodeRequest(buf []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(buf, &req); err != nil {
		return Request{}, fmt.Errorf("stats: decoding control request: %w", err)
	}
	return req, nil
}
