/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package traceid

import "github.com/google/uuid"

// NewSessionID returns a random identifier for one control-protocol
// session. This is deliberately unrelated to
// Allocator: control-protocol sessions have no per-CPU ownership or
// monotonicity requirement, so a plain random UUID is the right tool here,
// while socket_id/thread_trace_id keep the spec's own cpu/boot-ns scheme.
func NewSessionID() string {
	return uuid.NewString()
}
