//go:build !linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package traceid

import "time"

// BootClock falls back to a process-relative monotonic clock on platforms
// without CLOCK_BOOTTIME. The tracer itself is Linux-only (spec.md §1's
// kernel probes have no other target), so this exists only so the package
// builds and tests run on a development machine.
func BootClock() Clock {
	start := time.Now()
	return func() uint64 {
		return uint64(time.Since(start))
	}
}
