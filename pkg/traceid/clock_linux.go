//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package traceid

import "golang.org/x/sys/unix"

// BootClock returns a Clock sourced from CLOCK_BOOTTIME, the same
// monotonic-since-boot timeline spec.md §6 uses for `sys_boot_time_ns`
// and capture-record timestamps.
func BootClock() Clock {
	return func() uint64 {
		var ts unix.Timespec
		if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
			return 0
		}
		return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
	}
}
