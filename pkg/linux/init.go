//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package linux

import (
	"fmt"

	"github.com/docker/docker/pkg/parsers/kernel"
)

// minKernel is the lowest kernel this tcp_info overlay was validated
// against. Below it, fields silently read garbage rather than the
// zero-value-with-warning the rest of this package assumes.
const minKernel = 5
const minKernelMajor = 4
const minKernelMinor = 0

var linuxKernelVersion *kernel.VersionInfo

// ensureLoaded populates linuxKernelVersion from a real uname(2) call the
// first time it's needed. Tests bypass this by assigning linuxKernelVersion
// directly before calling CheckKernelVersion, exactly as the teacher's own
// tcpinfo_test.go does, so a real load never overwrites the fixture.
func ensureLoaded() {
	if linuxKernelVersion == nil {
		linuxKernelVersion, _ = kernel.GetKernelVersion()
	}
}

// EnsureMinimumKernel returns a non-nil error if the running kernel is older
// than this package's validated minimum, or if the kernel version could not
// be read at all. It returns an error instead of panicking in a package
// init(), since a library must never abort its importer's process. The
// tracer's own startup gate (KernelTooOld) does not call it; cmd/tracer
// checks the kernel through pkg/kernel instead.
func EnsureMinimumKernel() error {
	ensureLoaded()
	if linuxKernelVersion == nil {
		return fmt.Errorf("linux: could not read kernel version")
	}
	if !CheckKernelVersion(minKernel, minKernelMajor, minKernelMinor) {
		return fmt.Errorf("linux: kernel too old (want >= %d.%d.%d, got %d.%d.%d)",
			minKernel, minKernelMajor, minKernelMinor,
			linuxKernelVersion.Kernel, linuxKernelVersion.Major, linuxKernelVersion.Minor)
	}
	return nil
}

func CheckKernelVersion(k, major, minor int) bool {
	ensureLoaded()
	if linuxKernelVersion == nil {
		return false
	}
	return kernel.CompareKernelVersion(*linuxKernelVersion, kernel.VersionInfo{Kernel: k, Major: major, Minor: minor}) >= 0
}
