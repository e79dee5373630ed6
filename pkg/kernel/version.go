/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package kernel answers the two questions the tracer lifecycle (C10) needs
// before it will leave INIT: is this kernel new enough to attach the probes
// spec.md §4.10 names, and does it carry BTF (so offsets come from CO-RE
// relocations instead of the runtime inference driver, spec.md §4.1)?
package kernel

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Version is a parsed `uname -r` release string, e.g. "5.15.0-91-generic"
// becomes {Major: 5, Minor: 15, Patch: 0}.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmp(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmp(v.Minor, o.Minor)
	default:
		return cmp(v.Patch, o.Patch)
	}
}

func (v Version) AtLeast(o Version) bool { return v.Compare(o) >= 0 }

func cmp(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Current reads and parses the running kernel's release string.
func Current() (Version, error) {
	u, err := uname()
	if err != nil {
		return Version{}, fmt.Errorf("kernel: uname: %w", err)
	}

	release := string(bytes.TrimRight(u.Release[:], "\x00"))
	return Parse(release)
}

// Parse extracts the leading "major.minor.patch" from an arbitrary release
// string, tolerating the distro suffixes (e.g. "-91-generic") that uname -r
// always carries on real hosts.
func Parse(release string) (Version, error) {
	fields := strings.FieldsFunc(release, func(r rune) bool {
		return r == '.' || r == '-'
	})

	var v Version
	for i, dst := range []*int{&v.Major, &v.Minor, &v.Patch} {
		if i >= len(fields) {
			break
		}
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			break
		}
		*dst = n
	}

	if v.Major == 0 {
		return Version{}, fmt.Errorf("kernel: cannot parse release %q", release)
	}
	return v, nil
}

// btfPath is where a CO-RE-capable kernel exposes its own BTF blob.
const btfPath = "/sys/kernel/btf/vmlinux"

// CORECapable reports whether this host can resolve struct offsets via BTF
// relocations at load time (spec.md §4.1). Nothing in this module calls it:
// pkg/tracer does not consult it and does not skip offset inference on its
// own; pkg/offsets.COREOffsets is the ready table for that case.
func CORECapable() bool {
	fi, err := os.Stat(btfPath)
	return err == nil && !fi.IsDir() && fi.Size() > 0
}
