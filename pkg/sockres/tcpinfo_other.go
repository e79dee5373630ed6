//go:build !linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package sockres

import "errors"

// ErrCongestionUnsupported is returned by InspectCongestion outside Linux,
// where there is no TCP_INFO getsockopt overlay to read.
var ErrCongestionUnsupported = errors.New("sockres: TCP_INFO congestion read unsupported on this platform")

// InspectCongestion is a non-Linux stub; pkg/linux's getsockopt(TCP_INFO)
// overlay only exists on Linux, matching pkg/kernel's and pkg/traceid's
// own Linux/other build splits.
func InspectCongestion(fd int) (CongestionInfo, error) {
	return CongestionInfo{}, ErrCongestionUnsupported
}
