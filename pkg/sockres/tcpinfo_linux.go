//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package sockres

import (
	"fmt"

	"github.com/xerra/socktracer/pkg/linux"
)

// InspectCongestion calls getsockopt(TCP_INFO) on a locally-owned TCP fd,
// the same overlay the teacher's Prometheus collector exposed per
// connection; here it augments a traced socket's entry with live
// congestion-control data alongside the classification InspectLocal
// already reports.
func InspectCongestion(fd int) (CongestionInfo, error) {
	info, err := linux.GetTCPInfo(fd)
	if err != nil {
		return CongestionInfo{}, fmt.Errorf("sockres: TCP_INFO on fd %d: %w", fd, err)
	}

	return CongestionInfo{
		State:       info.State,
		Retransmits: info.Retransmits,
		RTT:         info.RTT,
		RTTVar:      info.RTTVar,
		SndCWnd:     info.SndCWnd,
	}, nil
}
