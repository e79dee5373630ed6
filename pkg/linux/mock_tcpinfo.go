//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package linux

// MockSetFields packs the four bitfield-backed members of RawTCPInfo,
// for tests that need a populated struct without a live getsockopt call.
func (packed *RawTCPInfo) MockSetFields(
	SndWScale uint8,
	RcvWScale uint8,
	DeliveryRateAppLimited bool,
	FastOpenClientFail uint8,
) {
	packed.bitfield0 = (SndWScale & 0x0f) | (RcvWScale << 4)

	packed.bitfield1 = FastOpenClientFail & 0x3 << 1
	if DeliveryRateAppLimited {
		packed.bitfield1 |= 1
	}
}
