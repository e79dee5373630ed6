//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package kernel

import "golang.org/x/sys/unix"

func uname() (*utsName, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return nil, err
	}

	var r [65]byte
	copy(r[:], u.Release[:])
	return &utsName{Release: r}, nil
}
