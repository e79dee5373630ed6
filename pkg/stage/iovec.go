/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package stage

import "github.com/xerra/socktracer/pkg/wire"

// Iovec mirrors one syscall iovec: a buffer already captured into Go
// memory plus its declared length, for the writev/readv/sendmmsg/
// recvmmsg assembly spec.md §4.7 describes.
type Iovec struct {
	Base []byte
	Len  int
}

// MaxIovecs is spec.md §4.7's "up to 12 iovecs are concatenated".
const MaxIovecs = 12

// AppendIovecs concatenates up to MaxIovecs buffers onto dst, clamped to
// wire.MaxDataLen total.
//
// Only the FIRST iovec's declared Len decides the returned payloadLen;
// later iovecs contribute their bytes to the data window but are never
// re-examined for their own length. This is spec.md §9's second
// documented open question ("only the first iovec's length is used to
// decide payload buffer; later iovecs are concatenated in data but not
// re-examined for length") — preserved literally rather than corrected,
// per the instruction to "preserve the behavior and document it."
func AppendIovecs(dst []byte, iovecs []Iovec) (out []byte, payloadLen int) {
	if len(iovecs) == 0 {
		return dst, 0
	}

	payloadLen = iovecs[0].Len

	n := len(iovecs)
	if n > MaxIovecs {
		n = MaxIovecs
	}

	out = dst
	for i := 0; i < n; i++ {
		room := wire.MaxDataLen - len(out)
		if room <= 0 {
			break
		}
		b := iovecs[i].Base
		if len(b) > room {
			b = b[:room]
		}
		out = append(out, b...)
	}
	return out, payloadLen
}
