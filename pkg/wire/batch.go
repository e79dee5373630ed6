/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package wire

import (
	"encoding/binary"
	"fmt"
)

// EnvelopeSize is the fixed perf-ring submission size from spec.md §6: a
// power of two so the ring buffer never has to split a submission across
// its wraparound boundary.
const EnvelopeSize = 32768

// envelopeHeaderSize is events_num (u32) + len (u32).
const envelopeHeaderSize = 8

// EnvelopeDataSize is the usable payload behind the header.
const EnvelopeDataSize = EnvelopeSize - envelopeHeaderSize

// MaxRecordsPerEnvelope bounds how many records C7 will pack into one
// envelope before forcing a flush, per spec.md §4.7's batching cap.
const MaxRecordsPerEnvelope = 16

// Envelope is one perf-ring submission: a small header plus zero or more
// fixed-size Records, zero-padded to EnvelopeSize.
type Envelope struct {
	Records []Record
}

// Encode produces the exact EnvelopeSize-byte wire form: events_num, len
// (the byte length of the encoded records, not including header or
// padding), the records themselves, and zero padding out to EnvelopeSize.
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Records) > MaxRecordsPerEnvelope {
		return nil, fmt.Errorf("wire: %d records exceeds envelope cap of %d", len(e.Records), MaxRecordsPerEnvelope)
	}

	body := make([]byte, 0, len(e.Records)*RecordSize)
	for i := range e.Records {
		body = e.Records[i].Encode(body)
	}
	if len(body) > EnvelopeDataSize {
		return nil, fmt.Errorf("wire: %d bytes of records exceeds envelope data capacity of %d", len(body), EnvelopeDataSize)
	}

	out := make([]byte, EnvelopeSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(e.Records)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(body)))
	copy(out[envelopeHeaderSize:], body)
	return out, nil
}

// DecodeEnvelope parses an EnvelopeSize-byte perf-ring submission back into
// its Records.
func DecodeEnvelope(buf []byte) (Envelope, error) {
	if len(buf) != EnvelopeSize {
		return Envelope{}, fmt.Errorf("wire: envelope is %d bytes, want %d", len(buf), EnvelopeSize)
	}

	eventsNum := binary.LittleEndian.Uint32(buf[0:4])
	length := binary.LittleEndian.Uint32(buf[4:8])
	if int(length) > EnvelopeDataSize {
		return Envelope{}, fmt.Errorf("wire: envelope declares len %d, exceeds data capacity %d", length, EnvelopeDataSize)
	}

	body := buf[envelopeHeaderSize : envelopeHeaderSize+int(length)]
	records := make([]Record, 0, eventsNum)
	for i := uint32(0); i < eventsNum; i++ {
		var rec Record
		var err error
		rec, body, err = DecodeRecord(body)
		if err != nil {
			return Envelope{}, fmt.Errorf("wire: decoding record %d of %d: %w", i, eventsNum, err)
		}
		records = append(records, rec)
	}

	return Envelope{Records: records}, nil
}
