/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package ring implements the Ring Reader & Dispatcher (C8): draining the
// perf ring, splitting socket-data batches into individual records, and
// hashing each into one of N worker queues, per spec.md §4.8.
package ring

import (
	"encoding/binary"
	"hash/fnv"
	"sync/atomic"

	"github.com/xerra/socktracer/pkg/wire"
)

// MinExtraEventType is spec.md §6's event-type boundary: "1..31 reserved
// for socket-data batches (value = record count); 32 (1<<5) =
// process-exec... higher single-bit values reserved for future extra
// events."
const MinExtraEventType uint32 = 32

// WorkItem is what one worker goroutine consumes from its queue: either
// one decoded capture record from a socket-data batch, or one raw
// extra-event frame. Exactly one of Record/ExtraEventType is set.
type WorkItem struct {
	Record *wire.Record
	// IsLast marks the last record of a batch that shared one heap
	// allocation, per spec.md §4.8: "the last record carries an is_last
	// flag so the worker can free the block exactly once."
	IsLast bool

	ExtraEventType uint32
	ExtraPayload   []byte
}

// Dispatcher owns N single-producer single-consumer worker queues,
// matching spec.md §5: "Worker queues are strictly SPSC." The one
// producer is the Reader; each queue has exactly one consumer goroutine.
type Dispatcher struct {
	queues []chan WorkItem
	lost   atomic.Uint64
}

// NewDispatcher allocates numQueues channels, each buffered to queueCap.
// A full queue causes EnqueueRecord/EnqueueExtraEvent to count a loss and
// return false rather than block, per spec.md §4.8: "On enqueue failure
// count the loss; never block the reader."
func NewDispatcher(numQueues, queueCap int) *Dispatcher {
	d := &Dispatcher{queues: make([]chan WorkItem, numQueues)}
	for i := range d.queues {
		d.queues[i] = make(chan WorkItem, queueCap)
	}
	return d
}

// NumQueues reports how many worker queues this dispatcher owns.
func (d *Dispatcher) NumQueues() int { return len(d.queues) }

// Queue returns the receive side of worker queue i, for a worker
// goroutine to range over.
func (d *Dispatcher) Queue(i int) <-chan WorkItem {
	return d.queues[i]
}

// Lost reports the number of work items dropped because their target
// queue was full.
func (d *Dispatcher) Lost() uint64 {
	return d.lost.Load()
}

func hashKey(key uint64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	h := fnv.New32a()
	h.Write(buf[:])
	return int(h.Sum32())
}

func (d *Dispatcher) queueFor(key uint64) int {
	return hashKey(key) % len(d.queues)
}

// EnqueueRecord hashes by socket_id and pushes rec onto the selected
// worker queue, per spec.md §4.8. Returns false (and counts a loss) if
// that queue is full.
func (d *Dispatcher) EnqueueRecord(rec wire.Record, isLast bool) bool {
	idx := d.queueFor(rec.SocketID)
	item := WorkItem{Record: &rec, IsLast: isLast}
	select {
	case d.queues[idx] <- item:
		return true
	default:
		d.lost.Add(1)
		return false
	}
}

// EnqueueExtraEvent hashes by event_type (spec.md §4.11: "the dispatcher
// routes matching raw frames to fn via the same hashed queue (hashing by
// event_type)") and pushes the frame onto the selected worker queue.
func (d *Dispatcher) EnqueueExtraEvent(eventType uint32, payload []byte) bool {
	idx := d.queueFor(uint64(eventType))
	item := WorkItem{ExtraEventType: eventType, ExtraPayload: payload}
	select {
	case d.queues[idx] <- item:
		return true
	default:
		d.lost.Add(1)
		return false
	}
}
