/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package extraevent implements the Extra-event Registry (C11): callers
// register a handler per event-type bit (process-exec, process-exit, and
// any future single-bit extra events), and dispatch hands each
// ring.WorkItem carrying an extra event to its registered handler, per
// spec.md §4.11.
package extraevent

import (
	"fmt"
	"sync"

	"github.com/xerra/socktracer/pkg/ring"
)

// Handler processes one extra-event frame's raw payload.
type Handler func(payload []byte) error

// Registry maps event-type bits to handlers. Registration and lookup are
// mutex-guarded since registration typically happens once at startup from
// the main goroutine while dispatch runs on worker goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint32]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint32]Handler)}
}

// Register binds fn to eventType. eventType must be >= ring.MinExtraEventType,
// matching spec.md §6's reserved extra-event namespace (process-exec = 32,
// process-exit = 64, higher single-bit values reserved).
func (r *Registry) Register(eventType uint32, fn Handler) error {
	if eventType < ring.MinExtraEventType {
		return fmt.Errorf("extraevent: event_type %d is below MinExtraEventType (%d)", eventType, ring.MinExtraEventType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = fn
	return nil
}

// Unregister removes any handler bound to eventType.
func (r *Registry) Unregister(eventType uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, eventType)
}

// Dispatch routes item to its registered handler. It returns an error if
// item doesn't carry an extra event, or if no handler is registered for
// its event type (spec.md §4.8: "look up the registered handler"; an
// unregistered type is silently unroutable work, surfaced here as an
// error so the caller can count it).
func (r *Registry) Dispatch(item ring.WorkItem) error {
	if item.ExtraEventType == 0 {
		return fmt.Errorf("extraevent: work item carries no extra event")
	}

	r.mu.RLock()
	fn, ok := r.handlers[item.ExtraEventType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("extraevent: no handler registered for event_type %d", item.ExtraEventType)
	}
	return fn(item.ExtraPayload)
}

// Run drains queue, dispatching every extra-event WorkItem to Dispatch
// and handing every socket-data WorkItem to onRecord, until queue is
// closed. This is the per-worker consumption loop spec.md §4.8 describes
// ("N dispatcher-worker threads own one SPSC ring each").
func (r *Registry) Run(queue <-chan ring.WorkItem, onRecord func(ring.WorkItem), onError func(error)) {
	for item := range queue {
		if item.ExtraEventType != 0 {
			if err := r.Dispatch(item); err != nil && onError != nil {
				onError(err)
			}
			continue
		}
		if onRecord != nil {
			onRecord(item)
		}
	}
}
