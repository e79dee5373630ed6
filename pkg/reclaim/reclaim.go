/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package reclaim implements the Map Reclaimer (C9): a periodic sweep that
// evicts socket and trace entries idle past a timeout, per spec.md §4.9.
package reclaim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xerra/socktracer/pkg/socktable"
	"github.com/xerra/socktracer/pkg/tracecorr"
)

// IdleTimeout is spec.md §4.9's "now_uptime - update_time > 10s".
const IdleTimeout = 10 * time.Second

// HighWaterMark triggers an out-of-band sweep when either table's entry
// count exceeds this, independent of the periodic ticker.
const HighWaterMark = 65536

// NowFunc returns the current uptime-style clock value fed to ReapIdle, in
// whatever unit the caller's tables key their UpdateTime fields by (the
// tracer runs this in seconds since an arbitrary epoch).
type NowFunc func() uint64

// Reclaimer periodically walks the socket and trace tables, deleting
// entries idle past IdleTimeout. Reclamation counts are subtracted from
// the kernel-reported live count to keep user-visible stats accurate
// (spec.md §4.9); the caller reads Reclaimed() and folds it into its own
// live-count computation.
type Reclaimer struct {
	sockets *socktable.Table
	traces  *tracecorr.Table
	now     NowFunc

	idleTimeoutSec uint64

	sweeps    atomic.Uint64
	reclaimed atomic.Uint64

	mu      sync.Mutex
	stopped chan struct{}
}

// New builds a Reclaimer over sockets and traces. now supplies the clock
// both tables' UpdateTime fields are stamped against.
func New(sockets *socktable.Table, traces *tracecorr.Table, now NowFunc) *Reclaimer {
	return &Reclaimer{
		sockets:        sockets,
		traces:         traces,
		now:            now,
		idleTimeoutSec: uint64(IdleTimeout / time.Second),
	}
}

// Sweep performs one reclamation pass over both tables and returns the
// number of entries it deleted. Reclaiming is idempotent: calling Sweep
// twice within the idle window evicts nothing the second time, since an
// entry's UpdateTime only advances on live traffic (spec.md §7, S6/5).
func (r *Reclaimer) Sweep() int {
	now := r.now()
	n := r.sockets.ReapIdle(now, r.idleTimeoutSec)
	n += r.traces.ReapIdle(now, r.idleTimeoutSec)

	r.sweeps.Add(1)
	if n > 0 {
		r.reclaimed.Add(uint64(n))
	}
	return n
}

// ShouldSweepNow reports whether either table has crossed HighWaterMark,
// warranting an out-of-band sweep ahead of the next periodic tick.
func (r *Reclaimer) ShouldSweepNow() bool {
	return r.sockets.Len() > HighWaterMark || r.traces.Len() > HighWaterMark
}

// Sweeps reports the number of completed sweep passes.
func (r *Reclaimer) Sweeps() uint64 { return r.sweeps.Load() }

// Reclaimed reports the cumulative number of entries deleted by Sweep.
func (r *Reclaimer) Reclaimed() uint64 { return r.reclaimed.Load() }

// Run starts a background goroutine sweeping every interval until Stop is
// called. It also checks ShouldSweepNow every interval/4 and sweeps early
// when it is true, so a burst of churn doesn't have to wait for the next
// full tick.
func (r *Reclaimer) Run(interval time.Duration) {
	r.mu.Lock()
	if r.stopped != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.stopped = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		highWater := time.NewTicker(interval / 4)
		defer highWater.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Sweep()
			case <-highWater.C:
				if r.ShouldSweepNow() {
					r.Sweep()
				}
			}
		}
	}()
}

// Stop halts a running sweep goroutine started by Run. It is safe to call
// multiple times and safe to call when Run was never called.
func (r *Reclaimer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped == nil {
		return
	}
	close(r.stopped)
	r.stopped = nil
}
