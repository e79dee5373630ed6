/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package tracer implements the Tracer Lifecycle (C10): the
// INIT -> RUNNING -> STOP state machine, probe attach/detach serialized
// under one mutex, and the kernel-adaptation poll that flips INIT to
// RUNNING once the offset inferencer has resolved at least one CPU's
// record, per spec.md §4.10.
package tracer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xerra/socktracer/pkg/offsets"
	"github.com/xerra/socktracer/pkg/socktable"
	"github.com/xerra/socktracer/pkg/stats"
)

// State is the tracer's lifecycle state, spec.md §4.10: "INIT -> RUNNING
// -> STOP -> RUNNING ...".
type State int32

const (
	StateInit State = iota
	StateRunning
	StateStop
)

// ErrKernelTooOld is the fatal startup error spec.md §4.11's failure
// semantics table names: "kernel version below minimum ... tracer stays
// in INIT."
var ErrKernelTooOld = errors.New("tracer: kernel version below minimum")

// ErrAlreadyRunning and ErrNotRunning guard the STOP/RUNNING transitions
// against being invoked from the wrong state.
var (
	ErrAlreadyRunning = errors.New("tracer: already running")
	ErrNotRunning      = errors.New("tracer: not running")
)

// ProbeSet abstracts attaching and detaching the kprobes and tracepoints
// spec.md §4.10 lists (__sys_sendmsg/recvmsg/recvmmsg/sendmmsg,
// do_writev/do_readv, syscall enter/exit tracepoints, socket/close/
// getppid, process_exec/process_exit). Production wires a real eBPF
// loader here; tests supply a fake that just counts calls.
type ProbeSet interface {
	Attach() error
	Detach() error
}

// KernelChecker is the kernel-version check Start runs before attaching
// probes (cmd/tracer supplies one built on pkg/kernel), narrowed to the
// one call tracer needs so tests don't have to run on Linux.
type KernelChecker func() error

// Tracer owns the lifecycle state machine. All attach/detach/state
// transitions are serialized by mu, per spec.md §4.10's "detach all
// probes under a lock" and §5's "probe attach/detach is serialized by a
// tracer-wide mutex".
type Tracer struct {
	mu    sync.Mutex
	state State

	probes       ProbeSet
	checkKernel  KernelChecker
	broadcaster  *offsets.Broadcaster
	sockets      *socktable.Table
	collector    *stats.Collector
	log          *logrus.Entry

	adaptSuccess bool

	stopPoll chan struct{}
}

// New builds a Tracer in state INIT. checkKernel runs once at Start; a
// nil checkKernel skips the kernel-version gate (used by non-Linux test
// builds exercising the rest of the state machine).
func New(probes ProbeSet, broadcaster *offsets.Broadcaster, sockets *socktable.Table, collector *stats.Collector, checkKernel KernelChecker, log *logrus.Entry) *Tracer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracer{
		state:       StateInit,
		probes:      probes,
		checkKernel: checkKernel,
		broadcaster: broadcaster,
		sockets:     sockets,
		collector:   collector,
		log:         log,
	}
}

// State reports the tracer's current lifecycle state.
func (t *Tracer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start performs the fatal-error checks of spec.md §4.11 (kernel version,
// probe attach) and transitions INIT -> RUNNING's prerequisites: probes
// go live immediately, but the tracer only flips to RUNNING once
// PollAdaptation observes readiness, exactly as production's
// "kernel-adapt success" periodic check does.
func (t *Tracer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateInit {
		return ErrAlreadyRunning
	}

	if t.checkKernel != nil {
		if err := t.checkKernel(); err != nil {
			return fmt.Errorf("%w: %v", ErrKernelTooOld, err)
		}
	}

	if err := t.probes.Attach(); err != nil {
		return fmt.Errorf("tracer: attaching probes: %w", err)
	}

	t.log.Info("probes attached, waiting for kernel offset adaptation")
	return nil
}

// PollAdaptation checks whether the offset broadcaster has at least one
// ready CPU record and, if so, performs the INIT -> RUNNING transition:
// broadcast is already done by the inference driver itself (Broadcast is
// called by whatever drives pkg/offsets), so this only needs to detach
// the inference driver's own probes and flip state, per spec.md §4.10:
// "offsets are broadcast to every CPU slot, then the inference driver
// hooks are detached ... and adapt_success is set." detachInferenceDriver
// may be nil if the inference driver shares the main ProbeSet.
func (t *Tracer) PollAdaptation(detachInferenceDriver func() error) (transitioned bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateInit {
		return false, nil
	}
	if t.broadcaster == nil || !t.broadcaster.AnyReady() {
		return false, nil
	}

	if detachInferenceDriver != nil {
		if err := detachInferenceDriver(); err != nil {
			return false, fmt.Errorf("tracer: detaching inference driver: %w", err)
		}
	}

	t.state = StateRunning
	t.adaptSuccess = true
	if t.collector != nil {
		t.collector.SetState(stats.StateRunning)
		t.collector.SetAdaptSuccess(true)
	}
	t.log.Info("kernel offset adaptation succeeded, tracer is RUNNING")
	return true, nil
}

// Stop performs RUNNING -> STOP: detach all probes under the lock, then
// clear the socket table (spec.md §4.10: "clear the socket table (forced
// 0 idle-time reclaim)").
func (t *Tracer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return ErrNotRunning
	}

	if err := t.probes.Detach(); err != nil {
		return fmt.Errorf("tracer: detaching probes: %w", err)
	}

	if t.sockets != nil {
		t.sockets.Clear()
	}

	t.state = StateStop
	if t.collector != nil {
		t.collector.SetState(stats.StateStop)
	}
	t.log.Info("tracer stopped")
	return nil
}

// Resume performs STOP -> RUNNING: re-attach all probes under the same
// lock.
func (t *Tracer) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateStop {
		return fmt.Errorf("tracer: cannot resume from state %d", t.state)
	}

	if err := t.probes.Attach(); err != nil {
		return fmt.Errorf("tracer: re-attaching probes: %w", err)
	}

	t.state = StateRunning
	if t.collector != nil {
		t.collector.SetState(stats.StateRunning)
	}
	t.log.Info("tracer resumed")
	return nil
}

// RunAdaptationPoll starts a background goroutine calling PollAdaptation
// every interval until the tracer transitions to RUNNING or StopPolling
// is called.
func (t *Tracer) RunAdaptationPoll(interval time.Duration, detachInferenceDriver func() error) {
	t.mu.Lock()
	if t.stopPoll != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.stopPoll = stop
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				transitioned, err := t.PollAdaptation(detachInferenceDriver)
				if err != nil {
					t.log.WithError(err).Warn("kernel offset adaptation poll failed")
					continue
				}
				if transitioned {
					return
				}
			}
		}
	}()
}

// StopPolling halts a goroutine started by RunAdaptationPoll. Safe to
// call even if RunAdaptationPoll was never called.
func (t *Tracer) StopPolling() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopPoll == nil {
		return
	}
	close(t.stopPoll)
	t.stopPoll = nil
}
