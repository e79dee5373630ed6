/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tracer

import (
	"errors"
	"testing"

	"github.com/xerra/socktracer/pkg/offsets"
	"github.com/xerra/socktracer/pkg/socktable"
	"github.com/xerra/socktracer/pkg/traceid"
)

type fakeProbes struct {
	attachCalls int
	detachCalls int
	attachErr   error
	detachErr   error
}

func (f *fakeProbes) Attach() error {
	f.attachCalls++
	return f.attachErr
}

func (f *fakeProbes) Detach() error {
	f.detachCalls++
	return f.detachErr
}

func newSockets() *socktable.Table {
	return socktable.NewTable(traceid.NewAllocator(0, func() uint64 { return 100 }))
}

func TestStartFailsOnKernelTooOld(t *testing.T) {
	probes := &fakeProbes{}
	tr := New(probes, offsets.NewBroadcaster(1), newSockets(), nil, func() error {
		return errors.New("boom")
	}, nil)

	err := tr.Start()
	if !errors.Is(err, ErrKernelTooOld) {
		t.Fatalf("Start: err = %v, want wrapping ErrKernelTooOld", err)
	}
	if probes.attachCalls != 0 {
		t.Fatalf("attachCalls = %d, want 0 (kernel check must run before attach)", probes.attachCalls)
	}
	if tr.State() != StateInit {
		t.Fatalf("State = %v, want StateInit", tr.State())
	}
}

func TestStartAttachesProbesAndStaysInit(t *testing.T) {
	probes := &fakeProbes{}
	tr := New(probes, offsets.NewBroadcaster(1), newSockets(), nil, nil, nil)

	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if probes.attachCalls != 1 {
		t.Fatalf("attachCalls = %d, want 1", probes.attachCalls)
	}
	if tr.State() != StateInit {
		t.Fatalf("State = %v, want StateInit (waiting for adaptation)", tr.State())
	}
}

func TestPollAdaptationTransitionsOnceBroadcastReady(t *testing.T) {
	probes := &fakeProbes{}
	bc := offsets.NewBroadcaster(2)
	tr := New(probes, bc, newSockets(), nil, nil, nil)
	_ = tr.Start()

	transitioned, err := tr.PollAdaptation(nil)
	if err != nil {
		t.Fatalf("PollAdaptation: %v", err)
	}
	if transitioned {
		t.Fatalf("PollAdaptation before broadcast: transitioned = true, want false")
	}
	if tr.State() != StateInit {
		t.Fatalf("State = %v, want StateInit", tr.State())
	}

	bc.Broadcast(offsets.Table{TaskFiles: 1, SkFlags: 2, TCPCopiedSeq: 3, TCPWriteSeq: 4, Ready: true})

	detached := false
	transitioned, err = tr.PollAdaptation(func() error { detached = true; return nil })
	if err != nil {
		t.Fatalf("PollAdaptation: %v", err)
	}
	if !transitioned {
		t.Fatalf("PollAdaptation after broadcast: transitioned = false, want true")
	}
	if !detached {
		t.Fatalf("detachInferenceDriver was not called")
	}
	if tr.State() != StateRunning {
		t.Fatalf("State = %v, want StateRunning", tr.State())
	}

	// A second poll should be a no-op since we're no longer in INIT.
	transitioned, err = tr.PollAdaptation(nil)
	if err != nil || transitioned {
		t.Fatalf("second PollAdaptation: (%v, %v), want (false, nil)", transitioned, err)
	}
}

func TestStopClearsSocketTableAndDetaches(t *testing.T) {
	probes := &fakeProbes{}
	bc := offsets.NewBroadcaster(1)
	sockets := newSockets()
	tr := New(probes, bc, sockets, nil, nil, nil)
	_ = tr.Start()
	bc.Broadcast(offsets.Table{TaskFiles: 1, SkFlags: 2, TCPCopiedSeq: 3, TCPWriteSeq: 4, Ready: true})
	if _, err := tr.PollAdaptation(nil); err != nil {
		t.Fatalf("PollAdaptation: %v", err)
	}

	key := socktable.Key(1, 2)
	sockets.Apply(key, socktable.Update{Now: 1})
	if sockets.Len() == 0 {
		t.Fatalf("setup: expected a live socket entry")
	}

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sockets.Len() != 0 {
		t.Fatalf("sockets.Len() after Stop = %d, want 0 (cleared)", sockets.Len())
	}
	if probes.detachCalls != 1 {
		t.Fatalf("detachCalls = %d, want 1", probes.detachCalls)
	}
	if tr.State() != StateStop {
		t.Fatalf("State = %v, want StateStop", tr.State())
	}
}

func TestStopFromInitIsRejected(t *testing.T) {
	tr := New(&fakeProbes{}, offsets.NewBroadcaster(1), newSockets(), nil, nil, nil)
	if err := tr.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop from INIT: err = %v, want ErrNotRunning", err)
	}
}

func TestResumeReattachesProbes(t *testing.T) {
	probes := &fakeProbes{}
	bc := offsets.NewBroadcaster(1)
	tr := New(probes, bc, newSockets(), nil, nil, nil)
	_ = tr.Start()
	bc.Broadcast(offsets.Table{TaskFiles: 1, SkFlags: 2, TCPCopiedSeq: 3, TCPWriteSeq: 4, Ready: true})
	_, _ = tr.PollAdaptation(nil)
	_ = tr.Stop()

	if err := tr.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if probes.attachCalls != 2 {
		t.Fatalf("attachCalls = %d, want 2 (initial Start + Resume)", probes.attachCalls)
	}
	if tr.State() != StateRunning {
		t.Fatalf("State = %v, want StateRunning", tr.State())
	}
}
