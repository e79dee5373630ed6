/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package traceid

import "testing"

func fakeClock(ns *uint64) Clock {
	return func() uint64 { return *ns }
}

func TestNextIsMonotonicWithinCPU(t *testing.T) {
	var ns uint64
	a := NewAllocator(3, fakeClock(&ns))

	prev := uint64(0)
	for i := 0; i < 5; i++ {
		got := a.Next()
		if got <= prev {
			t.Fatalf("Next() = %d, want > %d", got, prev)
		}
		prev = got
	}
}

func TestNextMonotonicEvenWhenClockStalls(t *testing.T) {
	var ns uint64 = 100_000
	a := NewAllocator(1, fakeClock(&ns))

	first := a.Next()
	second := a.Next() // clock unchanged: ns didn't advance
	if second <= first {
		t.Fatalf("Next() with stalled clock: got %d then %d, want strictly increasing", first, second)
	}
}

func TestNextEncodesCPU(t *testing.T) {
	var ns uint64 = 42_000_000
	a := NewAllocator(7, fakeClock(&ns))

	id := a.Next()
	if got := CPU(id); got != 7 {
		t.Fatalf("CPU(id) = %d, want 7", got)
	}
}

func TestDifferentCPUsNeverCollide(t *testing.T) {
	var ns uint64 = 5_000
	a0 := NewAllocator(0, fakeClock(&ns))
	a1 := NewAllocator(1, fakeClock(&ns))

	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		id := a0.Next()
		if seen[id] {
			t.Fatalf("duplicate id %d from cpu 0", id)
		}
		seen[id] = true
	}
	for i := 0; i < 100; i++ {
		id := a1.Next()
		if seen[id] {
			t.Fatalf("duplicate id %d shared between cpu 0 and cpu 1", id)
		}
		seen[id] = true
	}
}

func TestNewSessionIDIsNonEmptyAndUnique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if a == "" || b == "" {
		t.Fatalf("NewSessionID returned empty string")
	}
	if a == b {
		t.Fatalf("NewSessionID returned the same id twice: %q", a)
	}
}
