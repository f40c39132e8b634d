//
// Copyright (C) 2024 Arborix. All rights reserved.
//

package memalloc

import "testing"

func TestMetricsEmptyAllocator(t *testing.T) {
	a := newTestAllocator(t)

	m := a.Metrics()
	if m.NumChunks != 0 || m.InUse != 0 || m.Free != 0 {
		t.Errorf("Metrics() on a fresh allocator = %+v, want all zero chunk counts", m)
	}
	if m.Capacity <= 0 {
		t.Errorf("Metrics().Capacity = %d, want > 0", m.Capacity)
	}
}

func TestMetricsTracksInUseAndFree(t *testing.T) {
	a := newTestAllocator(t)

	p1, err := a.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate(64) failed: %v", err)
	}
	if _, err := a.Allocate(64); err != nil {
		t.Fatalf("Allocate(64) failed: %v", err)
	}

	m := a.Metrics()
	if m.NumChunks != 2 {
		t.Fatalf("NumChunks = %d, want 2", m.NumChunks)
	}
	if m.NumFreeChunks != 0 {
		t.Errorf("NumFreeChunks = %d, want 0 before any Free", m.NumFreeChunks)
	}
	if m.InUse != 128 {
		t.Errorf("InUse = %d, want 128", m.InUse)
	}

	a.Free(p1)

	m = a.Metrics()
	if m.NumFreeChunks != 1 {
		t.Errorf("NumFreeChunks = %d, want 1 after Free", m.NumFreeChunks)
	}
	if m.Free != 64 {
		t.Errorf("Free = %d, want 64", m.Free)
	}
}

func TestMetricsUtilization(t *testing.T) {
	a, err := New(1024)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer a.Close()

	if _, err := a.Allocate(32); err != nil {
		t.Fatalf("Allocate(32) failed: %v", err)
	}

	m := a.Metrics()
	want := float64(m.InUse) / float64(m.Capacity)
	if m.Utilization != want {
		t.Errorf("Utilization = %v, want %v", m.Utilization, want)
	}
	if m.Utilization <= 0 || m.Utilization >= 1 {
		t.Errorf("Utilization = %v, want a value strictly between 0 and 1", m.Utilization)
	}
}
