//
// Copyright (C) 2024 Arborix. All rights reserved.
//

package memalloc

import (
	"testing"
	"unsafe"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(1 << 20) // 1 MiB is plenty for these tests
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// countArenaChunks walks the arena from firstChunk to guardAddr and
// returns how many non-sentinel chunks it finds.
func countArenaChunks(a *Allocator) int {
	if a.firstChunk == nil {
		return 0
	}
	n := 0
	cur := a.firstChunk
	for {
		n++
		fEnd := cur.footer().addr() + footerPad
		if fEnd == a.guardAddr {
			break
		}
		cur = addrToHeader(fEnd)
	}
	return n
}

// Scenario a: a fresh allocator's first allocation produces exactly one
// non-sentinel chunk, in use, with an otherwise-empty free tree.
func TestAllocateFreshArena(t *testing.T) {
	a := newTestAllocator(t)

	p1, err := a.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate(8) failed: %v", err)
	}
	if p1 == nil {
		t.Fatalf("Allocate(8) returned nil payload")
	}

	if got := countArenaChunks(a); got != 1 {
		t.Errorf("arena walk found %d chunks, want 1", got)
	}
	if a.fakeRoot.node().right != nil {
		t.Errorf("free tree is not empty after a single allocation: %#x", a.fakeRoot.node().right.addr())
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// Scenario b: freeing a large chunk and then allocating a small one
// splits the freed chunk and tracks the remainder.
func TestAllocateSplitsOversizedFreeChunk(t *testing.T) {
	a := newTestAllocator(t)

	big := int(nodePad + footerPad + headerPad + nodePad + 16)

	p1, err := a.Allocate(big)
	if err != nil {
		t.Fatalf("Allocate(%d) failed: %v", big, err)
	}
	if _, err := a.Allocate(big); err != nil {
		t.Fatalf("Allocate(%d) failed: %v", big, err)
	}

	a.Free(p1)

	if _, err := a.Allocate(16); err != nil {
		t.Fatalf("Allocate(16) failed: %v", err)
	}

	if got := countArenaChunks(a); got != 3 {
		t.Errorf("arena walk found %d chunks, want 3", got)
	}
	if a.fakeRoot.node().right == nil {
		t.Errorf("expected the split remainder to be in the free tree")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// Scenario c: freeing three adjacent chunks out of order (first, last,
// then middle) coalesces them into a single free chunk covering all
// three, regardless of free order.
func TestFreeCoalescesBothNeighbors(t *testing.T) {
	a := newTestAllocator(t)

	pA, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate(A) failed: %v", err)
	}
	pB, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate(B) failed: %v", err)
	}
	pC, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate(C) failed: %v", err)
	}

	aHdr := payloadToHeader(pA)
	bHdr := payloadToHeader(pB)
	cHdr := payloadToHeader(pC)
	wantSize := aHdr.size + footerPad + headerPad + bHdr.size + footerPad + headerPad + cHdr.size

	a.Free(pA)
	a.Free(pC)
	a.Free(pB)

	if got := countArenaChunks(a); got != 1 {
		t.Fatalf("arena walk found %d chunks after coalescing, want 1", got)
	}

	merged := a.firstChunk
	if merged.size != wantSize {
		t.Errorf("merged chunk size = %d, want %d", merged.size, wantSize)
	}
	if a.fakeRoot.node().right != merged {
		t.Errorf("merged chunk is not the sole entry in the free tree")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// Scenario f: a request smaller than the minimum trackable payload is
// rounded up to that minimum, not granted as-is.
func TestAllocateRoundsUpToMinimumPayload(t *testing.T) {
	a := newTestAllocator(t)

	if _, err := a.Allocate(1); err != nil {
		t.Fatalf("Allocate(1) failed: %v", err)
	}

	m := a.Metrics()
	if uintptr(m.InUse) != nodePad {
		t.Errorf("Allocate(1) used %d bytes, want %d (minimum payload)", m.InUse, nodePad)
	}
}

func TestAllocateZeroSizeBehavesLikeOne(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Allocate(0)
	if err != nil {
		t.Fatalf("Allocate(0) failed: %v", err)
	}
	c := payloadToHeader(p)
	if c.size != nodePad {
		t.Errorf("Allocate(0) chunk size = %d, want %d", c.size, nodePad)
	}
}

func TestFreeReturnsCapacityToFreeTree(t *testing.T) {
	a := newTestAllocator(t)

	before := a.Metrics()

	p, err := a.Allocate(256)
	if err != nil {
		t.Fatalf("Allocate(256) failed: %v", err)
	}
	a.Free(p)

	after := a.Metrics()
	if after.Free < before.Free {
		t.Errorf("round trip lost free capacity: before=%d after=%d", before.Free, after.Free)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

func TestAllocateReturnsWordAlignedPointers(t *testing.T) {
	a := newTestAllocator(t)

	for _, size := range []int{1, 7, 8, 9, 100, 4096} {
		p, err := a.Allocate(size)
		if err != nil {
			t.Fatalf("Allocate(%d) failed: %v", size, err)
		}
		if uintptr(p)%wordSize != 0 {
			t.Errorf("Allocate(%d) returned unaligned pointer %#x", size, uintptr(p))
		}
	}
}

func TestAllocateExhaustsArena(t *testing.T) {
	a, err := New(int(headerPad + nodePad + headerPad + nodePad + footerPad))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer a.Close()

	// The sentinel consumes headerPad+nodePad; only one small chunk fits.
	if _, err := a.Allocate(1); err != nil {
		t.Fatalf("first Allocate(1) failed: %v", err)
	}
	if _, err := a.Allocate(int(nodePad)); err != ErrOutOfMemory {
		t.Errorf("second Allocate() error = %v, want ErrOutOfMemory", err)
	}
}

func TestAllocateWriteReadPayload(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Allocate(int(unsafe.Sizeof(uint64(0))))
	if err != nil {
		t.Fatalf("Allocate() failed: %v", err)
	}

	word := (*uint64)(p)
	*word = 0xdeadbeef
	if *word != 0xdeadbeef {
		t.Errorf("payload round trip failed: got %#x", *word)
	}
}
