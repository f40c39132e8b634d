//
// Copyright (C) 2024 Arborix. All rights reserved.
//

package memalloc

import (
	"bytes"
	"strings"
	"testing"
)

func TestAuditWritesChunksAndFreeTree(t *testing.T) {
	a := newTestAllocator(t)

	p1, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate(32) failed: %v", err)
	}
	if _, err := a.Allocate(32); err != nil {
		t.Fatalf("Allocate(32) failed: %v", err)
	}
	a.Free(p1)

	var buf bytes.Buffer
	a.Audit(&buf)
	out := buf.String()

	for _, want := range []string{"memalloc audit begin", "memalloc audit end", "free tree (in-order)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Audit() output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "chunk ") != 2 {
		t.Errorf("Audit() output has %d chunk lines, want 2:\n%s", strings.Count(out, "chunk "), out)
	}
}

func TestValidateDetectsHeaderFooterMismatch(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate(32) failed: %v", err)
	}
	c := payloadToHeader(p)
	c.footer().size = c.size + 8 // corrupt the footer

	if err := a.Validate(); err == nil {
		t.Errorf("Validate() did not detect a header/footer size mismatch")
	}
}

func TestValidateDetectsInUseChunkInFreeTree(t *testing.T) {
	a := newTestAllocator(t)

	c := makeFreeChunk(t, a, 2*nodePad)
	a.insert(c)
	c.inUse = true // corrupt: marked in use but still linked into the tree

	if err := a.Validate(); err == nil {
		t.Errorf("Validate() did not detect an in-use chunk reachable from the free tree")
	}
}

func TestValidatePassesOnFreshAllocator(t *testing.T) {
	a := newTestAllocator(t)
	if err := a.Validate(); err != nil {
		t.Errorf("Validate() on a fresh allocator failed: %v", err)
	}
}
