//
// Copyright (C) 2024 Arborix. All rights reserved.
//

package memalloc

import (
	"fmt"
	"io"

	mapset "github.com/deckarep/golang-set"
)

// Audit writes a diagnostic dump of the allocator's current state: the
// sentinel and arena bounds, every chunk in arena order with its header
// and footer sizes and in-use flag, and an in-order walk of the free tree. The format is
// diagnostic only and is not part of any compatibility contract.
func (a *Allocator) Audit(w io.Writer) {
	fmt.Fprintf(w, "memalloc audit begin\n")
	fmt.Fprintf(w, "  sentinel:   %#x\n", a.fakeRoot.addr())
	fmt.Fprintf(w, "  firstChunk: %#x\n", addrOrZero(a.firstChunk))
	fmt.Fprintf(w, "  guardAddr:  %#x\n", a.guardAddr)

	if a.firstChunk != nil {
		cur := a.firstChunk
		for {
			fmt.Fprintf(w, "  chunk %#x: size=%d footer_size=%d in_use=%v\n", cur.addr(), cur.size, cur.footer().size, cur.inUse)
			fEnd := cur.footer().addr() + footerPad
			if fEnd == a.guardAddr {
				break
			}
			cur = addrToHeader(fEnd)
		}
	}

	fmt.Fprintf(w, "  free tree (in-order):\n")
	inorderWalk(a.fakeRoot.node().right, func(c *chunkHeader) {
		fmt.Fprintf(w, "    size=%d addr=%#x\n", c.size, c.addr())
	})
	fmt.Fprintf(w, "memalloc audit end\n")
}

func addrOrZero(h *chunkHeader) uintptr {
	if h == nil {
		return 0
	}
	return h.addr()
}

func inorderWalk(c *chunkHeader, visit func(*chunkHeader)) {
	if c == nil {
		return
	}
	n := c.node()
	inorderWalk(n.left, visit)
	visit(c)
	inorderWalk(n.right, visit)
}

// Validate independently re-derives two views of the allocator's free
// chunks -- one from an arena walk, one from a free-tree walk -- and
// checks header/footer agreement and BST/parent invariants along the
// way. It returns an error describing the first violation found, or nil
// if the allocator's invariants all hold.
//
// Validate is for tests and debugging; Allocate and Free never call it,
// since doing so would make them linear in the chunk count.
func (a *Allocator) Validate() error {
	arenaFree := mapset.NewSet()
	if a.firstChunk != nil {
		cur := a.firstChunk
		for {
			if cur.size != cur.footer().size {
				return fmt.Errorf("memalloc: chunk %#x header size %d != footer size %d", cur.addr(), cur.size, cur.footer().size)
			}
			if !cur.inUse {
				arenaFree.Add(cur.addr())
			}

			fEnd := cur.footer().addr() + footerPad
			if fEnd == a.guardAddr {
				break
			}
			cur = addrToHeader(fEnd)
		}
	}

	treeFree := mapset.NewSet()
	if err := validateSubtree(a.fakeRoot.node().right, a.fakeRoot, treeFree); err != nil {
		return err
	}

	if !arenaFree.Equal(treeFree) {
		return fmt.Errorf("memalloc: tree-reachable free set %v does not match arena-walk free set %v", treeFree, arenaFree)
	}
	return nil
}

func validateSubtree(c, parent *chunkHeader, seen mapset.Set) error {
	if c == nil {
		return nil
	}

	n := c.node()
	if n.parent != parent {
		return fmt.Errorf("memalloc: chunk %#x has parent %#x, want %#x", c.addr(), addrOrZero(n.parent), addrOrZero(parent))
	}
	if n.left != nil && n.left.size > c.size {
		return fmt.Errorf("memalloc: chunk %#x left child %#x violates BST order (size %d > %d)", c.addr(), n.left.addr(), n.left.size, c.size)
	}
	if n.right != nil && n.right.size < c.size {
		return fmt.Errorf("memalloc: chunk %#x right child %#x violates BST order (size %d < %d)", c.addr(), n.right.addr(), n.right.size, c.size)
	}
	if c.inUse {
		return fmt.Errorf("memalloc: in-use chunk %#x found in free tree", c.addr())
	}

	seen.Add(c.addr())

	if err := validateSubtree(n.left, c, seen); err != nil {
		return err
	}
	return validateSubtree(n.right, c, seen)
}
