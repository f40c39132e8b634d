//
// Copyright (C) 2024 Arborix. All rights reserved.
//

package memalloc

// The free tree is a size-keyed, unbalanced binary search tree whose
// nodes live inside the payload area of the free chunks themselves. It
// is rooted at a sentinel chunk of size 0 (fakeRoot) so that every real
// node always has a non-null parent; the real root hangs off the
// sentinel's right child, since every real chunk's size is strictly
// greater than the sentinel's.

// insert adds a free chunk to the tree, walking from the sentinel and
// comparing sizes at each visited node. Equal-size ties alternate which
// side they descend to, so duplicate sizes don't form a degenerate
// chain down one side of the tree.
func (a *Allocator) insert(c *chunkHeader) {
	c.inUse = false
	cn := c.node()
	cn.left, cn.right = nil, nil

	cur := a.fakeRoot
	for {
		curNode := cur.node()

		var slot **chunkHeader
		switch {
		case c.size < cur.size:
			slot = &curNode.left
		case c.size > cur.size:
			slot = &curNode.right
		default:
			if a.equalsAlternator {
				slot = &curNode.left
			} else {
				slot = &curNode.right
			}
			a.equalsAlternator = !a.equalsAlternator
		}

		if *slot == nil {
			*slot = c
			cn.parent = cur
			return
		}
		cur = *slot
	}
}

// findAndRemoveFit descends from the sentinel, moving into the right
// subtree whenever the current node's size is too small, and removes
// and returns the first node whose size is at least s. It is not
// best-fit: it returns the first node encountered on this
// rightward-biased descent that fits, not the smallest one that does.
func (a *Allocator) findAndRemoveFit(s uintptr) (*chunkHeader, bool) {
	cur := a.fakeRoot
	for {
		if cur.size < s {
			cur = cur.node().right
			if cur == nil {
				return nil, false
			}
			continue
		}
		a.remove(cur)
		return cur, true
	}
}

// remove detaches c from the free tree, wherever it sits, reattaching
// its subtree(s) in its place. A chunk with two children is replaced by
// its in-order successor or predecessor, alternating between the two on
// successive two-child removals as a cheap anti-degeneracy measure.
func (a *Allocator) remove(c *chunkHeader) {
	cn := c.node()
	p := cn.parent
	pn := p.node()

	var slot **chunkHeader
	if pn.left == c {
		slot = &pn.left
	} else {
		slot = &pn.right
	}

	switch {
	case cn.left == nil && cn.right == nil:
		*slot = nil

	case cn.left == nil || cn.right == nil:
		child := cn.left
		if child == nil {
			child = cn.right
		}
		*slot = child
		child.node().parent = p

	default:
		a.succPredAlternator = !a.succPredAlternator
		var r *chunkHeader
		if a.succPredAlternator {
			r = findLargest(cn.left)
		} else {
			r = findSmallest(cn.right)
		}

		a.remove(r)

		rn := r.node()
		rn.parent = p
		rn.left = cn.left
		rn.right = cn.right
		*slot = r

		if rn.left != nil {
			rn.left.node().parent = r
		}
		if rn.right != nil {
			rn.right.node().parent = r
		}
	}
}

// findLargest returns the rightmost (largest-size) chunk of the subtree
// rooted at c.
func findLargest(c *chunkHeader) *chunkHeader {
	for {
		n := c.node()
		if n.right == nil {
			return c
		}
		c = n.right
	}
}

// findSmallest returns the leftmost (smallest-size) chunk of the
// subtree rooted at c.
func findSmallest(c *chunkHeader) *chunkHeader {
	for {
		n := c.node()
		if n.left == nil {
			return c
		}
		c = n.left
	}
}
