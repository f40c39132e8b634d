//
// Copyright (C) 2024 Arborix. All rights reserved.
//

package memalloc

import (
	"errors"
	"unsafe"
)

// ErrOutOfMemory is returned by Allocate when the arena's backing
// reservation is exhausted. No state is mutated when this happens.
var ErrOutOfMemory = errors.New("memalloc: out of memory")

// Allocator serves Allocate/Free requests from a single arena, using a
// size-keyed binary search tree of free chunks to find a reusable chunk
// in time proportional to the tree's depth rather than the chunk count.
//
// An Allocator is single-threaded and non-reentrant: all of its state,
// including the two alternation bits that keep the free tree from
// degenerating, belongs to this instance. Concurrent callers must
// provide their own mutual exclusion (see the session package).
type Allocator struct {
	arena    *Arena
	fakeRoot *chunkHeader

	firstChunk *chunkHeader
	guardAddr  uintptr

	equalsAlternator   bool
	succPredAlternator bool
}

// New creates an Allocator backed by a fresh arena reservation of
// maxSize bytes (DefaultArenaSize if maxSize <= 0).
func New(maxSize int) (*Allocator, error) {
	ar, err := newArena(maxSize)
	if err != nil {
		return nil, err
	}

	addr, err := ar.extend(headerPad + nodePad)
	if err != nil {
		ar.close()
		return nil, err
	}

	fakeRoot := addrToHeader(addr)
	fakeRoot.size = 0
	fakeRoot.inUse = false
	n := fakeRoot.node()
	n.parent, n.left, n.right = nil, nil, nil

	return &Allocator{arena: ar, fakeRoot: fakeRoot}, nil
}

// Close releases the allocator's backing arena reservation. The
// allocator must not be used again afterwards.
func (a *Allocator) Close() error {
	return a.arena.close()
}

// Allocate reserves size bytes and returns a word-aligned pointer to
// the payload. size is rounded up to a machine word, and up again to
// the minimum trackable payload size if still smaller. It returns
// ErrOutOfMemory if the arena's reservation cannot satisfy the request;
// in that case no state is mutated.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if size < 0 {
		size = 0
	}

	s := roundWord(uintptr(size))
	if s < nodePad {
		s = nodePad
	}

	c, found := a.findAndRemoveFit(s)
	if !found {
		addr, err := a.arena.extend(headerPad + s + footerPad)
		if err != nil {
			return nil, ErrOutOfMemory
		}

		c = addrToHeader(addr)
		if a.firstChunk == nil {
			a.firstChunk = c
		}
		a.guardAddr = addr + headerPad + s + footerPad

		c.size = s
		c.footer().size = s
	} else if c.size >= s+footerPad+headerPad+nodePad {
		// The reclaimed chunk has enough left over after serving this
		// request that the remainder is itself worth tracking.
		remAddr := c.addr() + headerPad + s + footerPad
		rem := addrToHeader(remAddr)
		rem.size = c.size - s - footerPad - headerPad
		rem.inUse = false
		rem.footer().size = rem.size
		a.insert(rem)

		c.size = s
		c.footer().size = s
	}

	c.inUse = true
	return c.payload(), nil
}

// Free releases a pointer previously returned by Allocate, coalescing
// it with any free neighbor before returning it to the free tree.
// Freeing a pointer not obtained from Allocate, or freeing the same
// pointer more than once, is undefined behavior -- it is the caller's
// responsibility never to do either.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	c := payloadToHeader(ptr)

	if c != a.firstChunk {
		prevFooter := (*chunkFooter)(unsafe.Pointer(c.addr() - footerPad))
		prev := prevFooter.header()
		if !prev.inUse {
			a.remove(prev)
			prev.size += footerPad + headerPad + c.size
			prev.footer().size = prev.size
			c = prev
		}
	}

	if c.footer().addr()+footerPad != a.guardAddr {
		next := addrToHeader(c.footer().addr() + footerPad)
		if !next.inUse {
			a.remove(next)
			c.size += footerPad + headerPad + next.size
			c.footer().size = c.size
		}
	}

	c.inUse = false
	a.insert(c)
}
