//
// Copyright (C) 2024 Arborix. All rights reserved.
//

package memalloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultArenaSize is the size of the address-space reservation backing
// a new Allocator when no explicit size is requested.
const DefaultArenaSize = 1 << 30 // 1 GiB

// Arena is a single, contiguous reservation of process address space.
// It is grown only by appending at the high end via extend, and it
// never shrinks or returns pages to the OS until Close.
//
// The reservation is backed by one anonymous mmap large enough to hold
// the arena's entire lifetime of growth, so extend never has to move
// or copy already-handed-out chunks: it is a pure bump of the
// reservation's high-water mark.
type Arena struct {
	mapping []byte
	base    uintptr
	limit   uintptr
	brk     uintptr
	closed  bool
}

func newArena(maxSize int) (*Arena, error) {
	if maxSize <= 0 {
		maxSize = DefaultArenaSize
	}

	b, err := unix.Mmap(-1, 0, maxSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("memalloc: reserve %d byte arena: %w", maxSize, err)
	}

	base := uintptr(unsafe.Pointer(&b[0]))
	return &Arena{
		mapping: b,
		base:    base,
		limit:   base + uintptr(maxSize),
		brk:     base,
	}, nil
}

// extend appends n bytes to the high end of the arena and returns the
// address of the first new byte. It is the sole mechanism by which new
// chunk addresses come into existence. It fails with ErrOutOfMemory if
// the reservation is exhausted.
func (ar *Arena) extend(n uintptr) (uintptr, error) {
	if ar.closed {
		panic("memalloc: arena used after Close")
	}
	if n == 0 || ar.brk+n > ar.limit || ar.brk+n < ar.brk {
		return 0, ErrOutOfMemory
	}
	addr := ar.brk
	ar.brk += n
	return addr, nil
}

// size returns the total reservation size in bytes.
func (ar *Arena) size() int {
	return int(ar.limit - ar.base)
}

func (ar *Arena) close() error {
	if ar.closed {
		return nil
	}
	ar.closed = true
	return unix.Munmap(ar.mapping)
}
