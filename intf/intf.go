//
// memtree interfaces
//

package intf

import (
	"io"
	"unsafe"

	"github.com/arborix/memtree/lib/memalloc"
)

// Allocator is the interface exposed by an entity that serves Allocate
// and Free requests backed by a single arena. It is implemented by
// memalloc.Allocator and by the per-session wrapper in the session
// package.
type Allocator interface {

	// Allocate reserves size bytes and returns a pointer to the
	// payload, or an error if the arena cannot satisfy the request.
	Allocate(size int) (unsafe.Pointer, error)

	// Free releases a pointer previously returned by Allocate.
	Free(ptr unsafe.Pointer)

	// Metrics returns a snapshot of the allocator's current chunk
	// accounting.
	Metrics() memalloc.Metrics

	// Audit writes a diagnostic dump of the allocator's state to w.
	Audit(w io.Writer)

	// Close releases the allocator's backing resources. The allocator
	// must not be used again afterwards.
	Close() error
}
