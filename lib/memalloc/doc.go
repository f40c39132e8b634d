// Package memalloc implements a binary-tree-indexed memory allocator
// over a single, monotonically-growing arena of address space.
//
// # Overview
//
// The arena is a seamless sequence of chunks. Each chunk is either
// in-use (holding caller payload) or free, in which case its payload
// bytes double as a node of a size-keyed binary search tree of all free
// chunks (the "free tree"). Allocate finds the first free chunk whose
// size is at least the request, splitting off a trackable remainder
// when one is large enough to be worth tracking; Free coalesces the
// released chunk with any free neighbor before reinserting it into the
// tree. Both operations run in time proportional to the tree's depth,
// not to the number of chunks.
//
// # Thread Safety
//
// An Allocator is not safe for concurrent use; every method assumes a
// single caller and none of them block or allocate outside the arena's
// own reservation. Callers needing concurrent access should use the
// session package, which wraps one Allocator per session behind its own
// mutex.
//
// # Memory Layout
//
//	[ header | payload (user data or tree node) | footer ]
//
// Header and footer both carry the chunk's size so either neighbor is
// reachable in O(1); the footer's duplicate size is what makes backward
// coalescing possible without a separate index.
package memalloc
