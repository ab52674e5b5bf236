// Package resource manages the lifecycle of opaque native handles.
//
// A native library hands out handles (pointers, table indexes) that must be
// released exactly once through the library's own free call. This package
// wraps such a handle in a Base that owns it, tracks every live Base in a
// process-wide Registry, and funnels every way a handle can die (Close, Claim,
// garbage collection, the shutdown Sweep) into a single teardown that frees it
// at most once.
//
// # Ownership
//
// A Base owns exactly one handle while open. Ownership can move:
//
//   - Close frees the handle and leaves the Base closed.
//   - Claim detaches the handle without freeing it and returns it to the
//     caller, who becomes responsible for it.
//   - Replace frees the current handle and adopts another one, claiming it
//     from its previous owner first when that owner is a Base.
//   - Copy asks the library to clone the handle and wraps the clone in a new,
//     independently closable Base.
//
// Any operation on a closed or claimed Base fails with ErrClosed.
//
// # Concrete Types
//
// Concrete resource types supply three capability points through Ops: Alloc,
// Free and Clone. They embed *Base and add their own operations on top:
//
//	type Image struct {
//	    *resource.Base[magick.Wand]
//	}
//
// # Registry and Sweep
//
// Every successfully constructed Base is tracked in a Registry. The registry
// keeps only weak references to the wrappers, so tracking never extends their
// lifetime. At shutdown, Registry.Sweep force-closes whatever is still open
// before the native library itself is torn down.
//
// # State Guards
//
// Push, Pop and WithState temporarily override properties of a Stateful
// resource and restore them in reverse order on every exit path.
//
// # Thread Safety
//
// The Registry is safe for concurrent use, and the teardown of a single Base is
// safe against a racing Close and GC cleanup. Running two operations on the
// same Base from different goroutines at once is the caller's responsibility.
//
// Ops are never called with an internal lock held. When Ops block on a bridge
// worker, Close, Copy and Replace must not be called from a payload running on
// that same worker.
package resource
