// Package sampler implements the region luma sampling worker.
//
// This package is INTERNAL - clients MUST use the public API in the
// parent package. Reason: allows internal refactoring without breaking
// changes.
package sampler

import (
	"image"
	"sync/atomic"
)

// Handle identifies the communication endpoint behind a Listener.
//
// Two Listener values referring to the same remote endpoint MUST report
// the same Handle, so that re-registration replaces rather than
// duplicates. The zero Handle is never a valid endpoint.
type Handle uint64

var handleSeq atomic.Uint64

// NextHandle allocates a fresh Handle for in-process listeners.
// Handles from this sequence never collide with each other; callers
// bridging a real IPC layer use the transport's own handle instead.
func NextHandle() Handle {
	return Handle(handleSeq.Add(1))
}

// ElementID identifies a visual element in the compositor's element
// tree. The zero ElementID means "no element".
//
// A stop element is referenced by ID rather than by pointer so element
// lifetime stays decoupled from descriptor lifetime: an ID whose
// element has been destroyed simply never matches anything during
// traversal, which is exactly the "no stop element" semantics.
type ElementID uint64

// Listener receives collected luma samples.
//
// Contract:
//   - Handle() MUST be stable for the lifetime of the listener and
//     identical across references to the same endpoint.
//   - OnSampleCollected may block (it is typically a remote call); the
//     sampler never invokes it while holding its internal lock.
type Listener interface {
	// Handle returns the endpoint identity used as registry key.
	Handle() Handle

	// OnSampleCollected delivers one brightness sample in [0,1].
	// Best-effort: there is no retry on failure.
	OnSampleCollected(luma float64)
}

// Element is one visual element as exposed by the renderer's traversal.
type Element interface {
	// ID returns the element's identity, comparable against a
	// descriptor's stop element.
	ID() ElementID

	// Bounds returns the element's transformed on-screen bounds
	// (axis-aligned bounding rectangle after transform).
	Bounds() image.Rectangle
}

// ElementFilter decides, per element in compositing order, whether the
// renderer composites it into the capture buffer. Returning false
// excludes the element; traversal continues regardless.
type ElementFilter func(el Element) bool

// PixelBuffer is a captured frame region owned by the renderer.
//
// Pixels are row-major 32-bit RGBA words: R in the low byte, then G,
// then B; alpha in the high byte. Stride is in pixels and may exceed
// the buffer width.
type PixelBuffer interface {
	// Stride returns the row stride in pixels.
	Stride() int

	// Map returns a read-only view of the pixel words. The view is
	// valid until Unmap. Map may fail if the renderer cannot provide
	// readable memory.
	Map() ([]uint32, error)

	// Unmap releases the mapped view. Must be called exactly once per
	// successful or failed Map, including on early-return paths.
	Unmap()
}

// Renderer is the compositor's frame renderer / screen capture service.
//
// Contract:
//   - Capture blocks until the composited buffer is ready. It may hop
//     to the renderer's own main goroutine internally, and that
//     goroutine may reentrantly call back into the sampler (e.g.
//     RequestSample) while the capture is in flight. The sampler
//     guarantees it holds no internal lock across this call.
//   - The returned buffer is sized exactly to region, stride >= width,
//     and contains only elements the filter allowed, composited in
//     stable z order.
type Renderer interface {
	Capture(region image.Rectangle, filter ElementFilter) (PixelBuffer, error)
}

// DeathWatcher is the IPC layer's death notification mechanism.
//
// Watch registers interest in handle's liveness; onDied fires at most
// once, asynchronously, from an arbitrary goroutine, when the endpoint
// becomes unreachable. Watching an already-watched handle is a no-op.
type DeathWatcher interface {
	Watch(h Handle, onDied func(Handle))
}

// descriptor is one observer's sampling request.
type descriptor struct {
	// area is the screen region to sample.
	area image.Rectangle

	// stopElement marks a z-order cutoff: elements at and above it are
	// excluded from this pass's sampling basis. Zero means no cutoff.
	stopElement ElementID

	// listener receives the collected sample.
	listener Listener
}

// Stats is a snapshot of sampler operational state.
type Stats struct {
	// Listeners is the number of registered descriptors.
	Listeners int

	// Passes counts capture passes that ran (empty-registry wakeups
	// excluded).
	Passes uint64

	// SamplesDelivered counts OnSampleCollected callbacks made.
	SamplesDelivered uint64

	// AbortedPasses counts passes suppressed by the defensive
	// luma/descriptor count check or a buffer mapping failure.
	AbortedPasses uint64
}
