package sampler

import "image"

// registry maps observer endpoint identity to its sampling descriptor.
//
// Not self-locking: every method MUST be called with the worker's mutex
// held. The registry deliberately shares that one lock because the
// worker's loop decisions and the descriptor set form a single
// consistency domain (snapshot-then-capture must see one point in
// time).
type registry struct {
	descriptors map[Handle]descriptor
}

func newRegistry() *registry {
	return &registry{descriptors: make(map[Handle]descriptor)}
}

// add inserts or replaces the descriptor for h. At most one descriptor
// exists per endpoint: re-registration fully replaces, never merges.
func (r *registry) add(h Handle, d descriptor) {
	r.descriptors[h] = d
}

// remove erases the descriptor for h if present. No error if absent;
// removal and death notification are idempotent by construction.
func (r *registry) remove(h Handle) {
	delete(r.descriptors, h)
}

func (r *registry) empty() bool {
	return len(r.descriptors) == 0
}

func (r *registry) size() int {
	return len(r.descriptors)
}

// snapshot returns a point-in-time copy of all descriptors plus the
// bounding rectangle of the union of their areas. The worker calls this
// immediately before releasing its lock for a capture, so the capture
// operates on a consistent (if potentially stale-by-delivery) view.
func (r *registry) snapshot() ([]descriptor, image.Rectangle) {
	descs := make([]descriptor, 0, len(r.descriptors))
	var sampled image.Rectangle
	for _, d := range r.descriptors {
		sampled = sampled.Union(d.area)
		descs = append(descs, d)
	}
	return descs, sampled
}
