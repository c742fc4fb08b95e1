package sampler

import (
	"image"

	"github.com/google/uuid"
)

// captureSample runs one end-to-end pass: snapshot the registry, ask
// the renderer for a filtered capture of the union area, estimate luma
// per covered descriptor, and deliver the results.
//
// Caller MUST hold w.mu. The mutex is dropped across exactly two
// windows:
//
//  1. The renderer call. The capture executes on the renderer's own
//     message-driven goroutine and blocks us until the buffer is
//     ready; during that time the renderer may reentrantly call
//     RequestSample (new content produced while compositing). Holding
//     our lock across the call would deadlock that reentry, so the
//     descriptor snapshot is taken first and the lock released for the
//     duration of the call. Registrations landing in this window take
//     effect from the next pass.
//  2. Callback delivery. OnSampleCollected is a potentially blocking
//     remote call; delivering under the lock could deadlock through
//     the same reentry paths. A delivery racing a concurrent
//     RemoveListener is acceptable: at worst one extra sample reaches
//     an observer that is just being deregistered.
func (w *Worker) captureSample() {
	if w.registry.empty() {
		return
	}

	descs, sampledArea := w.registry.snapshot()
	traceID := uuid.NewString()
	w.passes++

	// covered[i] is set once any composited element's bounds intersect
	// descs[i].area: content reached that observer's region this pass.
	covered := make([]bool, len(descs))

	// The stop flag is traversal-order-scoped, not per-descriptor: a
	// stop element marks "everything below this in z order is sampled,
	// nothing above it", so once any descriptor's stop element is
	// reached the entire remaining traversal is suppressed.
	stopFound := false

	filter := func(el Element) bool {
		if stopFound {
			return false
		}

		for _, d := range descs {
			if d.stopElement != 0 && d.stopElement == el.ID() {
				stopFound = true
				return false
			}
		}

		bounds := el.Bounds()

		// An element outside the union area cannot affect any
		// observer's region; skip compositing it but keep walking.
		if !bounds.Overlaps(sampledArea) {
			return false
		}

		intersectsAny := false
		for i, d := range descs {
			if bounds.Overlaps(d.area) {
				covered[i] = true
				intersectsAny = true
			}
		}
		if intersectsAny {
			w.log.Debug("compositing element",
				"trace_id", traceID,
				"element_id", uint64(el.ID()),
				"bounds", bounds.String())
		}
		return intersectsAny
	}

	w.mu.Unlock()
	buf, err := w.renderer.Capture(sampledArea, filter)
	w.mu.Lock()

	if err != nil {
		w.abortedPasses++
		w.log.Warn("capture failed, pass skipped",
			"trace_id", traceID,
			"area", sampledArea.String(),
			"error", err)
		return
	}

	active := make([]descriptor, 0, len(descs))
	for i, d := range descs {
		if covered[i] && !d.area.Empty() {
			active = append(active, d)
		}
	}

	lumas := w.sampleBuffer(buf, sampledArea.Min, active, traceID)

	if len(lumas) != len(active) {
		// Internal consistency failure: suppress the whole pass rather
		// than deliver partially.
		w.abortedPasses++
		w.log.Warn("luma count mismatch, deliveries suppressed",
			"trace_id", traceID,
			"lumas", len(lumas),
			"active", len(active))
		return
	}

	w.log.Debug("pass complete",
		"trace_id", traceID,
		"descriptors", len(descs),
		"active", len(active))
	w.samplesDelivered += uint64(len(active))

	w.mu.Unlock()
	for i, d := range active {
		d.listener.OnSampleCollected(lumas[i])
	}
	w.mu.Lock()
}

// sampleBuffer maps buf and estimates one luma per descriptor, with
// each area translated into buffer-local coordinates. Returns nil if
// the mapping fails (the caller's count check then suppresses the
// pass). The view is unmapped on every path.
func (w *Worker) sampleBuffer(buf PixelBuffer, leftTop image.Point, descs []descriptor, traceID string) []float64 {
	pix, err := buf.Map()
	defer buf.Unmap()
	if err != nil {
		w.log.Warn("pixel buffer mapping failed",
			"trace_id", traceID,
			"error", err)
		return nil
	}

	stride := buf.Stride()
	lumas := make([]float64, len(descs))
	for i, d := range descs {
		lumas[i] = sampleArea(pix, stride, d.area.Sub(leftTop))
	}
	return lumas
}
