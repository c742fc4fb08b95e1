// Package lumawatch implements a background region luma sampling
// worker for display compositors.
//
// The worker periodically measures the average perceptual brightness
// (luma) of screen sub-regions and reports it to registered listeners,
// so that display-adjacent features (adaptive contrast, backlight
// control) can react to on-screen content without polling the
// compositor or blocking its rendering path.
//
// # Quick Start
//
//	smp, err := lumawatch.New(lumawatch.Config{
//	    Renderer:     myCompositor,
//	    DeathWatcher: myIPCLayer,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := smp.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer smp.Stop()
//
//	smp.AddListener(image.Rect(0, 0, 1920, 128), stopElementID, listener)
//	smp.RequestSample()
//
// # Design
//
//   - One dedicated worker goroutine coordinates with caller
//     goroutines through a single mutex + condition variable pair.
//   - The worker releases its lock across the renderer capture call;
//     the renderer's own goroutine may reentrantly call RequestSample
//     during a capture without deadlocking.
//   - Sample requests arriving during an in-flight pass coalesce into
//     at most one further pass. Drop requests, never queue them.
//   - Brightness is a histogram majority-bucket estimate (approximate
//     median) over the raw RGBA capture, using Rec. 709 luma weights.
//
// # Collaborators
//
// The compositor's renderer, its visual element tree, the pixel buffer
// mapping and the IPC death notification mechanism are consumed
// through narrow interfaces (Renderer, Element, PixelBuffer,
// DeathWatcher); this package owns none of them.
package lumawatch
