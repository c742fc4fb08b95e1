package main

import (
	"image"
	"sync"

	"github.com/e7canasta/lumawatch"
)

// simLayer is one solid-color visual element in the synthetic stack.
type simLayer struct {
	id     lumawatch.ElementID
	bounds image.Rectangle
	rgba   uint32 // R low byte, then G, then B
}

func (l simLayer) ID() lumawatch.ElementID { return l.id }
func (l simLayer) Bounds() image.Rectangle { return l.bounds }

// simRenderer is a synthetic compositor: a z-ordered stack of solid
// layers composited bottom-up into an RGBA buffer. It stands in for
// the real renderer collaborator so the sampler can run end to end
// without a display.
type simRenderer struct {
	mu     sync.Mutex
	layers []simLayer // compositing order, bottom first

	// onCapture, when set, runs on every Capture call before
	// compositing. The sim uses it to exercise the reentrant
	// RequestSample path a real compositor would trigger.
	onCapture func()
}

// SetLayerColor repaints one layer, as content changes would.
func (r *simRenderer) SetLayerColor(id lumawatch.ElementID, rgba uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.layers {
		if r.layers[i].id == id {
			r.layers[i].rgba = rgba
		}
	}
}

// Capture implements lumawatch.Renderer: walks the layer stack in
// compositing order, consulting filter per layer, and paints the
// allowed layers into a buffer sized to region.
func (r *simRenderer) Capture(region image.Rectangle, filter lumawatch.ElementFilter) (lumawatch.PixelBuffer, error) {
	r.mu.Lock()
	layers := make([]simLayer, len(r.layers))
	copy(layers, r.layers)
	hook := r.onCapture
	r.mu.Unlock()

	if hook != nil {
		hook()
	}

	buf := newSimBuffer(region)
	for _, l := range layers {
		if !filter(l) {
			continue
		}
		paint := l.bounds.Intersect(region)
		for y := paint.Min.Y; y < paint.Max.Y; y++ {
			row := (y - region.Min.Y) * buf.stride
			for x := paint.Min.X; x < paint.Max.X; x++ {
				buf.pix[row+(x-region.Min.X)] = l.rgba
			}
		}
	}
	return buf, nil
}

// simBuffer is a plain in-memory PixelBuffer.
type simBuffer struct {
	pix    []uint32
	stride int
}

func newSimBuffer(region image.Rectangle) *simBuffer {
	return &simBuffer{
		pix:    make([]uint32, region.Dx()*region.Dy()),
		stride: region.Dx(),
	}
}

func (b *simBuffer) Stride() int            { return b.stride }
func (b *simBuffer) Map() ([]uint32, error) { return b.pix, nil }
func (b *simBuffer) Unmap()                 {}

// noopWatcher satisfies the DeathWatcher contract for in-process
// listeners, which cannot die independently of the sim.
type noopWatcher struct{}

func (noopWatcher) Watch(h lumawatch.Handle, onDied func(lumawatch.Handle)) {}

func rgba(r, g, b uint8) uint32 {
	return uint32(r) | uint32(g)<<8 | uint32(b)<<16 | 0xFF<<24
}
