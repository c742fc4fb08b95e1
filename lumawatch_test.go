package lumawatch_test

import (
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/lumawatch"
)

// --- Black-box fakes built only on the public contracts ---

type testElement struct {
	id     lumawatch.ElementID
	bounds image.Rectangle
	rgba   uint32
}

func (e testElement) ID() lumawatch.ElementID { return e.id }
func (e testElement) Bounds() image.Rectangle { return e.bounds }

type testBuffer struct {
	pix    []uint32
	stride int
}

func (b *testBuffer) Stride() int            { return b.stride }
func (b *testBuffer) Map() ([]uint32, error) { return b.pix, nil }
func (b *testBuffer) Unmap()                 {}

// blockingRenderer composites solid elements and can hold every
// Capture call until released, simulating a slow compositor main
// goroutine. onCapture runs inside Capture, where a real compositor
// might reentrantly call back into the sampler.
type blockingRenderer struct {
	mu        sync.Mutex
	elements  []testElement
	onCapture func()

	captureStarted chan struct{} // signaled once per Capture
	release        chan struct{} // nil = don't block
	captures       atomic.Int64
}

func (r *blockingRenderer) Capture(region image.Rectangle, filter lumawatch.ElementFilter) (lumawatch.PixelBuffer, error) {
	r.captures.Add(1)

	r.mu.Lock()
	elements := make([]testElement, len(r.elements))
	copy(elements, r.elements)
	hook := r.onCapture
	started := r.captureStarted
	release := r.release
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	buf := &testBuffer{
		pix:    make([]uint32, region.Dx()*region.Dy()),
		stride: region.Dx(),
	}
	for _, el := range elements {
		if !filter(el) {
			continue
		}
		paint := el.bounds.Intersect(region)
		for y := paint.Min.Y; y < paint.Max.Y; y++ {
			for x := paint.Min.X; x < paint.Max.X; x++ {
				buf.pix[(y-region.Min.Y)*buf.stride+(x-region.Min.X)] = el.rgba
			}
		}
	}
	return buf, nil
}

type testWatcher struct{}

func (testWatcher) Watch(h lumawatch.Handle, onDied func(lumawatch.Handle)) {}

type countingListener struct {
	handle  lumawatch.Handle
	count   atomic.Int64
	samples chan float64
}

func newCountingListener() *countingListener {
	return &countingListener{
		handle:  lumawatch.NextHandle(),
		samples: make(chan float64, 64),
	}
}

func (l *countingListener) Handle() lumawatch.Handle { return l.handle }

func (l *countingListener) OnSampleCollected(luma float64) {
	l.count.Add(1)
	select {
	case l.samples <- luma:
	default:
	}
}

func mustStart(t *testing.T, r lumawatch.Renderer) lumawatch.Sampler {
	t.Helper()
	smp, err := lumawatch.New(lumawatch.Config{Renderer: r, DeathWatcher: testWatcher{}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := smp.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { smp.Stop() })
	return smp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var grayStack = []testElement{
	{id: 1, bounds: image.Rect(0, 0, 100, 100), rgba: 0xFF505050},
}

// --- Test 1: reentrant RequestSample during a capture ---

// TestReentrantRequestSampleNoDeadlock validates the lock-drop
// protocol: the renderer reentrantly calls RequestSample from inside
// Capture, exactly as a compositor main goroutine does when
// compositing produces new content. The call must not deadlock, and
// the reentrant request must trigger one follow-up pass.
func TestReentrantRequestSampleNoDeadlock(t *testing.T) {
	renderer := &blockingRenderer{elements: grayStack}

	var smp lumawatch.Sampler
	var reentered atomic.Bool
	renderer.onCapture = func() {
		// Only reenter once or the passes never settle.
		if reentered.CompareAndSwap(false, true) {
			smp.RequestSample()
		}
	}

	smp = mustStart(t, renderer)

	l := newCountingListener()
	smp.AddListener(image.Rect(0, 0, 50, 50), 0, l)
	smp.RequestSample()

	waitFor(t, "two passes (original + reentrant)", func() bool {
		return smp.Stats().Passes >= 2
	})
	waitFor(t, "two deliveries", func() bool {
		return l.count.Load() >= 2
	})
}

// --- Test 2: shutdown joins an in-flight pass ---

// TestStopJoinsInFlightPass validates shutdown semantics: Stop called
// while a pass is blocked inside the renderer must not return until
// the pass completes, and no callback may arrive after Stop returns.
func TestStopJoinsInFlightPass(t *testing.T) {
	renderer := &blockingRenderer{
		elements:       grayStack,
		captureStarted: make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	smp := mustStart(t, renderer)

	l := newCountingListener()
	smp.AddListener(image.Rect(0, 0, 50, 50), 0, l)
	smp.RequestSample()

	<-renderer.captureStarted

	stopDone := make(chan struct{})
	go func() {
		smp.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop() returned while the pass was still blocked in the renderer")
	case <-time.After(50 * time.Millisecond):
	}

	close(renderer.release)

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after the pass completed")
	}

	// The trailing delivery from the in-flight pass is allowed, but
	// nothing may arrive after Stop has returned.
	settled := l.count.Load()
	time.Sleep(100 * time.Millisecond)
	if got := l.count.Load(); got != settled {
		t.Errorf("callbacks after Stop returned: %d -> %d", settled, got)
	}
}

// --- Test 3: request coalescing ---

// TestRequestsCoalesce validates that sample requests arriving during
// an in-flight pass collapse into at most one additional pass: the
// pass count must not be proportional to the request count.
func TestRequestsCoalesce(t *testing.T) {
	renderer := &blockingRenderer{
		elements:       grayStack,
		captureStarted: make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	smp := mustStart(t, renderer)

	l := newCountingListener()
	smp.AddListener(image.Rect(0, 0, 50, 50), 0, l)
	smp.RequestSample()

	<-renderer.captureStarted

	for i := 0; i < 25; i++ {
		smp.RequestSample()
	}

	// Unblock the first pass, then every subsequent one.
	rel := renderer.release
	renderer.mu.Lock()
	renderer.release = nil
	renderer.captureStarted = nil
	renderer.mu.Unlock()
	close(rel)

	waitFor(t, "deliveries to settle", func() bool {
		return smp.Stats().Passes >= 2
	})
	time.Sleep(100 * time.Millisecond)

	if got := smp.Stats().Passes; got > 2 {
		t.Errorf("passes = %d, want <= 2 (25 requests during one pass must coalesce)", got)
	}
}

// --- Test 4: identity replaces, never merges ---

// TestReRegistrationReplacesDescriptor validates that registering the
// same endpoint again fully replaces its descriptor: samples reflect
// only the new area.
func TestReRegistrationReplacesDescriptor(t *testing.T) {
	renderer := &blockingRenderer{
		elements: []testElement{
			{id: 1, bounds: image.Rect(0, 0, 10, 10), rgba: 0xFFF0F0F0},   // bright
			{id: 2, bounds: image.Rect(50, 50, 60, 60), rgba: 0xFF101010}, // dark
		},
	}
	smp := mustStart(t, renderer)

	l := newCountingListener()
	smp.AddListener(image.Rect(0, 0, 10, 10), 0, l)
	smp.AddListener(image.Rect(50, 50, 60, 60), 0, l)

	smp.RequestSample()

	waitFor(t, "one delivery", func() bool { return l.count.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if got := l.count.Load(); got != 1 {
		t.Fatalf("deliveries = %d, want exactly 1 (one descriptor per endpoint)", got)
	}

	luma := <-l.samples
	if luma > 0.5 {
		t.Errorf("luma = %v, want dark value from the replacing area", luma)
	}
}

// --- Test 5: removal during an in-flight pass ---

// TestRemoveListenerDuringPass validates that removing an observer
// while a pass it was snapshotted into is in flight never deadlocks;
// the trailing delivery may or may not arrive, and later passes
// exclude the observer.
func TestRemoveListenerDuringPass(t *testing.T) {
	renderer := &blockingRenderer{
		elements:       grayStack,
		captureStarted: make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	smp := mustStart(t, renderer)

	l := newCountingListener()
	smp.AddListener(image.Rect(0, 0, 50, 50), 0, l)
	smp.RequestSample()

	<-renderer.captureStarted
	smp.RemoveListener(l)

	rel := renderer.release
	renderer.mu.Lock()
	renderer.release = nil
	renderer.captureStarted = nil
	renderer.mu.Unlock()
	close(rel)

	waitFor(t, "first pass completion", func() bool {
		return smp.Stats().Passes >= 1
	})

	// A trailing delivery from the snapshotted pass is acceptable.
	afterFirst := l.count.Load()
	if afterFirst > 1 {
		t.Fatalf("deliveries after removal = %d, want at most 1", afterFirst)
	}

	// Later passes must not see the removed observer.
	smp.RequestSample()
	time.Sleep(100 * time.Millisecond)
	if got := l.count.Load(); got != afterFirst {
		t.Errorf("removed observer received a delivery from a later pass")
	}
}

// --- Test 6: registration during a pass lands next pass ---

// TestRegistrationDuringPassTakesEffectNextPass validates the snapshot
// contract: a listener registered while a pass is in flight is not
// part of that pass but is sampled by the next one.
func TestRegistrationDuringPassTakesEffectNextPass(t *testing.T) {
	renderer := &blockingRenderer{
		elements:       grayStack,
		captureStarted: make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	smp := mustStart(t, renderer)

	first := newCountingListener()
	smp.AddListener(image.Rect(0, 0, 50, 50), 0, first)
	smp.RequestSample()

	<-renderer.captureStarted

	late := newCountingListener()
	smp.AddListener(image.Rect(10, 10, 40, 40), 0, late)

	rel := renderer.release
	renderer.mu.Lock()
	renderer.release = nil
	renderer.captureStarted = nil
	renderer.mu.Unlock()
	close(rel)

	waitFor(t, "first pass completion", func() bool {
		return smp.Stats().Passes >= 1
	})
	if got := late.count.Load(); got != 0 {
		t.Fatalf("late listener sampled by the in-flight pass (deliveries=%d)", got)
	}

	smp.RequestSample()
	waitFor(t, "late listener delivery", func() bool {
		return late.count.Load() >= 1
	})
}

// --- Test 7: lifecycle edges ---

func TestDoubleStartFails(t *testing.T) {
	smp, err := lumawatch.New(lumawatch.Config{Renderer: &blockingRenderer{}, DeathWatcher: testWatcher{}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := smp.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer smp.Stop()

	if err := smp.Start(); err == nil {
		t.Error("second Start() must fail")
	}
}

func TestStopIdempotent(t *testing.T) {
	smp, err := lumawatch.New(lumawatch.Config{Renderer: &blockingRenderer{}, DeathWatcher: testWatcher{}})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := smp.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := smp.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := smp.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
}

func TestNewValidatesCollaborators(t *testing.T) {
	if _, err := lumawatch.New(lumawatch.Config{DeathWatcher: testWatcher{}}); err != lumawatch.ErrNilRenderer {
		t.Errorf("missing renderer: err = %v, want ErrNilRenderer", err)
	}
	if _, err := lumawatch.New(lumawatch.Config{Renderer: &blockingRenderer{}}); err != lumawatch.ErrNilDeathWatcher {
		t.Errorf("missing watcher: err = %v, want ErrNilDeathWatcher", err)
	}
}
