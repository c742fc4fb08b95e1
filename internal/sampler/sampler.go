package sampler

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
)

// Worker is the concrete region sampling worker.
//
// Goroutine topology:
//   - 1 fixed: sampleLoop (spawned by Start, joined by Stop)
//   - N external: caller goroutines invoking AddListener /
//     RemoveListener / RequestSample (not managed here)
//   - the renderer's own goroutine, which may reenter RequestSample
//     while a capture is in flight
//
// Thread-safety: all public methods safe for concurrent use. One mutex
// + condition variable pair protects the registry, the pending-request
// flag and the running flag; the loop drops the mutex only across the
// renderer call and callback delivery (see captureSample).
type Worker struct {
	renderer Renderer
	watcher  DeathWatcher
	log      *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	// Guarded by mu.
	registry        *registry
	sampleRequested bool
	running         bool

	// Guarded by mu (written only inside the pass, read by Stats).
	passes           uint64
	samplesDelivered uint64
	abortedPasses    uint64

	wg sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// NewWorker constructs a worker. The loop does not run until Start.
func NewWorker(renderer Renderer, watcher DeathWatcher, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		renderer: renderer,
		watcher:  watcher,
		log:      log,
		registry: newRegistry(),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start spawns the dedicated sample loop goroutine and returns
// immediately. Safe for concurrent calls; only the first succeeds.
func (w *Worker) Start() error {
	w.startedMu.Lock()
	defer w.startedMu.Unlock()

	if w.started {
		return fmt.Errorf("sampler already started")
	}
	w.started = true

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.sampleLoop()

	return nil
}

// Stop shuts the worker down and blocks until the loop goroutine has
// fully exited. An in-flight capture pass runs to completion first; no
// callback is delivered after Stop returns. Idempotent.
func (w *Worker) Stop() error {
	w.startedMu.Lock()
	if !w.started {
		w.startedMu.Unlock()
		return nil
	}
	w.startedMu.Unlock()

	w.mu.Lock()
	if !w.running {
		// A previous Stop already won; still wait for the join below
		// so every caller gets the same guarantee.
		w.mu.Unlock()
	} else {
		w.running = false
		w.cond.Signal()
		w.mu.Unlock()
	}

	w.wg.Wait()
	return nil
}

// AddListener inserts or replaces the sampling request for listener's
// endpoint. stopElement is a z-order cutoff (zero for none): elements
// at and above it are excluded from this listener's sampling basis.
//
// The worker also registers itself as a death watcher on the endpoint,
// so a listener that dies without calling RemoveListener is cleaned up
// automatically.
func (w *Worker) AddListener(area image.Rectangle, stopElement ElementID, listener Listener) {
	h := listener.Handle()

	// External registration first, outside our lock: the watcher is a
	// collaborator and must not observe our lock held.
	w.watcher.Watch(h, w.onHandleDied)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.registry.add(h, descriptor{area: area, stopElement: stopElement, listener: listener})
}

// RemoveListener erases the sampling request for listener's endpoint.
// No-op if it was never registered.
func (w *Worker) RemoveListener(listener Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.registry.remove(listener.Handle())
}

// onHandleDied is invoked by the death watcher from an arbitrary
// goroutine when a listener's endpoint becomes unreachable.
func (w *Worker) onHandleDied(h Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.registry.remove(h)
}

// RequestSample queues one capture pass and wakes the worker if idle.
// Requests arriving while a pass is in flight coalesce into at most one
// further pass.
func (w *Worker) RequestSample() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sampleRequested = true
	w.cond.Signal()
}

// Stats returns a snapshot of operational counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Listeners:        w.registry.size(),
		Passes:           w.passes,
		SamplesDelivered: w.samplesDelivered,
		AbortedPasses:    w.abortedPasses,
	}
}

// sampleLoop is the dedicated worker goroutine.
//
// The loop runs entirely under w.mu except for the two windows inside
// captureSample (renderer call, callback delivery). Wait order matches
// the request/shutdown protocol: consume a pending request, run the
// pass, then block until a new request or shutdown arrives.
func (w *Worker) sampleLoop() {
	defer w.wg.Done()

	w.mu.Lock()
	for w.running {
		if w.sampleRequested {
			w.sampleRequested = false
			w.captureSample()
		}
		for !w.sampleRequested && w.running {
			w.cond.Wait()
		}
	}
	w.mu.Unlock()
}
