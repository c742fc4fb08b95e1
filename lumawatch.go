package lumawatch

import (
	"errors"
	"image"
	"log/slog"

	"github.com/e7canasta/lumawatch/internal/sampler"
)

// Re-exported collaborator contracts and identities.
// See internal/sampler/types.go for full documentation.
type (
	Handle        = sampler.Handle
	ElementID     = sampler.ElementID
	Listener      = sampler.Listener
	Element       = sampler.Element
	ElementFilter = sampler.ElementFilter
	PixelBuffer   = sampler.PixelBuffer
	Renderer      = sampler.Renderer
	DeathWatcher  = sampler.DeathWatcher
	Stats         = sampler.Stats
)

var (
	// ErrNilRenderer is returned by New when Config.Renderer is unset.
	ErrNilRenderer = errors.New("renderer is required")

	// ErrNilDeathWatcher is returned by New when Config.DeathWatcher
	// is unset.
	ErrNilDeathWatcher = errors.New("death watcher is required")
)

// Sampler is the public interface of the region sampling worker.
//
// Lifecycle: New() → Start() → AddListener()/RequestSample() → Stop().
// All methods are safe for concurrent use.
type Sampler interface {
	// Start spawns the dedicated worker goroutine and returns
	// immediately. Returns an error if already started.
	Start() error

	// Stop shuts the worker down and blocks until its goroutine has
	// exited (join semantics). An in-flight capture pass completes
	// first; no listener callback is delivered after Stop returns.
	// Idempotent.
	Stop() error

	// AddListener registers (or replaces, keyed by the listener's
	// Handle) a sampling request for area. stopElement is a z-order
	// cutoff, zero for none. The worker watches the listener's
	// endpoint for death and deregisters it automatically.
	AddListener(area image.Rectangle, stopElement ElementID, listener Listener)

	// RemoveListener deregisters the listener's endpoint. No-op if
	// absent.
	RemoveListener(listener Listener)

	// RequestSample queues one capture pass and wakes the worker.
	// Requests during an in-flight pass coalesce.
	RequestSample()

	// Stats returns a snapshot of operational counters.
	Stats() Stats
}

// NextHandle allocates a fresh endpoint identity for in-process
// listeners (adapters, tests, simulators) that have no IPC handle of
// their own. Remote listeners report their transport's handle instead.
func NextHandle() Handle {
	return sampler.NextHandle()
}

// Config carries the sampler's collaborators.
type Config struct {
	// Renderer produces filtered captures of screen regions (required).
	Renderer Renderer

	// DeathWatcher delivers listener endpoint death notifications
	// (required).
	DeathWatcher DeathWatcher

	// Logger receives structured pass/abort logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// New validates cfg and constructs a sampler. The worker goroutine is
// not spawned until Start.
func New(cfg Config) (Sampler, error) {
	if cfg.Renderer == nil {
		return nil, ErrNilRenderer
	}
	if cfg.DeathWatcher == nil {
		return nil, ErrNilDeathWatcher
	}
	return sampler.NewWorker(cfg.Renderer, cfg.DeathWatcher, cfg.Logger), nil
}
