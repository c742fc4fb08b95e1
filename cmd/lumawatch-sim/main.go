// Command lumawatch-sim runs the region sampling worker against a
// synthetic compositor: a handful of solid-color layers whose
// brightness drifts over time. Sampling regions come from a YAML
// config (hot-reloaded on change) and collected lumas are logged and,
// optionally, published to MQTT.
package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/e7canasta/lumawatch"
	"github.com/e7canasta/lumawatch/config"
	"github.com/e7canasta/lumawatch/emitter"
)

const version = "v0.1.0"

// consoleListener logs every collected sample.
type consoleListener struct {
	handle lumawatch.Handle
	region string
	log    *slog.Logger
}

func newConsoleListener(region string, log *slog.Logger) *consoleListener {
	return &consoleListener{
		handle: lumawatch.NextHandle(),
		region: region,
		log:    log,
	}
}

func (l *consoleListener) Handle() lumawatch.Handle { return l.handle }

func (l *consoleListener) OnSampleCollected(luma float64) {
	l.log.Info("sample collected", "region", l.region, "luma", fmt.Sprintf("%.4f", luma))
}

func main() {
	configPath := pflag.String("config", "lumawatch.yaml", "Path to YAML configuration")
	interval := pflag.Duration("interval", 2*time.Second, "Sample request interval")
	maxPasses := pflag.Int("max-passes", 0, "Stop after N sample requests (0 = unlimited)")
	debug := pflag.Bool("debug", false, "Enable debug logging")
	showVersion := pflag.Bool("version", false, "Show version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("lumawatch-sim %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *debug || cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Synthetic layer stack: a dark wallpaper, a mid-gray content
	// surface and a bright status bar.
	renderer := &simRenderer{
		layers: []simLayer{
			{id: 1, bounds: image.Rect(0, 0, 1920, 1080), rgba: rgba(16, 16, 24)},
			{id: 2, bounds: image.Rect(0, 64, 1920, 1080), rgba: rgba(96, 96, 104)},
			{id: 3, bounds: image.Rect(0, 0, 1920, 64), rgba: rgba(240, 240, 240)},
		},
	}

	smp, err := lumawatch.New(lumawatch.Config{
		Renderer:     renderer,
		DeathWatcher: noopWatcher{},
		Logger:       logger,
	})
	if err != nil {
		logger.Error("sampler construction failed", "error", err)
		os.Exit(1)
	}
	if err := smp.Start(); err != nil {
		logger.Error("sampler start failed", "error", err)
		os.Exit(1)
	}
	defer smp.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := &registrar{smp: smp, logger: logger}
	if err := reg.apply(ctx, cfg); err != nil {
		logger.Error("listener registration failed", "error", err)
		os.Exit(1)
	}
	defer reg.teardown()

	// Hot-reload: re-register listeners whenever the config changes.
	go func() {
		err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
			if err := reg.apply(ctx, next); err != nil {
				logger.Warn("config re-apply failed", "error", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("config watch stopped", "error", err)
		}
	}()

	logger.Info("lumawatch-sim running",
		"instance", cfg.InstanceID,
		"regions", len(cfg.Regions.Active),
		"interval", *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	passes := 0
	shade := uint8(96)
	for {
		select {
		case <-ctx.Done():
			stats := smp.Stats()
			logger.Info("shutting down",
				"passes", stats.Passes,
				"samples_delivered", stats.SamplesDelivered,
				"aborted_passes", stats.AbortedPasses)
			return

		case <-ticker.C:
			// Drift the content surface so successive samples differ.
			shade += 24
			renderer.SetLayerColor(2, rgba(shade, shade, shade))
			smp.RequestSample()

			passes++
			if *maxPasses > 0 && passes >= *maxPasses {
				cancel()
			}
		}
	}
}

// registrar owns the currently registered listeners so a config reload
// can replace them wholesale.
type registrar struct {
	smp    lumawatch.Sampler
	logger *slog.Logger

	mu        sync.Mutex
	listeners []lumawatch.Listener
	emitters  []*emitter.LumaEmitter
}

// apply replaces the registered listener set with cfg's active regions:
// a console listener per region plus, if enabled, an MQTT emitter.
func (r *registrar) apply(ctx context.Context, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.listeners {
		r.smp.RemoveListener(l)
	}
	r.listeners = r.listeners[:0]
	for _, e := range r.emitters {
		e.Disconnect()
	}
	r.emitters = r.emitters[:0]

	for _, name := range cfg.Regions.Active {
		def := cfg.Regions.Definitions[name]
		area := image.Rect(def.Rect[0], def.Rect[1], def.Rect[2], def.Rect[3])
		stop := lumawatch.ElementID(def.StopElement)

		cl := newConsoleListener(name, r.logger)
		r.smp.AddListener(area, stop, cl)
		r.listeners = append(r.listeners, cl)

		if cfg.Emitter.Enabled {
			em, err := emitter.New(emitter.Config{
				Broker:      cfg.Emitter.Broker,
				InstanceID:  cfg.InstanceID,
				Region:      name,
				TopicPrefix: cfg.Emitter.TopicPrefix,
				QoS:         cfg.Emitter.QoS,
				Logger:      r.logger,
			})
			if err != nil {
				return err
			}
			if err := em.Connect(ctx); err != nil {
				return fmt.Errorf("emitter for region %q: %w", name, err)
			}
			r.smp.AddListener(area, stop, em)
			r.listeners = append(r.listeners, em)
			r.emitters = append(r.emitters, em)
		}

		r.logger.Info("region registered",
			"region", name,
			"area", area.String(),
			"stop_element", def.StopElement)
	}

	return nil
}

func (r *registrar) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners {
		r.smp.RemoveListener(l)
	}
	for _, e := range r.emitters {
		e.Disconnect()
	}
}
