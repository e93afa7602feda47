// Package engine runs the avatar on a single tick goroutine. Every other
// goroutine (HTTP handlers, trackers, chat replies, the model watcher) only
// pushes into the runtime's inboxes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarmotion/internal/animation"
	"github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/metrics"
	"github.com/normanking/avatarmotion/internal/router"
)

var (
	// ErrInboxFull is returned when the tick loop is not keeping up.
	ErrInboxFull = errors.New("engine: inbox full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine: closed")
)

// Config controls the tick loop.
type Config struct {
	FrameRate     int
	MaxFrameDelta time.Duration
	InboxSize     int
	Debounce      time.Duration
}

// DefaultConfig returns 60 fps with a 100ms delta clamp.
func DefaultConfig() Config {
	return Config{
		FrameRate:     60,
		MaxFrameDelta: 100 * time.Millisecond,
		InboxSize:     64,
		Debounce:      router.DefaultDebounce,
	}
}

// Runtime owns the controller and the command router.
type Runtime struct {
	cfg        Config
	controller *avatar3d.Controller
	router     *router.Router
	bus        *bus.EventBus
	base       zerolog.Logger
	logger     zerolog.Logger

	commands chan command.Event
	faces    chan avatar3d.FaceMetrics
	walks    chan mgl32.Vec3
	catalogs chan *animation.Catalog

	mu       sync.RWMutex
	snapshot avatar3d.Snapshot
	catalog  *animation.Catalog
	watcher  *ModelWatcher

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) { r.base = l }
}

// WithBus publishes catalog and router events.
func WithBus(b *bus.EventBus) Option {
	return func(r *Runtime) { r.bus = b }
}

// New wraps ctrl. The controller must not be touched by anything else
// afterwards.
func New(ctrl *avatar3d.Controller, cfg Config, opts ...Option) *Runtime {
	def := DefaultConfig()
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.MaxFrameDelta <= 0 {
		cfg.MaxFrameDelta = def.MaxFrameDelta
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}

	r := &Runtime{
		cfg:        cfg,
		controller: ctrl,
		base:       zerolog.Nop(),
		commands:   make(chan command.Event, cfg.InboxSize),
		faces:      make(chan avatar3d.FaceMetrics, cfg.InboxSize),
		walks:      make(chan mgl32.Vec3, cfg.InboxSize),
		catalogs:   make(chan *animation.Catalog, 4),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.base.With().Str("component", "engine").Logger()
	r.router = router.New(ctrl,
		router.WithDebounce(cfg.Debounce),
		router.WithLogger(r.base),
		router.WithBus(r.bus),
	)
	r.snapshot = ctrl.Snapshot()
	r.catalog = ctrl.Catalog()
	return r
}

// PushCommand queues a command for the next tick.
func (r *Runtime) PushCommand(ev command.Event) error {
	if r.isClosed() {
		return ErrClosed
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case r.commands <- ev:
		return nil
	default:
		metrics.CommandsDropped.WithLabelValues("inbox_full").Inc()
		r.logger.Warn().Str("command", ev.Command.String()).Str("source", string(ev.Source)).Msg("Command inbox full")
		return ErrInboxFull
	}
}

// PushFace queues a face sample. Samples are dropped silently under load.
func (r *Runtime) PushFace(m avatar3d.FaceMetrics) error {
	if r.isClosed() {
		return ErrClosed
	}
	select {
	case r.faces <- m:
		return nil
	default:
		return ErrInboxFull
	}
}

// PushWalk queues an explicit walk target.
func (r *Runtime) PushWalk(target mgl32.Vec3) error {
	if r.isClosed() {
		return ErrClosed
	}
	select {
	case r.walks <- target:
		return nil
	default:
		return ErrInboxFull
	}
}

// PushCatalog queues a catalog swap.
func (r *Runtime) PushCatalog(cat *animation.Catalog) error {
	if r.isClosed() {
		return ErrClosed
	}
	select {
	case r.catalogs <- cat:
		return nil
	default:
		return ErrInboxFull
	}
}

// LoadModel reads a glTF file on the caller's goroutine and queues its
// catalog. On failure the current catalog stays in place.
func (r *Runtime) LoadModel(path string) (*animation.Catalog, error) {
	cat, err := animation.LoadGLTF(path)
	if err != nil {
		r.logger.Error().Err(err).Str("model", path).Msg("Failed to load model")
		r.bus.Emit(bus.EventTypeCatalogFailed, map[string]any{"model": path, "error": err.Error()})
		return nil, err
	}
	if err := r.PushCatalog(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// WatchModel reloads path whenever it changes on disk. A previous watch is
// replaced.
func (r *Runtime) WatchModel(path string) error {
	mw, err := NewModelWatcher(path, func(p string) { _, _ = r.LoadModel(p) }, r.logger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	prev := r.watcher
	r.watcher = mw
	r.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	r.logger.Info().Str("model", mw.Path()).Msg("Watching model for changes")
	return nil
}

// Snapshot returns the state as of the last tick.
func (r *Runtime) Snapshot() avatar3d.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.snapshot
	s.Pose = s.Pose.Clone()
	return s
}

// Catalog returns the catalog as of the last tick. Catalogs are immutable.
func (r *Runtime) Catalog() *animation.Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

// Run ticks at the configured frame rate until ctx is cancelled or Close
// is called. The controller is closed when Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer r.controller.Close()

	r.logger.Info().Int("fps", r.cfg.FrameRate).Msg("Tick loop started")
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Tick loop stopped")
			return ctx.Err()
		case <-r.closed:
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if dt > r.cfg.MaxFrameDelta {
				dt = r.cfg.MaxFrameDelta
			}
			r.Step(dt)
		}
	}
}

// Step drains the inboxes and advances the avatar by dt. Only the tick
// goroutine may call it; tests call it directly instead of Run.
func (r *Runtime) Step(dt time.Duration) {
	start := time.Now()

	r.drainCatalogs()
	r.drainCommands()
	r.drainWalks()
	r.drainFaces()

	r.controller.Tick(float32(dt.Seconds()))

	snap := r.controller.Snapshot()
	r.mu.Lock()
	r.snapshot = snap
	r.catalog = r.controller.Catalog()
	r.mu.Unlock()

	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (r *Runtime) drainCommands() {
	for {
		select {
		case ev := <-r.commands:
			r.router.Submit(ev.Command, ev.At.UnixMilli())
		default:
			return
		}
	}
}

func (r *Runtime) drainWalks() {
	for {
		select {
		case t := <-r.walks:
			r.controller.WalkTo(t)
		default:
			return
		}
	}
}

func (r *Runtime) drainFaces() {
	for {
		select {
		case m := <-r.faces:
			r.controller.ApplyFace(m)
		default:
			return
		}
	}
}

func (r *Runtime) drainCatalogs() {
	for {
		select {
		case cat := <-r.catalogs:
			r.controller.SetCatalog(cat)
			r.bus.Emit(bus.EventTypeCatalogLoaded, map[string]any{
				"model": cat.Source(),
				"clips": cat.Names(),
			})
		default:
			return
		}
	}
}

// Close stops the watcher and makes Run return.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		r.mu.Lock()
		mw := r.watcher
		r.watcher = nil
		r.mu.Unlock()
		if mw != nil {
			if cerr := mw.Close(); cerr != nil {
				err = fmt.Errorf("failed to close model watcher: %w", cerr)
			}
		}
	})
	return err
}

func (r *Runtime) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
