// Package router forwards normalized commands to the avatar controller,
// dropping bursts that arrive inside the debounce window.
package router

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/metrics"
)

// DefaultDebounce is the minimum spacing between two accepted commands.
const DefaultDebounce = 300 * time.Millisecond

// Sink receives accepted commands.
type Sink interface {
	Apply(cmd command.Command)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(command.Command)

// Apply calls f(cmd).
func (f SinkFunc) Apply(cmd command.Command) { f(cmd) }

// Router is not safe for concurrent use; it lives on the tick goroutine.
type Router struct {
	sink     Sink
	debounce int64
	logger   zerolog.Logger
	bus      *bus.EventBus

	lastAccepted int64
	hasAccepted  bool
}

// Option configures a Router.
type Option func(*Router)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(r *Router) {
		if d >= 0 {
			r.debounce = d.Milliseconds()
		}
	}
}

// WithLogger sets the router logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) {
		r.logger = l.With().Str("component", "router").Logger()
	}
}

// WithBus publishes accept/drop events.
func WithBus(b *bus.EventBus) Option {
	return func(r *Router) { r.bus = b }
}

// New creates a router forwarding to sink.
func New(sink Sink, opts ...Option) *Router {
	r := &Router{
		sink:     sink,
		debounce: DefaultDebounce.Milliseconds(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit forwards cmd unless it falls inside the debounce window measured
// from the last accepted command. It reports whether cmd was forwarded.
func (r *Router) Submit(cmd command.Command, timestampMs int64) bool {
	if cmd.IsNone() {
		return false
	}
	if r.hasAccepted && timestampMs-r.lastAccepted < r.debounce {
		r.logger.Debug().
			Str("command", cmd.String()).
			Int64("sinceLastMs", timestampMs-r.lastAccepted).
			Msg("Command debounced")
		metrics.CommandsDropped.WithLabelValues("debounce").Inc()
		r.bus.Emit(bus.EventTypeCommandDropped, map[string]any{
			"command": cmd.String(),
			"reason":  "debounce",
		})
		return false
	}

	r.lastAccepted = timestampMs
	r.hasAccepted = true

	r.logger.Info().Str("command", cmd.String()).Msg("Command accepted")
	metrics.CommandsAccepted.WithLabelValues(metricLabel(cmd)).Inc()
	r.bus.Emit(bus.EventTypeCommandAccepted, map[string]any{"command": cmd.String()})

	r.sink.Apply(cmd)
	return true
}

// literal names are unbounded, keep label cardinality fixed
func metricLabel(cmd command.Command) string {
	if cmd.IsLiteral() {
		return "literal"
	}
	return cmd.String()
}
