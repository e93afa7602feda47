// Package tracking accepts browser-side trackers (speech recognizer, face
// mesh, hand pose, control panel) over a WebSocket and forwards their
// output to the runtime.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/input"
	"github.com/normanking/avatarmotion/internal/metrics"
)

const (
	writeWait = 10 * time.Second
	sendQueue = 32
)

// Message types sent by trackers.
const (
	TypeSpeech  = "speech"
	TypeHand    = "hand"
	TypeFace    = "face"
	TypeButton  = "button"
	TypeCommand = "command"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrNoMatch     = errors.New("no command recognized")
)

// Sink receives normalized tracker output. Both calls must not block.
type Sink interface {
	PushCommand(ev command.Event) error
	PushFace(m avatar3d.FaceMetrics) error
}

// Message is one tracker frame.
type Message struct {
	Type      string               `json:"type"`
	Text      string               `json:"text,omitempty"`  // speech transcript
	Final     *bool                `json:"final,omitempty"` // speech; interim results are ignored
	ID        string               `json:"id,omitempty"`    // button id
	Command   string               `json:"command,omitempty"`
	Landmarks []mgl32.Vec3         `json:"landmarks,omitempty"` // face mesh
	Head      *mgl32.Vec3          `json:"head,omitempty"`      // head rotation in radians
	Hand      *input.HandLandmarks `json:"hand,omitempty"`
}

// Reply is sent back for every frame that produced a command or an error,
// and for every forwarded bus event.
type Reply struct {
	Type    string         `json:"type"` // ack, error, event
	Command string         `json:"command,omitempty"`
	Error   string         `json:"error,omitempty"`
	Event   string         `json:"event,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ForwardedEvents are the bus events pushed to every connected page.
var ForwardedEvents = []bus.EventType{
	bus.EventTypeStateChanged,
	bus.EventTypeAnimationChanged,
	bus.EventTypeAnimationMissing,
	bus.EventTypeWalkArrived,
	bus.EventTypeCatalogLoaded,
	bus.EventTypeCatalogFailed,
	bus.EventTypeChatStatus,
	bus.EventTypeChatReply,
}

// Config holds tracker limits.
type Config struct {
	HandThreshold float32
	MaxMessage    int64
	PingInterval  time.Duration
}

// DefaultConfig returns the serve defaults.
func DefaultConfig() Config {
	return Config{
		HandThreshold: input.DefaultFingerThreshold,
		MaxMessage:    1 << 20,
		PingInterval:  30 * time.Second,
	}
}

// Handler upgrades tracker connections and owns their pumps.
type Handler struct {
	sink     Sink
	cfg      Config
	speech   *input.SpeechMatcher
	upgrader websocket.Upgrader
	bus      *bus.EventBus
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l.With().Str("component", "tracking").Logger() }
}

// WithBus publishes connect and disconnect events and forwards
// ForwardedEvents to the connected pages.
func WithBus(b *bus.EventBus) Option {
	return func(h *Handler) { h.bus = b }
}

// WithSpeechMatcher overrides the phrase rules for speech frames.
func WithSpeechMatcher(m *input.SpeechMatcher) Option {
	return func(h *Handler) { h.speech = m }
}

// NewHandler creates a tracker endpoint.
func NewHandler(sink Sink, cfg Config, opts ...Option) *Handler {
	def := DefaultConfig()
	if cfg.HandThreshold <= 0 {
		cfg.HandThreshold = def.HandThreshold
	}
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = def.MaxMessage
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		sink:   sink,
		cfg:    cfg,
		speech: input.NewSpeechMatcher(nil),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Trackers run in a local browser page.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  zerolog.Nop(),
		clients: make(map[string]*client),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bus != nil {
		h.bus.SubscribeMultiple(ForwardedEvents, h.forward)
	}
	return h
}

// forward runs on the emitting goroutine, usually the tick loop, so it
// never blocks.
func (h *Handler) forward(e bus.Event) {
	if h.ctx.Err() != nil {
		return
	}
	h.Broadcast(Reply{Type: "event", Event: string(e.Type), Data: e.Data})
}

// Broadcast queues r for every connected tracker. Slow clients miss it.
func (h *Handler) Broadcast(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		h.logger.Debug().Err(err).Str("event", r.Event).Msg("Broadcast not encodable")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug().Str("client", c.id).Msg("Broadcast queue full, dropped")
		}
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendQueue),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	metrics.TrackerConnections.Inc()
	h.logger.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Int("clients", count).Msg("Tracker connected")
	h.bus.Emit(bus.EventTypeTrackerConnected, map[string]any{"client": c.id})

	h.wg.Add(2)
	go h.writePump(c)
	go h.readPump(c)
}

// Count returns the number of connected trackers.
func (h *Handler) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every tracker and waits for the pumps to exit.
func (h *Handler) Close() {
	h.cancel()
	h.mu.RLock()
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
	h.mu.RUnlock()
	h.wg.Wait()
}

// Handle normalizes one frame and pushes the result to the sink.
func (h *Handler) Handle(msg Message) (command.Command, error) {
	switch msg.Type {
	case TypeFace:
		m, ok := avatar3d.MetricsFromLandmarks(msg.Landmarks)
		if !ok {
			return command.None, fmt.Errorf("face frame needs %d landmarks, got %d", avatar3d.MinFaceLandmarks, len(msg.Landmarks))
		}
		if msg.Head != nil {
			head := *msg.Head
			m.Head = &head
		}
		return command.None, h.sink.PushFace(m)

	case TypeSpeech:
		if msg.Final != nil && !*msg.Final {
			return command.None, nil
		}
		cmd, ok := h.speech.Match(msg.Text)
		if !ok {
			return command.None, ErrNoMatch
		}
		return cmd, h.sink.PushCommand(command.NewEvent(cmd, command.SourceVoice))

	case TypeHand:
		if msg.Hand == nil {
			return command.None, errors.New("hand frame without landmarks")
		}
		cmd, ok := input.ClassifyHand(*msg.Hand, h.cfg.HandThreshold)
		if !ok {
			return command.None, nil
		}
		return cmd, h.sink.PushCommand(command.NewEvent(cmd, command.SourceGesture))

	case TypeButton:
		cmd, ok := input.ButtonCommand(msg.ID)
		if !ok {
			return command.None, fmt.Errorf("unknown button %q", msg.ID)
		}
		return cmd, h.sink.PushCommand(command.NewEvent(cmd, command.SourceButton))

	case TypeCommand:
		cmd := command.Parse(msg.Command)
		if cmd.IsNone() {
			return command.None, errors.New("empty command")
		}
		return cmd, h.sink.PushCommand(command.NewEvent(cmd, command.SourceAPI))
	}
	return command.None, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
}

func (h *Handler) readPump(c *client) {
	defer h.wg.Done()
	defer h.drop(c)

	pongWait := h.cfg.PingInterval * 10 / 9
	c.conn.SetReadLimit(h.cfg.MaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && h.ctx.Err() == nil {
				h.logger.Warn().Err(err).Str("client", c.id).Msg("Tracker read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug().Err(err).Str("client", c.id).Msg("Malformed tracker frame ignored")
			h.reply(c, Reply{Type: "error", Error: "malformed frame"})
			continue
		}

		cmd, err := h.Handle(msg)
		switch {
		case errors.Is(err, ErrNoMatch):
			// Speech without a known phrase is normal.
		case err != nil:
			h.logger.Debug().Err(err).Str("client", c.id).Str("type", msg.Type).Msg("Tracker frame rejected")
			h.reply(c, Reply{Type: "error", Error: err.Error()})
		case !cmd.IsNone():
			h.reply(c, Reply{Type: "ack", Command: string(cmd)})
		}
	}
}

func (h *Handler) writePump(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Handler) reply(c *client, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Debug().Str("client", c.id).Msg("Reply queue full, dropped")
	}
}

func (h *Handler) drop(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		count := len(h.clients)
		h.mu.Unlock()

		close(c.send)
		_ = c.conn.Close()

		metrics.TrackerConnections.Dec()
		h.logger.Info().Str("client", c.id).Int("clients", count).Msg("Tracker disconnected")
		h.bus.Emit(bus.EventTypeTrackerDisconnected, map[string]any{"client": c.id})
	})
}
