package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/input"
	"github.com/normanking/avatarmotion/internal/metrics"
	"github.com/rs/zerolog"
)

// Status is the backend health as last observed.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusTimeout Status = "timeout"
	StatusFailed  Status = "error"
)

// SessionConfig controls timeouts and transcript size.
type SessionConfig struct {
	SystemPrompt   string
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	ProbeRetries   int
	ProbeBackoff   time.Duration
	ProbeInterval  time.Duration // zero disables the periodic probe
	TranscriptSize int
	HistoryTurns   int // user/assistant messages sent as context
}

// DefaultSessionConfig returns the defaults used by the serve command.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SystemPrompt:   "You are a friendly 3D avatar. Keep replies short.",
		RequestTimeout: 15 * time.Second,
		ProbeTimeout:   3 * time.Second,
		ProbeRetries:   3,
		ProbeBackoff:   time.Second,
		ProbeInterval:  10 * time.Second,
		TranscriptSize: 100,
		HistoryTurns:   6,
	}
}

// CommandSink receives commands extracted from replies.
type CommandSink func(command.Command)

// Session is a single conversation against a Backend. Send never blocks
// on the backend; replies land in the transcript and, if they contain a
// keyword, in the command sink.
type Session struct {
	backend Backend
	cfg     SessionConfig
	matcher *input.ChatMatcher
	sink    CommandSink
	bus     *bus.EventBus
	logger  zerolog.Logger

	mu         sync.RWMutex
	transcript []Message
	status     Status
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = l.With().Str("component", "chat").Logger() }
}

// WithBus publishes status and reply events.
func WithBus(b *bus.EventBus) SessionOption {
	return func(s *Session) { s.bus = b }
}

// WithMatcher overrides the reply keyword matcher.
func WithMatcher(m *input.ChatMatcher) SessionOption {
	return func(s *Session) { s.matcher = m }
}

// NewSession creates a session. sink may be nil.
func NewSession(backend Backend, cfg SessionConfig, sink CommandSink, opts ...SessionOption) *Session {
	def := DefaultSessionConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.ProbeRetries <= 0 {
		cfg.ProbeRetries = 1
	}
	if cfg.TranscriptSize <= 0 {
		cfg.TranscriptSize = def.TranscriptSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend: backend,
		cfg:     cfg,
		matcher: input.NewChatMatcher(nil),
		sink:    sink,
		logger:  zerolog.Nop(),
		status:  StatusUnknown,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.SystemPrompt != "" {
		s.append(RoleSystem, cfg.SystemPrompt)
	}
	return s
}

// Start probes the backend once and then every ProbeInterval until Close.
func (s *Session) Start() {
	s.spawn(nil, func() {
		s.probe()
		if s.cfg.ProbeInterval <= 0 {
			return
		}
		ticker := time.NewTicker(s.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.probe()
			}
		}
	})
}

// Send queues a user message. The reply is delivered asynchronously.
func (s *Session) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	history := s.history()
	ok := s.spawn(func() { s.appendLocked(RoleUser, text) }, func() { s.exchange(text, history) })
	if !ok {
		return ErrSessionClosed
	}
	return nil
}

// spawn runs fn on a tracked goroutine unless the session is closed. locked
// runs first while s.mu is held.
func (s *Session) spawn(locked, fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	if locked != nil {
		locked()
	}
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// Status returns the last observed backend status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Backend returns the backend name.
func (s *Session) Backend() string { return s.backend.Name() }

// Transcript returns a copy of the transcript, oldest first.
func (s *Session) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Clear drops everything except the system prompt.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.transcript[:0]
	for _, m := range s.transcript {
		if m.Role == RoleSystem {
			kept = append(kept, m)
		}
	}
	s.transcript = kept
}

// Close cancels in-flight requests and waits for them to return.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Session) exchange(text string, history []Message) {
	if s.Status() != StatusOnline {
		if err := s.ensureOnline(); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			metrics.ChatErrors.WithLabelValues(string(StatusOffline)).Inc()
			s.append(RoleError, "chat backend is offline")
			s.logger.Warn().Err(err).Str("backend", s.backend.Name()).Msg("Backend offline, message not sent")
			return
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.backend.Complete(ctx, Request{
		System:  s.cfg.SystemPrompt,
		Prompt:  text,
		History: history,
	})
	elapsed := time.Since(start)
	metrics.ChatLatency.Observe(elapsed.Seconds())

	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		status := StatusFailed
		msg := "chat request failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			status = StatusTimeout
			msg = "chat request timed out"
		}
		metrics.ChatErrors.WithLabelValues(string(status)).Inc()
		s.setStatus(status)
		s.append(RoleError, msg)
		s.logger.Error().Err(err).Dur("elapsed", elapsed).Msg("Chat request failed")
		return
	}

	s.setStatus(StatusOnline)
	s.append(RoleAssistant, reply)
	s.logger.Info().Dur("elapsed", elapsed).Int("chars", len(reply)).Msg("Chat reply received")

	data := map[string]any{"reply": reply}
	if cmd, ok := s.matcher.Match(reply); ok {
		data["command"] = string(cmd)
		if s.sink != nil {
			s.sink(cmd)
		}
	}
	s.bus.Emit(bus.EventTypeChatReply, data)
}

// ensureOnline probes up to ProbeRetries times.
func (s *Session) ensureOnline() error {
	for i := 0; i < s.cfg.ProbeRetries; i++ {
		if i > 0 && s.cfg.ProbeBackoff > 0 {
			select {
			case <-s.ctx.Done():
				return s.ctx.Err()
			case <-time.After(s.cfg.ProbeBackoff):
			}
		}
		if s.probe() {
			return nil
		}
	}
	return ErrBackendOffline
}

func (s *Session) probe() bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProbeTimeout)
	defer cancel()

	if err := s.backend.Probe(ctx); err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		s.logger.Debug().Err(err).Msg("Probe failed")
		s.setStatus(StatusOffline)
		return false
	}
	s.setStatus(StatusOnline)
	return true
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	s.mu.Unlock()

	if prev == st {
		return
	}
	s.logger.Info().Str("from", string(prev)).Str("to", string(st)).Str("backend", s.backend.Name()).Msg("Chat status changed")
	s.bus.Emit(bus.EventTypeChatStatus, map[string]any{
		"from":    string(prev),
		"status":  string(st),
		"backend": s.backend.Name(),
	})
}

func (s *Session) append(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(role, content)
}

func (s *Session) appendLocked(role Role, content string) {
	s.transcript = append(s.transcript, Message{Role: role, Content: content, At: time.Now()})
	if over := len(s.transcript) - s.cfg.TranscriptSize; over > 0 {
		s.transcript = s.transcript[over:]
	}
}

// history returns the most recent user/assistant turns.
func (s *Session) history() []Message {
	if s.cfg.HistoryTurns <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for i := len(s.transcript) - 1; i >= 0 && len(out) < s.cfg.HistoryTurns; i-- {
		m := s.transcript[i]
		if m.Role == RoleUser || m.Role == RoleAssistant {
			out = append(out, m)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
