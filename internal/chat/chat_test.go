package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/input"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			_ = json.NewEncoder(w).Encode(map[string]string{"version": "0.5.1"})
		case "/api/generate":
			var req ollamaGenerateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.False(t, req.Stream)
			assert.Equal(t, "qwen2.5:7b", req.Model)
			_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Model: req.Model, Response: reply, Done: true})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaProbeAndComplete(t *testing.T) {
	srv := newOllamaServer(t, "  Sure, let's dance!  ")
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "", zerolog.Nop())
	require.NoError(t, o.Probe(context.Background()))

	reply, err := o.Complete(context.Background(), Request{System: "be brief", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Sure, let's dance!", reply)
}

func TestOllamaProbeOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewOllama(url, "m", zerolog.Nop()).Probe(context.Background())
	assert.ErrorIs(t, err, ErrBackendOffline)
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "m", zerolog.Nop()).Complete(context.Background(), Request{Prompt: "hi"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestFoldHistory(t *testing.T) {
	assert.Equal(t, "hi", foldHistory(nil, "hi"))
	got := foldHistory([]Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleError, Content: "skipped"},
		{Role: RoleAssistant, Content: "b"},
	}, "c")
	assert.Equal(t, "User: a\nAssistant: b\nUser: c\nAssistant:", got)
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/models":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"qwen2.5:7b","object":"model"}]}`))
		case "/v1/chat/completions":
			var body struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "qwen2.5:7b", body.Model)
			require.Len(t, body.Messages, 3)
			assert.Equal(t, "system", body.Messages[0].Role)
			assert.Equal(t, "assistant", body.Messages[1].Role)
			_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"I will jump"},"finish_reason":"stop"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL+"/v1", "", "qwen2.5:7b")
	require.NoError(t, o.Probe(context.Background()))

	reply, err := o.Complete(context.Background(), Request{
		System:  "sys",
		Prompt:  "jump?",
		History: []Message{{Role: RoleAssistant, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "I will jump", reply)
}

type fakeBackend struct {
	mu       sync.Mutex
	online   bool
	reply    string
	err      error
	delay    time.Duration
	probes   atomic.Int32
	requests []Request
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Probe(ctx context.Context) error {
	f.probes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return ErrBackendOffline
	}
	return nil
}

func (f *fakeBackend) Complete(ctx context.Context, r Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	delay, reply, err := f.delay, f.reply, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return reply, err
}

func lastRole(s *Session) Role {
	tr := s.Transcript()
	if len(tr) == 0 {
		return ""
	}
	return tr[len(tr)-1].Role
}

func TestSessionReplyDispatchesCommand(t *testing.T) {
	fb := &fakeBackend{online: true, reply: "OK, I'll start to dance now"}
	b := bus.NewEventBus()
	var replies atomic.Int32
	b.Subscribe(bus.EventTypeChatReply, func(e bus.Event) {
		assert.Equal(t, "dance", e.Data["command"])
		replies.Add(1)
	})

	var mu sync.Mutex
	var got []command.Command
	s := NewSession(fb, SessionConfig{SystemPrompt: "sys", ProbeRetries: 1}, func(c command.Command) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}, WithBus(b))
	defer s.Close()

	require.NoError(t, s.Send("can you dance?"))
	require.Eventually(t, func() bool { return replies.Load() == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []command.Command{command.Dance}, got)
	mu.Unlock()
	assert.Equal(t, StatusOnline, s.Status())

	tr := s.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, RoleSystem, tr[0].Role)
	assert.Equal(t, "can you dance?", tr[1].Content)
}

func TestSessionOfflineAfterRetries(t *testing.T) {
	fb := &fakeBackend{online: false}
	s := NewSession(fb, SessionConfig{ProbeRetries: 3, ProbeBackoff: time.Millisecond}, nil)
	defer s.Close()

	require.NoError(t, s.Send("hello"))
	require.Eventually(t, func() bool { return lastRole(s) == RoleError }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), fb.probes.Load())
	assert.Equal(t, StatusOffline, s.Status())
	fb.mu.Lock()
	assert.Empty(t, fb.requests)
	fb.mu.Unlock()
}

func TestSessionTimeout(t *testing.T) {
	fb := &fakeBackend{online: true, reply: "late", delay: time.Second}
	s := NewSession(fb, SessionConfig{RequestTimeout: 20 * time.Millisecond}, nil)
	defer s.Close()

	require.NoError(t, s.Send("hello"))
	require.Eventually(t, func() bool { return lastRole(s) == RoleError }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusTimeout, s.Status())
}

func TestSessionBackendError(t *testing.T) {
	fb := &fakeBackend{online: true, err: errors.New("boom")}
	s := NewSession(fb, SessionConfig{}, nil)
	defer s.Close()

	require.NoError(t, s.Send("hello"))
	require.Eventually(t, func() bool { return lastRole(s) == RoleError }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusFailed, s.Status())
}

func TestSessionSendValidation(t *testing.T) {
	s := NewSession(&fakeBackend{online: true}, SessionConfig{}, nil)
	assert.ErrorIs(t, s.Send("   "), ErrEmptyMessage)
	s.Close()
	assert.ErrorIs(t, s.Send("hi"), ErrSessionClosed)
}

func TestSessionTranscriptBounded(t *testing.T) {
	s := NewSession(&fakeBackend{}, SessionConfig{SystemPrompt: "sys", TranscriptSize: 3}, nil)
	defer s.Close()
	for i := 0; i < 5; i++ {
		s.append(RoleUser, "x")
	}
	assert.Len(t, s.Transcript(), 3)

	s.append(RoleSystem, "sys2")
	s.Clear()
	tr := s.Transcript()
	require.Len(t, tr, 1)
	assert.Equal(t, "sys2", tr[0].Content)
}

func TestSessionHistory(t *testing.T) {
	s := NewSession(&fakeBackend{}, SessionConfig{SystemPrompt: "sys", HistoryTurns: 2}, nil)
	defer s.Close()
	s.append(RoleUser, "a")
	s.append(RoleAssistant, "b")
	s.append(RoleError, "e")
	s.append(RoleUser, "c")

	h := s.history()
	require.Len(t, h, 2)
	assert.Equal(t, "b", h[0].Content)
	assert.Equal(t, "c", h[1].Content)
}

func TestSessionPeriodicProbe(t *testing.T) {
	fb := &fakeBackend{online: true}
	b := bus.NewEventBus()
	var statuses atomic.Int32
	b.Subscribe(bus.EventTypeChatStatus, func(bus.Event) { statuses.Add(1) })

	s := NewSession(fb, SessionConfig{ProbeInterval: 5 * time.Millisecond}, nil, WithBus(b))
	s.Start()
	require.Eventually(t, func() bool { return fb.probes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Close()

	assert.Equal(t, StatusOnline, s.Status())
	assert.Equal(t, int32(1), statuses.Load())
}

func TestSessionSendDuringClose(t *testing.T) {
	fb := &fakeBackend{online: true, reply: "ok", delay: 5 * time.Millisecond}
	s := NewSession(fb, SessionConfig{TranscriptSize: 1000}, nil)

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				err := s.Send("hello")
				if err == nil {
					accepted.Add(1)
					continue
				}
				assert.ErrorIs(t, err, ErrSessionClosed)
			}
		}()
	}
	s.Close()
	wg.Wait()

	assert.ErrorIs(t, s.Send("late"), ErrSessionClosed)
	users := 0
	for _, m := range s.Transcript() {
		if m.Role == RoleUser {
			users++
		}
	}
	assert.Equal(t, int(accepted.Load()), users)
}

func TestSessionUsesConfiguredMatcher(t *testing.T) {
	fb := &fakeBackend{online: true, reply: "Time to boogie"}
	got := make(chan command.Command, 1)
	m := input.NewChatMatcher([]input.PhraseRule{{Command: command.Dance, Phrases: []string{"boogie"}}})
	s := NewSession(fb, SessionConfig{}, func(c command.Command) { got <- c }, WithMatcher(m))
	defer s.Close()

	require.NoError(t, s.Send("what now?"))
	select {
	case c := <-got:
		assert.Equal(t, command.Dance, c)
	case <-time.After(time.Second):
		t.Fatal("configured keyword not matched")
	}
}
