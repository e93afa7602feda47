package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarmotion/internal/animation"
	"github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/chat"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAvatar struct {
	events  []command.Event
	walks   []mgl32.Vec3
	catalog *animation.Catalog
	pushErr error
	loadErr error
}

func (f *fakeAvatar) PushCommand(ev command.Event) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAvatar) PushWalk(t mgl32.Vec3) error {
	f.walks = append(f.walks, t)
	return nil
}

func (f *fakeAvatar) Snapshot() avatar3d.Snapshot {
	return avatar3d.Snapshot{ID: "a1", State: avatar3d.StateWalking, Model: f.catalog.Source(), Clips: f.catalog.Len()}
}

func (f *fakeAvatar) Catalog() *animation.Catalog { return f.catalog }

func (f *fakeAvatar) LoadModel(path string) (*animation.Catalog, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	cat, err := animation.CatalogFromNames(path, "Robot_Idle")
	if err != nil {
		return nil, err
	}
	f.catalog = cat
	return cat, nil
}

type fakeChat struct {
	sent []string
}

func (f *fakeChat) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return chat.ErrEmptyMessage
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChat) Transcript() []chat.Message {
	return []chat.Message{{Role: chat.RoleUser, Content: "hi"}}
}

func (f *fakeChat) Status() chat.Status { return chat.StatusOnline }
func (f *fakeChat) Backend() string     { return "ollama" }

type fakeLogs struct{ limit int }

func (f *fakeLogs) GetHistory(limit int) []logging.LogEntry {
	f.limit = limit
	return []logging.LogEntry{{Level: "info", Message: "hello"}}
}

func newTestServer(t *testing.T) (*gin.Engine, *fakeAvatar, *fakeChat, *fakeLogs) {
	t.Helper()
	cat, err := animation.CatalogFromNames("soldier.glb", "Idle", "Walking", "Running")
	require.NoError(t, err)
	av := &fakeAvatar{catalog: cat}
	ch := &fakeChat{}
	logs := &fakeLogs{}
	r := NewRouter(Deps{Avatar: av, Chat: ch, Logs: logs, Logger: zerolog.Nop()})
	return r, av, ch, logs
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndState(t *testing.T) {
	r, _, _, _ := newTestServer(t)

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "walking", body["state"])
	assert.Equal(t, "soldier.glb", body["model"])
}

func TestCommandEndpoint(t *testing.T) {
	r, av, _, _ := newTestServer(t)

	w := do(r, http.MethodPost, "/command", `{"command":"jump"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, av.events, 1)
	assert.Equal(t, command.Jump, av.events[0].Command)
	assert.Equal(t, command.SourceAPI, av.events[0].Source)

	w = do(r, http.MethodPost, "/command", `{"command":"Robot_Dance","source":"button"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, false, decode(t, w)["known"])
	assert.Equal(t, command.SourceButton, av.events[1].Source)

	w = do(r, http.MethodPost, "/command", `{"command":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/command", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	av.pushErr = engine.ErrInboxFull
	w = do(r, http.MethodPost, "/command", `{"command":"walk"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWalkEndpoint(t *testing.T) {
	r, av, _, _ := newTestServer(t)
	w := do(r, http.MethodPost, "/walk", `{"x":1.5,"z":-2}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []mgl32.Vec3{{1.5, 0, -2}}, av.walks)
}

func TestClipsAndResolve(t *testing.T) {
	r, _, _, _ := newTestServer(t)

	w := do(r, http.MethodGet, "/buttons", "")
	require.Equal(t, http.StatusOK, w.Code)
	buttons := decode(t, w)["buttons"].([]any)
	assert.Contains(t, buttons, "rotate-left")
	assert.Equal(t, "attack", buttons[0])

	w = do(r, http.MethodGet, "/clips", "")
	require.Equal(t, http.StatusOK, w.Code)
	clips := decode(t, w)["clips"].([]any)
	require.Len(t, clips, 3)
	assert.Equal(t, "Idle", clips[0].(map[string]any)["name"])

	w = do(r, http.MethodGet, "/resolve?command=run", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Running", body["clip"])
	assert.Equal(t, "alias", body["tier"])
	assert.Equal(t, true, body["found"])
}

func TestModelEndpoint(t *testing.T) {
	r, av, _, _ := newTestServer(t)

	w := do(r, http.MethodPost, "/model", `{"path":"robot.glb"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "robot.glb", decode(t, w)["model"])

	av.loadErr = errors.New("bad file")
	w = do(r, http.MethodPost, "/model", `{"path":"broken.glb"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodPost, "/model", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatEndpoints(t *testing.T) {
	r, _, ch, _ := newTestServer(t)

	w := do(r, http.MethodPost, "/chat", `{"message":"dance please"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"dance please"}, ch.sent)

	w = do(r, http.MethodPost, "/chat", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/chat/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", decode(t, w)["status"])

	w = do(r, http.MethodGet, "/chat/transcript", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["messages"], 1)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	cat := animation.EmptyCatalog("")
	r := NewRouter(Deps{Avatar: &fakeAvatar{catalog: cat}, Logger: zerolog.Nop()})

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/chat", `{"message":"hi"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/ws/tracking", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/logs", "").Code)

	w := do(r, http.MethodGet, "/clips", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["clips"])
}

func TestLogsAndMetrics(t *testing.T) {
	r, _, _, logs := newTestServer(t)

	w := do(r, http.MethodGet, "/logs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, logs.limit)

	w = do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
