// Package httpapi exposes the runtime over HTTP for the control panel and
// local tooling.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarmotion/internal/animation"
	"github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/chat"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/input"
	"github.com/normanking/avatarmotion/internal/logging"
)

// Avatar is the runtime surface the API drives.
type Avatar interface {
	PushCommand(ev command.Event) error
	PushWalk(target mgl32.Vec3) error
	Snapshot() avatar3d.Snapshot
	Catalog() *animation.Catalog
	LoadModel(path string) (*animation.Catalog, error)
}

// Chat is the conversation surface.
type Chat interface {
	Send(text string) error
	Transcript() []chat.Message
	Status() chat.Status
	Backend() string
}

// LogSource serves recent log lines.
type LogSource interface {
	GetHistory(limit int) []logging.LogEntry
}

// Deps wires the router. Nil Chat, Tracking or Logs disable their routes.
type Deps struct {
	Avatar   Avatar
	Chat     Chat
	Tracking http.Handler
	Logs     LogSource
	Resolver *animation.Resolver
	Logger   zerolog.Logger
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
	Source  string `json:"source"`
}

type walkRequest struct {
	X float32 `json:"x"`
	Z float32 `json:"z"`
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type modelRequest struct {
	Path string `json:"path" binding:"required"`
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Resolver == nil {
		d.Resolver = animation.NewResolver(nil, nil)
	}
	logger := d.Logger.With().Str("component", "http").Logger()

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{deps: d, logger: logger}
	router.GET("/state", h.state)
	router.POST("/command", h.command)
	router.POST("/walk", h.walk)
	router.GET("/buttons", h.buttons)
	router.GET("/clips", h.clips)
	router.GET("/resolve", h.resolve)
	router.POST("/model", h.model)

	if d.Chat != nil {
		router.POST("/chat", h.chatSend)
		router.GET("/chat/transcript", h.chatTranscript)
		router.GET("/chat/status", h.chatStatus)
	}
	if d.Tracking != nil {
		router.GET("/ws/tracking", gin.WrapH(d.Tracking))
	}
	if d.Logs != nil {
		router.GET("/logs", h.logs)
	}

	return router
}

type handlers struct {
	deps   Deps
	logger zerolog.Logger
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Avatar.Snapshot())
}

func (h *handlers) command(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := command.Parse(req.Command)
	if cmd.IsNone() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty command"})
		return
	}
	src := command.SourceAPI
	if req.Source != "" {
		src = command.Source(req.Source)
	}
	if !h.push(c, h.deps.Avatar.PushCommand(command.NewEvent(cmd, src))) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"command": cmd.String(), "known": cmd.IsKnown()})
}

func (h *handlers) walk(c *gin.Context) {
	var req walkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.push(c, h.deps.Avatar.PushWalk(mgl32.Vec3{req.X, 0, req.Z})) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"target": []float32{req.X, 0, req.Z}})
}

// push maps inbox errors to 503 and reports whether the caller may continue.
func (h *handlers) push(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, engine.ErrInboxFull), errors.Is(err, engine.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	return false
}

// buttons lists the control-panel ids accepted by POST /command with
// source "button" and by tracker button frames.
func (h *handlers) buttons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"buttons": input.ButtonIDs()})
}

func (h *handlers) clips(c *gin.Context) {
	cat := h.deps.Avatar.Catalog()
	clips := cat.Clips()
	if clips == nil {
		clips = []animation.Clip{}
	}
	c.JSON(http.StatusOK, gin.H{"model": cat.Source(), "clips": clips})
}

func (h *handlers) resolve(c *gin.Context) {
	cmd := command.Parse(c.Query("command"))
	m, ok := h.deps.Resolver.Resolve(cmd, h.deps.Avatar.Catalog().Names())
	c.JSON(http.StatusOK, gin.H{
		"command": cmd.String(),
		"found":   ok,
		"clip":    m.Name,
		"tier":    m.Tier.String(),
	})
}

func (h *handlers) model(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cat, err := h.deps.Avatar.LoadModel(req.Path)
	if err != nil {
		if errors.Is(err, engine.ErrInboxFull) || errors.Is(err, engine.ErrClosed) {
			h.push(c, err)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": cat.Source(), "clips": cat.Names()})
}

func (h *handlers) chatSend(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch err := h.deps.Chat.Send(req.Message); {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrSessionClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": string(h.deps.Chat.Status())})
	}
}

func (h *handlers) chatTranscript(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.deps.Chat.Transcript()})
}

func (h *handlers) chatStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  string(h.deps.Chat.Status()),
		"backend": h.deps.Chat.Backend(),
	})
}

func (h *handlers) logs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"entries": h.deps.Logs.GetHistory(limit)})
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
