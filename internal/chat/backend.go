// Package chat talks to a local language-model server and turns its replies
// into avatar commands.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackendOffline is returned when the backend did not answer a probe.
	ErrBackendOffline = errors.New("chat: backend offline")
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("chat: session closed")
)

// Role is the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Message is one transcript line.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Request is a single completion call.
type Request struct {
	System  string
	Prompt  string
	History []Message // earlier user/assistant turns, oldest first
}

// Backend is a completion service.
type Backend interface {
	Name() string
	// Probe checks that the service answers.
	Probe(ctx context.Context) error
	// Complete returns the full reply text.
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-success HTTP answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat backend returned %d: %s", e.Code, e.Body)
}
