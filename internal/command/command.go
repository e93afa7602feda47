// Package command defines the normalized vocabulary every input source is
// reduced to before it reaches the avatar.
package command

import (
	"strings"
	"time"
)

// Command is a normalized user-intent token. Values outside the known
// vocabulary are literal animation-name requests.
type Command string

const (
	None Command = ""

	Rotate      Command = "rotate"
	RotateLeft  Command = "rotateLeft"
	RotateRight Command = "rotateRight"
	LookUp      Command = "lookUp"
	LookDown    Command = "lookDown"
	ZoomIn      Command = "zoomIn"
	ZoomOut     Command = "zoomOut"
	Reset       Command = "reset"
	ChangeColor Command = "changeColor"
	Walk        Command = "walk"
	Run         Command = "run"
	Jump        Command = "jump"
	Attack      Command = "attack"
	Dance       Command = "dance"
	Crouch      Command = "crouch"
	Death       Command = "death"
	Idle        Command = "idle"
)

// Vocabulary lists the closed set of known commands.
var Vocabulary = []Command{
	Rotate, RotateLeft, RotateRight, LookUp, LookDown,
	ZoomIn, ZoomOut, Reset, ChangeColor,
	Walk, Run, Jump, Attack, Dance, Crouch, Death, Idle,
}

var known = func() map[Command]struct{} {
	m := make(map[Command]struct{}, len(Vocabulary))
	for _, c := range Vocabulary {
		m[c] = struct{}{}
	}
	return m
}()

// Parse normalizes raw input. Known names are matched case-sensitively;
// anything else non-empty is kept as a literal animation request.
func Parse(raw string) Command {
	return Command(strings.TrimSpace(raw))
}

func (c Command) String() string { return string(c) }

// IsNone reports whether c carries no intent.
func (c Command) IsNone() bool { return c == None }

// IsKnown reports whether c is part of the closed vocabulary.
func (c Command) IsKnown() bool {
	_, ok := known[c]
	return ok
}

// IsLiteral reports whether c is a free-form animation name.
func (c Command) IsLiteral() bool {
	return c != None && !c.IsKnown()
}

// IsMovement reports whether c starts locomotion.
func (c Command) IsMovement() bool {
	return c == Walk || c == Run
}

// IsOneShot reports whether c plays once and returns to idle.
func (c Command) IsOneShot() bool {
	switch c {
	case Attack, Jump, Dance:
		return true
	}
	return false
}

// IsPoseOnly reports whether c only changes the pose, camera or tint and
// leaves the playing animation alone.
func (c Command) IsPoseOnly() bool {
	switch c {
	case Rotate, RotateLeft, RotateRight, LookUp, LookDown, ZoomIn, ZoomOut, ChangeColor:
		return true
	}
	return false
}

// Source identifies where a command came from.
type Source string

const (
	SourceButton     Source = "button"
	SourceVoice      Source = "voice"
	SourceGesture    Source = "gesture"
	SourceChat       Source = "chat"
	SourceAutonomous Source = "autonomous"
	SourceAPI        Source = "api"
)

// Event is a command together with its origin and arrival time.
type Event struct {
	Command Command
	Source  Source
	At      time.Time
}

// NewEvent stamps a command with the current time.
func NewEvent(c Command, src Source) Event {
	return Event{Command: c, Source: src, At: time.Now()}
}
