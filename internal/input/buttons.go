package input

import (
	"sort"
	"strings"

	"github.com/normanking/avatarmotion/internal/command"
)

// Button ids used by the control panel.
var buttons = map[string]command.Command{
	"rotate":       command.Rotate,
	"rotate-left":  command.RotateLeft,
	"rotate-right": command.RotateRight,
	"look-up":      command.LookUp,
	"look-down":    command.LookDown,
	"zoom-in":      command.ZoomIn,
	"zoom-out":     command.ZoomOut,
	"reset":        command.Reset,
	"change-color": command.ChangeColor,
	"walk":         command.Walk,
	"run":          command.Run,
	"jump":         command.Jump,
	"attack":       command.Attack,
	"dance":        command.Dance,
	"crouch":       command.Crouch,
	"death":        command.Death,
	"idle":         command.Idle,
}

// ButtonCommand maps a control-panel button id to its command.
func ButtonCommand(id string) (command.Command, bool) {
	c, ok := buttons[strings.ToLower(strings.TrimSpace(id))]
	return c, ok
}

// ButtonIDs returns every known button id, sorted.
func ButtonIDs() []string {
	ids := make([]string, 0, len(buttons))
	for id := range buttons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
