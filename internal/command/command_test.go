package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, Walk, Parse(" walk "))
	assert.Equal(t, None, Parse("   "))
	assert.Equal(t, Command("HipHop Dancing"), Parse("HipHop Dancing"))
}

func TestClassification(t *testing.T) {
	for _, c := range Vocabulary {
		assert.True(t, c.IsKnown(), c)
		assert.False(t, c.IsLiteral(), c)
	}

	assert.True(t, Command("Walk").IsLiteral(), "known names are case-sensitive")
	assert.False(t, None.IsLiteral())
	assert.True(t, None.IsNone())

	assert.True(t, Walk.IsMovement())
	assert.True(t, Run.IsMovement())
	assert.False(t, Jump.IsMovement())

	assert.True(t, Attack.IsOneShot())
	assert.True(t, Jump.IsOneShot())
	assert.True(t, Dance.IsOneShot())
	assert.False(t, Idle.IsOneShot())

	assert.True(t, ZoomIn.IsPoseOnly())
	assert.True(t, ChangeColor.IsPoseOnly())
	assert.False(t, Reset.IsPoseOnly())
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(Jump, SourceVoice)
	assert.Equal(t, Jump, ev.Command)
	assert.Equal(t, SourceVoice, ev.Source)
	assert.False(t, ev.At.IsZero())
}
