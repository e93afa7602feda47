// Package input turns raw events from buttons, speech recognizers, hand
// trackers and chat replies into commands.
package input

import (
	"strings"

	"github.com/normanking/avatarmotion/internal/command"
)

// PhraseRule maps any of its phrases to one command.
type PhraseRule struct {
	Command command.Command
	Phrases []string
}

// SpeechMatcher scans recognized transcripts for command phrases. Rules are
// tried in order and the first one with a matching phrase wins.
type SpeechMatcher struct {
	rules []PhraseRule
}

// DefaultSpeechRules returns the built-in zh-CN and English phrase rules.
func DefaultSpeechRules() []PhraseRule {
	return []PhraseRule{
		{command.Rotate, []string{"旋转", "spin"}},
		{command.ZoomIn, []string{"放大", "靠近", "zoom in", "come closer"}},
		{command.ZoomOut, []string{"缩小", "远离", "zoom out", "move away"}},
		{command.Reset, []string{"重置", "复位", "reset"}},
		{command.RotateLeft, []string{"左转", "turn left"}},
		{command.RotateRight, []string{"右转", "turn right"}},
		{command.LookUp, []string{"上看", "look up"}},
		{command.LookDown, []string{"下看", "look down"}},
		{command.ChangeColor, []string{"变色", "换颜色", "change color", "change colour"}},
		{command.Walk, []string{"走路", "行走", "walk"}},
		{command.Run, []string{"跑步", "奔跑", "run"}},
		{command.Jump, []string{"跳跃", "跳起", "jump"}},
		{command.Idle, []string{"停止", "站立", "stop", "stand still"}},
	}
}

// NewSpeechMatcher builds a matcher; nil rules select the defaults.
func NewSpeechMatcher(rules []PhraseRule) *SpeechMatcher {
	if rules == nil {
		rules = DefaultSpeechRules()
	}
	return &SpeechMatcher{rules: rules}
}

// Match returns the command for the first rule with a phrase contained in
// the transcript. Latin phrases match case-insensitively.
func (m *SpeechMatcher) Match(transcript string) (command.Command, bool) {
	return matchFirst(m.rules, transcript)
}

func matchFirst(rules []PhraseRule, text string) (command.Command, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return command.None, false
	}
	for _, rule := range rules {
		for _, phrase := range rule.Phrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(phrase)) {
				return rule.Command, true
			}
		}
	}
	return command.None, false
}
