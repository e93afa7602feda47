package input

import "github.com/normanking/avatarmotion/internal/command"

// ChatMatcher extracts a control command from a free-text assistant reply.
// Keyword sets are checked in priority order; only the first hit matters.
type ChatMatcher struct {
	rules []PhraseRule
}

// DefaultChatKeywords returns the keyword sets used for assistant replies.
func DefaultChatKeywords() []PhraseRule {
	return []PhraseRule{
		{command.Walk, []string{"走", "行走", "散步", "移动", "前进", "walk", "stroll"}},
		{command.Run, []string{"跑", "奔跑", "跑步", "冲刺", "快跑", "run", "sprint"}},
		{command.Jump, []string{"跳", "跃", "跳跃", "弹跳", "跳起", "jump", "leap"}},
		{command.Idle, []string{"站", "停", "站立", "静止", "不动", "stand", "stop"}},
		{command.Dance, []string{"舞", "跳舞", "舞蹈", "跳动", "dance"}},
		{command.Rotate, []string{"转", "旋转", "转动", "自转", "spin", "rotate"}},
		{command.ChangeColor, []string{"变色", "改变颜色", "换颜色", "change color"}},
	}
}

// NewChatMatcher builds a matcher; nil rules select the defaults.
func NewChatMatcher(rules []PhraseRule) *ChatMatcher {
	if rules == nil {
		rules = DefaultChatKeywords()
	}
	return &ChatMatcher{rules: rules}
}

// Match returns the command of the first keyword set present in reply.
func (m *ChatMatcher) Match(reply string) (command.Command, bool) {
	return matchFirst(m.rules, reply)
}
