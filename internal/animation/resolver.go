package animation

import (
	"strings"

	"github.com/normanking/avatarmotion/internal/command"
)

// Tier identifies which rule of the resolver produced a match.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierAlias
	TierCaseInsensitive
	TierSubstring
	TierPrefix
	TierDefault
	TierFirst
)

var tierNames = map[Tier]string{
	TierNone:            "none",
	TierExact:           "exact",
	TierAlias:           "alias",
	TierCaseInsensitive: "case_insensitive",
	TierSubstring:       "substring",
	TierPrefix:          "prefix",
	TierDefault:         "default",
	TierFirst:           "first",
}

func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return "unknown"
}

// Match is a resolved clip name and the rule that found it.
type Match struct {
	Name string `json:"name"`
	Tier Tier   `json:"tier"`
}

// AliasTable maps a command to candidate clip names in priority order.
type AliasTable map[command.Command][]string

// DefaultAliases covers the naming used by the common Mixamo and three.js
// sample characters.
func DefaultAliases() AliasTable {
	return AliasTable{
		command.Walk:   {"Walking", "Walk", "walking", "walk", "Walk_Forward"},
		command.Run:    {"Running", "Run", "running", "run", "Sprint"},
		command.Jump:   {"Jump", "jump", "Jumping", "Jump_Start"},
		command.Attack: {"Punch", "Attack", "attack", "Kick", "Sword_Slash"},
		command.Dance:  {"HipHop Dancing", "Dance", "dance", "Dancing", "Wave"},
		command.Crouch: {"Crouch", "crouch", "Crouching", "Sitting"},
		command.Death:  {"Death", "Die", "Dying", "death"},
		command.Idle:   {"Idle", "idle", "Breathing Idle", "Standing", "TPose"},
	}
}

// DefaultFallbacks are generic clips tried when nothing matches the command.
func DefaultFallbacks() []string {
	return []string{"Idle", "idle", "HipHop Dancing", "TPose", "Walking", "Running", "Jump"}
}

// Resolver maps commands to the clip names a model actually has. It is pure
// and deterministic.
type Resolver struct {
	aliases   AliasTable
	fallbacks []string
}

// NewResolver creates a resolver. nil arguments select the defaults.
func NewResolver(aliases AliasTable, fallbacks []string) *Resolver {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	if fallbacks == nil {
		fallbacks = DefaultFallbacks()
	}
	return &Resolver{aliases: aliases, fallbacks: fallbacks}
}

// Resolve returns the clip to play for cmd out of available. The first rule
// that matches wins; ok is false only when available is empty.
func (r *Resolver) Resolve(cmd command.Command, available []string) (Match, bool) {
	if len(available) == 0 {
		return Match{}, false
	}

	set := make(map[string]struct{}, len(available))
	for _, n := range available {
		set[n] = struct{}{}
	}

	want := cmd.String()
	if want != "" {
		if m, ok := r.byName(cmd, want, available, set); ok {
			return m, true
		}
	}

	for _, name := range r.fallbacks {
		if _, ok := set[name]; ok {
			return Match{Name: name, Tier: TierDefault}, true
		}
	}

	for _, name := range available {
		if name != "" {
			return Match{Name: name, Tier: TierFirst}, true
		}
	}
	return Match{}, false
}

func (r *Resolver) byName(cmd command.Command, want string, available []string, set map[string]struct{}) (Match, bool) {
	if _, ok := set[want]; ok {
		return Match{Name: want, Tier: TierExact}, true
	}

	for _, alias := range r.aliases[cmd] {
		if _, ok := set[alias]; ok {
			return Match{Name: alias, Tier: TierAlias}, true
		}
	}

	lower := strings.ToLower(want)
	for _, name := range available {
		if strings.ToLower(name) == lower {
			return Match{Name: name, Tier: TierCaseInsensitive}, true
		}
	}

	for _, name := range available {
		if name == "" {
			continue
		}
		n := strings.ToLower(name)
		if strings.Contains(n, lower) || strings.Contains(lower, n) {
			return Match{Name: name, Tier: TierSubstring}, true
		}
	}

	if runes := []rune(lower); len(runes) > 2 {
		prefix := string(runes[:3])
		for _, name := range available {
			if strings.HasPrefix(strings.ToLower(name), prefix) {
				return Match{Name: name, Tier: TierPrefix}, true
			}
		}
	}
	return Match{}, false
}
