// Package config provides configuration management for avatarmotion
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/normanking/avatarmotion/internal/animation"
	"github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/input"
)

// EnvPrefix prefixes every environment override, e.g.
// AVATARMOTION_ROUTER_DEBOUNCE=500ms.
const EnvPrefix = "AVATARMOTION"

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Router     RouterConfig     `mapstructure:"router"`
	Animation  AnimationConfig  `mapstructure:"animation"`
	Locomotion LocomotionConfig `mapstructure:"locomotion"`
	Face       FaceConfig       `mapstructure:"face"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig configures the HTTP control surface and the tick loop
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	FrameRate       int           `mapstructure:"frame_rate"`
	MaxFrameDelta   time.Duration `mapstructure:"max_frame_delta"`
	InboxSize       int           `mapstructure:"inbox_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ModelConfig selects the avatar asset
type ModelConfig struct {
	Path  string `mapstructure:"path"` // .glb or .gltf; empty starts without clips
	Watch bool   `mapstructure:"watch"`
}

// RouterConfig configures command debouncing
type RouterConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// AnimationConfig configures clip selection and playback
type AnimationConfig struct {
	CrossFade time.Duration       `mapstructure:"cross_fade"`
	OneShot   time.Duration       `mapstructure:"one_shot"`
	Fallbacks []string            `mapstructure:"fallbacks"`
	Aliases   map[string][]string `mapstructure:"aliases"` // replaces the built-in list per command
}

// LocomotionConfig configures autonomous walking
type LocomotionConfig struct {
	MinX          float32       `mapstructure:"min_x"`
	MaxX          float32       `mapstructure:"max_x"`
	MinZ          float32       `mapstructure:"min_z"`
	MaxZ          float32       `mapstructure:"max_z"`
	TargetMargin  float32       `mapstructure:"target_margin"`
	WalkSpeed     float32       `mapstructure:"walk_speed"`
	RunSpeed      float32       `mapstructure:"run_speed"`
	ArriveEpsilon float32       `mapstructure:"arrive_epsilon"`
	Wander        bool          `mapstructure:"wander"`
	WanderMin     time.Duration `mapstructure:"wander_min"`
	WanderMax     time.Duration `mapstructure:"wander_max"`
	Seed          int64         `mapstructure:"seed"` // 0 seeds from the clock
}

// FaceConfig configures the expression mapper
type FaceConfig struct {
	EyesCalibration  float32 `mapstructure:"eyes_calibration"`
	MouthCalibration float32 `mapstructure:"mouth_calibration"`
	BrowsCalibration float32 `mapstructure:"brows_calibration"`
	NoseCalibration  float32 `mapstructure:"nose_calibration"`
	Smoothing        float32 `mapstructure:"smoothing"`
	HeadSmoothing    float32 `mapstructure:"head_smoothing"`
}

// ChatConfig configures the conversational backend
type ChatConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Provider       string        `mapstructure:"provider"` // ollama, openai
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeRetries   int           `mapstructure:"probe_retries"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	TranscriptSize int           `mapstructure:"transcript_size"`
	// Keywords replaces the reply keywords per command; new commands are
	// checked after the built-in ones.
	Keywords map[string][]string `mapstructure:"keywords"`
}

// TrackingConfig configures the browser-side recognizer feed
type TrackingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	HandThreshold float32       `mapstructure:"hand_threshold"`
	MaxMessage    int64         `mapstructure:"max_message"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	// Phrases replaces the speech phrases per command, like chat.keywords.
	Phrases map[string][]string `mapstructure:"phrases"`
}

// LogConfig configures logging
type LogConfig struct {
	Dir        string `mapstructure:"dir"` // empty disables the log file
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	MaxHistory int    `mapstructure:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	ctl := avatar3d.DefaultControllerConfig()
	home, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			FrameRate:       60,
			MaxFrameDelta:   100 * time.Millisecond,
			InboxSize:       64,
			ShutdownTimeout: 5 * time.Second,
		},
		Model: ModelConfig{
			Path:  "",
			Watch: true,
		},
		Router: RouterConfig{
			Debounce: 300 * time.Millisecond,
		},
		Animation: AnimationConfig{
			CrossFade: 300 * time.Millisecond,
			OneShot:   1500 * time.Millisecond,
		},
		Locomotion: LocomotionConfig{
			MinX:          ctl.Bounds.MinX,
			MaxX:          ctl.Bounds.MaxX,
			MinZ:          ctl.Bounds.MinZ,
			MaxZ:          ctl.Bounds.MaxZ,
			TargetMargin:  ctl.TargetMargin,
			WalkSpeed:     ctl.WalkSpeed,
			RunSpeed:      ctl.RunSpeed,
			ArriveEpsilon: ctl.ArriveEpsilon,
			Wander:        true,
			WanderMin:     2 * time.Second,
			WanderMax:     5 * time.Second,
		},
		Face: FaceConfig{
			EyesCalibration:  ctl.Face.Eyes,
			MouthCalibration: ctl.Face.Mouth,
			BrowsCalibration: ctl.Face.Brows,
			NoseCalibration:  ctl.Face.Nose,
			Smoothing:        ctl.Face.Smoothing,
			HeadSmoothing:    ctl.Face.HeadSmoothing,
		},
		Chat: ChatConfig{
			Enabled:        true,
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "qwen2.5:7b",
			SystemPrompt:   "You are a friendly 3D avatar. Keep replies short. When the user asks you to move, mention the action (walk, run, jump, dance, idle, rotate, change color).",
			RequestTimeout: 15 * time.Second,
			ProbeTimeout:   3 * time.Second,
			ProbeRetries:   3,
			ProbeInterval:  10 * time.Second,
			TranscriptSize: 100,
		},
		Tracking: TrackingConfig{
			Enabled:       true,
			HandThreshold: 100,
			MaxMessage:    1 << 20,
			PingInterval:  30 * time.Second,
		},
		Log: LogConfig{
			Dir:        filepath.Join(home, ".avatarmotion", "logs"),
			Level:      "info",
			Console:    true,
			MaxHistory: 1000,
		},
	}
}

// Load reads configuration from path, or from ~/.avatarmotion/config.yaml
// and ./config.yaml when path is empty. A .env file in the working
// directory is loaded into the environment first; environment variables
// override the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(expandPath(path))
	} else {
		v.SetConfigName("config")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Model.Path = expandPath(cfg.Model.Path)
	cfg.Log.Dir = expandPath(cfg.Log.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML to path
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	bind(v.Set, cfg)
	return v.WriteConfigAs(path)
}

// Validate rejects settings the runtime cannot work with
func (c *Config) Validate() error {
	if c.Server.FrameRate <= 0 {
		return fmt.Errorf("invalid server.frame_rate: %d (must be positive)", c.Server.FrameRate)
	}
	if c.Server.InboxSize <= 0 {
		return fmt.Errorf("invalid server.inbox_size: %d (must be positive)", c.Server.InboxSize)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid server.mode: %s (must be debug, release or test)", c.Server.Mode)
	}
	if c.Router.Debounce <= 0 {
		return fmt.Errorf("invalid router.debounce: %s (must be positive)", c.Router.Debounce)
	}
	if c.Animation.CrossFade < 0 || c.Animation.OneShot <= 0 {
		return fmt.Errorf("invalid animation timings: cross_fade=%s one_shot=%s", c.Animation.CrossFade, c.Animation.OneShot)
	}

	l := c.Locomotion
	if l.MinX >= l.MaxX || l.MinZ >= l.MaxZ {
		return fmt.Errorf("invalid locomotion bounds: x=[%g,%g] z=[%g,%g]", l.MinX, l.MaxX, l.MinZ, l.MaxZ)
	}
	if l.WalkSpeed <= 0 || l.RunSpeed <= 0 {
		return fmt.Errorf("invalid locomotion speeds: walk=%g run=%g", l.WalkSpeed, l.RunSpeed)
	}
	if l.TargetMargin <= 0 {
		return fmt.Errorf("invalid locomotion.target_margin: %g (must be positive)", l.TargetMargin)
	}
	if l.ArriveEpsilon <= 0 {
		return fmt.Errorf("invalid locomotion.arrive_epsilon: %g", l.ArriveEpsilon)
	}
	if l.WanderMin < 0 || l.WanderMax < l.WanderMin {
		return fmt.Errorf("invalid wander delay range: [%s,%s]", l.WanderMin, l.WanderMax)
	}

	f := c.Face
	if f.Smoothing <= 0 || f.Smoothing > 1 || f.HeadSmoothing <= 0 || f.HeadSmoothing > 1 {
		return fmt.Errorf("invalid face smoothing: %g/%g (must be in (0,1])", f.Smoothing, f.HeadSmoothing)
	}

	if c.Chat.Enabled {
		if c.Chat.Provider != "ollama" && c.Chat.Provider != "openai" {
			return fmt.Errorf("invalid chat.provider: %s (must be ollama or openai)", c.Chat.Provider)
		}
		if c.Chat.BaseURL == "" {
			return fmt.Errorf("chat.base_url is required")
		}
		if c.Chat.RequestTimeout <= 0 || c.Chat.ProbeTimeout <= 0 {
			return fmt.Errorf("chat timeouts must be positive")
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s", c.Log.Level)
	}
	return nil
}

// ControllerConfig converts the avatar sections for avatar3d
func (c *Config) ControllerConfig() avatar3d.ControllerConfig {
	ctl := avatar3d.DefaultControllerConfig()
	l := c.Locomotion

	ctl.Bounds = avatar3d.Bounds{MinX: l.MinX, MaxX: l.MaxX, MinZ: l.MinZ, MaxZ: l.MaxZ}
	ctl.TargetMargin = l.TargetMargin
	ctl.WalkSpeed = l.WalkSpeed
	ctl.RunSpeed = l.RunSpeed
	ctl.ArriveEpsilon = l.ArriveEpsilon
	ctl.Wander = l.Wander
	ctl.WanderMin = float32(l.WanderMin.Seconds())
	ctl.WanderMax = float32(l.WanderMax.Seconds())
	ctl.CrossFade = float32(c.Animation.CrossFade.Seconds())
	ctl.OneShotDuration = float32(c.Animation.OneShot.Seconds())
	ctl.Face = avatar3d.FaceCalibration{
		Eyes:          c.Face.EyesCalibration,
		Mouth:         c.Face.MouthCalibration,
		Brows:         c.Face.BrowsCalibration,
		Nose:          c.Face.NoseCalibration,
		Smoothing:     c.Face.Smoothing,
		HeadSmoothing: c.Face.HeadSmoothing,
	}
	return ctl
}

// Resolver builds the animation resolver. Configured aliases replace the
// built-in list for their command only.
func (c *Config) Resolver() *animation.Resolver {
	aliases := animation.DefaultAliases()
	for name, clips := range c.Animation.Aliases {
		aliases[command.Parse(name)] = clips
	}
	var fallbacks []string
	if len(c.Animation.Fallbacks) > 0 {
		fallbacks = c.Animation.Fallbacks
	}
	return animation.NewResolver(aliases, fallbacks)
}

// SpeechMatcher builds the phrase matcher for speech trackers.
func (c *Config) SpeechMatcher() *input.SpeechMatcher {
	return input.NewSpeechMatcher(mergeRules(input.DefaultSpeechRules(), c.Tracking.Phrases))
}

// ChatMatcher builds the keyword matcher for assistant replies.
func (c *Config) ChatMatcher() *input.ChatMatcher {
	return input.NewChatMatcher(mergeRules(input.DefaultChatKeywords(), c.Chat.Keywords))
}

func mergeRules(rules []input.PhraseRule, overrides map[string][]string) []input.PhraseRule {
	seen := make(map[command.Command]bool, len(rules))
	for i := range rules {
		seen[rules[i].Command] = true
	}
	byCmd := make(map[command.Command][]string, len(overrides))
	var extra []string
	for name, phrases := range overrides {
		cmd := command.Parse(name)
		if cmd.IsNone() {
			continue
		}
		byCmd[cmd] = phrases
		if !seen[cmd] {
			extra = append(extra, string(cmd))
		}
	}

	for i := range rules {
		if phrases, ok := byCmd[rules[i].Command]; ok {
			rules[i].Phrases = phrases
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		cmd := command.Command(name)
		rules = append(rules, input.PhraseRule{Command: cmd, Phrases: byCmd[cmd]})
	}
	return rules
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".avatarmotion"), nil
}

func setDefaults(v *viper.Viper) {
	bind(v.SetDefault, DefaultConfig())
}

// bind walks every key so defaults and Save stay in sync.
func bind(set func(key string, value any), d *Config) {

	set("server.addr", d.Server.Addr)
	set("server.mode", d.Server.Mode)
	set("server.frame_rate", d.Server.FrameRate)
	set("server.max_frame_delta", d.Server.MaxFrameDelta)
	set("server.inbox_size", d.Server.InboxSize)
	set("server.shutdown_timeout", d.Server.ShutdownTimeout)

	set("model.path", d.Model.Path)
	set("model.watch", d.Model.Watch)

	set("router.debounce", d.Router.Debounce)

	set("animation.cross_fade", d.Animation.CrossFade)
	set("animation.one_shot", d.Animation.OneShot)
	set("animation.fallbacks", d.Animation.Fallbacks)
	set("animation.aliases", d.Animation.Aliases)

	set("locomotion.min_x", d.Locomotion.MinX)
	set("locomotion.max_x", d.Locomotion.MaxX)
	set("locomotion.min_z", d.Locomotion.MinZ)
	set("locomotion.max_z", d.Locomotion.MaxZ)
	set("locomotion.target_margin", d.Locomotion.TargetMargin)
	set("locomotion.walk_speed", d.Locomotion.WalkSpeed)
	set("locomotion.run_speed", d.Locomotion.RunSpeed)
	set("locomotion.arrive_epsilon", d.Locomotion.ArriveEpsilon)
	set("locomotion.wander", d.Locomotion.Wander)
	set("locomotion.wander_min", d.Locomotion.WanderMin)
	set("locomotion.wander_max", d.Locomotion.WanderMax)
	set("locomotion.seed", d.Locomotion.Seed)

	set("face.eyes_calibration", d.Face.EyesCalibration)
	set("face.mouth_calibration", d.Face.MouthCalibration)
	set("face.brows_calibration", d.Face.BrowsCalibration)
	set("face.nose_calibration", d.Face.NoseCalibration)
	set("face.smoothing", d.Face.Smoothing)
	set("face.head_smoothing", d.Face.HeadSmoothing)

	set("chat.enabled", d.Chat.Enabled)
	set("chat.provider", d.Chat.Provider)
	set("chat.base_url", d.Chat.BaseURL)
	set("chat.model", d.Chat.Model)
	set("chat.api_key", d.Chat.APIKey)
	set("chat.system_prompt", d.Chat.SystemPrompt)
	set("chat.request_timeout", d.Chat.RequestTimeout)
	set("chat.probe_timeout", d.Chat.ProbeTimeout)
	set("chat.probe_retries", d.Chat.ProbeRetries)
	set("chat.probe_interval", d.Chat.ProbeInterval)
	set("chat.transcript_size", d.Chat.TranscriptSize)
	set("chat.keywords", d.Chat.Keywords)

	set("tracking.enabled", d.Tracking.Enabled)
	set("tracking.hand_threshold", d.Tracking.HandThreshold)
	set("tracking.max_message", d.Tracking.MaxMessage)
	set("tracking.ping_interval", d.Tracking.PingInterval)
	set("tracking.phrases", d.Tracking.Phrases)

	set("log.dir", d.Log.Dir)
	set("log.level", d.Log.Level)
	set("log.console", d.Log.Console)
	set("log.max_history", d.Log.MaxHistory)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
