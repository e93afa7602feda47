// Package main is the entry point for the avatarmotion server and CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/normanking/avatarmotion/internal/animation"
	"github.com/normanking/avatarmotion/internal/avatar3d"
	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/chat"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/config"
	"github.com/normanking/avatarmotion/internal/engine"
	"github.com/normanking/avatarmotion/internal/httpapi"
	"github.com/normanking/avatarmotion/internal/logging"
	"github.com/normanking/avatarmotion/internal/tracking"
)

var (
	version = "0.1.0"
	cfgPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avatarmotion",
		Short: "Command-driven 3D avatar motion server",
		Long: `avatarmotion drives a 3D avatar from buttons, speech, hand gestures,
face tracking and chat replies. It resolves commands to the clips of the
loaded glTF model and walks the avatar around a bounded floor.

Start the server:     avatarmotion serve
List model clips:     avatarmotion clips model.glb
Try the resolver:     avatarmotion resolve walk --clips Idle,Walking`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.avatarmotion/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("avatarmotion v%s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(clipsCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var addr, model string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the avatar runtime and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				os.Setenv(config.EnvPrefix+"_SERVER_ADDR", addr)
			}
			if model != "" {
				os.Setenv(config.EnvPrefix+"_MODEL_PATH", model)
			}
			return runServe(cmd, args)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&model, "model", "", "glTF model to load (overrides model.path)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(&logging.Config{
		LogDir:     cfg.Log.Dir,
		Level:      logging.LogLevel(cfg.Log.Level),
		MaxHistory: cfg.Log.MaxHistory,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer log.Close()
	zl := log.Zerolog()

	eventBus := bus.NewEventBus()

	seed := cfg.Locomotion.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	catalog := animation.EmptyCatalog("")
	if cfg.Model.Path != "" {
		if cat, err := animation.LoadGLTF(cfg.Model.Path); err != nil {
			log.Warn("main", "Model not loaded, starting without clips", map[string]interface{}{
				"model": cfg.Model.Path,
				"error": err.Error(),
			})
		} else {
			catalog = cat
		}
	}

	ctrl := avatar3d.NewController(cfg.ControllerConfig(),
		avatar3d.WithLogger(zl),
		avatar3d.WithBus(eventBus),
		avatar3d.WithRand(rand.New(rand.NewSource(seed))),
		avatar3d.WithResolver(cfg.Resolver()),
		avatar3d.WithCatalog(catalog),
	)

	rt := engine.New(ctrl, engine.Config{
		FrameRate:     cfg.Server.FrameRate,
		MaxFrameDelta: cfg.Server.MaxFrameDelta,
		InboxSize:     cfg.Server.InboxSize,
		Debounce:      cfg.Router.Debounce,
	}, engine.WithLogger(zl), engine.WithBus(eventBus))
	defer rt.Close()

	if cfg.Model.Path != "" && cfg.Model.Watch {
		if err := rt.WatchModel(cfg.Model.Path); err != nil {
			log.Warn("main", "Model watch disabled", map[string]interface{}{"error": err.Error()})
		}
	}

	deps := httpapi.Deps{
		Avatar:   rt,
		Logs:     log,
		Resolver: cfg.Resolver(),
		Logger:   zl,
	}

	if cfg.Chat.Enabled {
		session := chat.NewSession(newBackend(cfg, log), chat.SessionConfig{
			SystemPrompt:   cfg.Chat.SystemPrompt,
			RequestTimeout: cfg.Chat.RequestTimeout,
			ProbeTimeout:   cfg.Chat.ProbeTimeout,
			ProbeRetries:   cfg.Chat.ProbeRetries,
			ProbeBackoff:   time.Second,
			ProbeInterval:  cfg.Chat.ProbeInterval,
			TranscriptSize: cfg.Chat.TranscriptSize,
			HistoryTurns:   6,
		}, chatSink(rt.PushCommand, log), chat.WithLogger(zl), chat.WithBus(eventBus), chat.WithMatcher(cfg.ChatMatcher()))
		session.Start()
		defer session.Close()
		deps.Chat = session
	}

	if cfg.Tracking.Enabled {
		trackers := tracking.NewHandler(rt, tracking.Config{
			HandThreshold: cfg.Tracking.HandThreshold,
			MaxMessage:    cfg.Tracking.MaxMessage,
			PingInterval:  cfg.Tracking.PingInterval,
		}, tracking.WithLogger(zl), tracking.WithBus(eventBus), tracking.WithSpeechMatcher(cfg.SpeechMatcher()))
		defer trackers.Close()
		deps.Tracking = trackers
	}

	gin.SetMode(cfg.Server.Mode)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdlog.New(log.Component("http-server"), "", 0),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("main", "HTTP server listening", map[string]interface{}{
			"addr":   cfg.Server.Addr,
			"avatar": ctrl.ID(),
			"model":  catalog.Source(),
			"clips":  catalog.Len(),
			"logs":   log.GetLogPath(),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("main", "Shutdown signal received", nil)
	case err := <-serveErr:
		if err != nil {
			log.Error("main", "HTTP server failed", err, nil)
			stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("main", "HTTP shutdown failed", err, nil)
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("main", "Tick loop failed", err, nil)
	}
	return nil
}

// chatSink queues reply commands. The runtime already counts and logs a
// full inbox, so a drop is only noted at debug level here.
func chatSink(push func(command.Event) error, log *logging.Logger) chat.CommandSink {
	return func(c command.Command) {
		if err := push(command.NewEvent(c, command.SourceChat)); err != nil {
			log.Debug("main", "Chat command not queued", map[string]interface{}{
				"command": c.String(),
				"error":   err.Error(),
			})
		}
	}
}

func newBackend(cfg *config.Config, log *logging.Logger) chat.Backend {
	switch cfg.Chat.Provider {
	case "openai":
		return chat.NewOpenAI(cfg.Chat.BaseURL, cfg.Chat.APIKey, cfg.Chat.Model)
	default:
		return chat.NewOllama(cfg.Chat.BaseURL, cfg.Chat.Model, log.Zerolog())
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLIPS / RESOLVE
// ═══════════════════════════════════════════════════════════════════════════════

func clipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clips <model.glb>",
		Short: "List the animation clips of a glTF model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := animation.LoadGLTF(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d clips\n", cat.Source(), cat.Len())
			for _, c := range cat.Clips() {
				fmt.Fprintf(out, "  %3d  %-32s %6.2fs\n", c.Index, c.Name, c.Duration)
			}
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	var clips, model string
	cmd := &cobra.Command{
		Use:   "resolve <command>",
		Short: "Show which clip a command resolves to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			var names []string
			switch {
			case model != "":
				cat, err := animation.LoadGLTF(model)
				if err != nil {
					return err
				}
				names = cat.Names()
			case clips != "":
				for _, n := range strings.Split(clips, ",") {
					if n = strings.TrimSpace(n); n != "" {
						names = append(names, n)
					}
				}
			default:
				return errors.New("one of --clips or --model is required")
			}

			var raw string
			if len(args) == 1 {
				raw = args[0]
			}
			m, ok := cfg.Resolver().Resolve(command.Parse(raw), names)
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "%q: no clip available\n", raw)
				return nil
			}
			fmt.Fprintf(out, "%q -> %s (%s)\n", raw, m.Name, m.Tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&clips, "clips", "", "comma-separated clip names")
	cmd.Flags().StringVar(&model, "model", "", "glTF model to read clip names from")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "avatarmotion configuration:")
			fmt.Fprintln(out, "───────────────────────────")
			fmt.Fprintf(out, "Listen:        %s (%d fps)\n", cfg.Server.Addr, cfg.Server.FrameRate)
			fmt.Fprintf(out, "Model:         %s (watch %t)\n", cfg.Model.Path, cfg.Model.Watch)
			fmt.Fprintf(out, "Debounce:      %s\n", cfg.Router.Debounce)
			fmt.Fprintf(out, "Chat:          %t %s %s @ %s\n", cfg.Chat.Enabled, cfg.Chat.Provider, cfg.Chat.Model, cfg.Chat.BaseURL)
			fmt.Fprintf(out, "Tracking:      %t\n", cfg.Tracking.Enabled)
			fmt.Fprintf(out, "Log Level:     %s\n", cfg.Log.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if path == "" {
				dir, err := config.GetConfigDir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, "config.yaml")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	return cmd
}
