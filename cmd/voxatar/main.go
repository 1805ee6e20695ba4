// Command voxatar is the main entry point for the voxatar avatar
// conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/voxatar/voxatar/internal/config"
	"github.com/voxatar/voxatar/internal/gesture"
	"github.com/voxatar/voxatar/internal/health"
	"github.com/voxatar/voxatar/internal/observe"
	"github.com/voxatar/voxatar/internal/pipeline"
	"github.com/voxatar/voxatar/internal/registry"
	"github.com/voxatar/voxatar/internal/resilience"
	"github.com/voxatar/voxatar/internal/server"
	"github.com/voxatar/voxatar/internal/transcript"
	"github.com/voxatar/voxatar/pkg/history"
	historypg "github.com/voxatar/voxatar/pkg/history/postgres"
	"github.com/voxatar/voxatar/pkg/provider/llm"
	"github.com/voxatar/voxatar/pkg/provider/llm/anyllm"
	"github.com/voxatar/voxatar/pkg/provider/stt"
	sttopenai "github.com/voxatar/voxatar/pkg/provider/stt/openai"
	"github.com/voxatar/voxatar/pkg/provider/stt/whisper"
	"github.com/voxatar/voxatar/pkg/provider/tts"
	"github.com/voxatar/voxatar/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/voxatar/voxatar/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxatar: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxatar: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxatar starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	obsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxatar"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── History store ─────────────────────────────────────────────────────────
	var store history.Store
	var checkers []health.Checker
	if cfg.History.PostgresDSN != "" {
		pg, err := historypg.NewStore(ctx, cfg.History.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect history store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.Checker{
			Name: "history",
			Check: func(ctx context.Context) error {
				_, err := pg.RecentTurns(ctx, "readiness-probe", 1)
				return err
			},
		})
		slog.Info("history store connected")
	}

	// ── Session wiring ────────────────────────────────────────────────────────
	persona := llm.PersonaConfig{
		Name:           cfg.Persona.Name,
		Tone:           cfg.Persona.Tone,
		MaxReplyLength: cfg.Persona.MaxReplyLength,
		DomainContext:  cfg.Persona.DomainContext,
		Options:        cfg.Persona.Options,
	}
	voice := tts.VoiceConfig{
		VoiceID:     cfg.Voice.VoiceID,
		Locale:      cfg.Voice.Locale,
		SpeedFactor: cfg.Voice.Speed,
	}

	rules := cfg.Pipeline.Gestures
	if len(rules) == 0 {
		rules = gesture.DefaultRules()
	}
	selector := gesture.NewSelector(rules)

	var corrector *transcript.Corrector
	if len(cfg.Pipeline.Vocabulary) > 0 {
		corrector = transcript.NewCorrector(cfg.Pipeline.Vocabulary)
	}

	policy := resilience.Policy{
		Deadline: cfg.Pipeline.Deadline.Std(),
		Retries:  cfg.Pipeline.Retries,
		Logger:   logger,
	}
	if policy.Deadline <= 0 {
		policy = resilience.DefaultPolicy()
		policy.Logger = logger
	}
	newBreaker := func(name string) *resilience.Breaker {
		return resilience.NewBreaker(resilience.BreakerConfig{
			Name:        name,
			MaxFailures: cfg.Pipeline.Breaker.MaxFailures,
			Cooldown:    cfg.Pipeline.Breaker.Cooldown.Std(),
			Logger:      logger,
		})
	}
	breakers := pipeline.Breakers{
		STT: newBreaker("stt"),
		LLM: newBreaker("llm"),
		TTS: newBreaker("tts"),
	}

	srv := server.New(server.Config{
		ListenAddr: cfg.Server.ListenAddr,
		Health:     health.New(checkers...),
		Logger:     logger,
	})

	reg := registry.New(registry.Config{
		Factory: func(sessionID string) (*pipeline.Pipeline, error) {
			return pipeline.New(pipeline.Config{
				SessionID:     sessionID,
				Persona:       persona,
				Voice:         voice,
				Transcriber:   providers.transcriber,
				Generator:     providers.generator,
				Synthesizer:   providers.synthesizer,
				Gestures:      selector,
				Corrector:     corrector,
				History:       store,
				Fallbacks:     cfg.Pipeline.FallbackReplies,
				Policy:        policy,
				Breakers:      breakers,
				QueueDepth:    cfg.Pipeline.QueueDepth,
				HistoryWindow: cfg.Pipeline.HistoryWindow,
				Metrics:       metrics,
				Logger:        logger,
				Sink:          srv.SessionSink(sessionID),
			})
		},
		IdleTimeout:   cfg.Sessions.IdleTimeout.Std(),
		SweepInterval: cfg.Sessions.SweepInterval.Std(),
		Metrics:       metrics,
		Logger:        logger,
	})
	reg.Start(ctx)
	srv.AttachRegistry(reg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		certFile, keyFile := "", ""
		if cfg.Server.TLS != nil {
			certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
		}
		errCh <- srv.ListenAndServe(certFile, keyFile)
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	reg.Close()
	slog.Info("goodbye")
	return 0
}

// providerSet holds the per-stage provider instances named in the config.
type providerSet struct {
	transcriber stt.Transcriber
	generator   llm.Generator
	synthesizer tts.Synthesizer
}

// buildProviders instantiates the providers selected in cfg. STT and TTS
// are optional; sessions degrade to text-only behaviour without them.
func buildProviders(cfg *config.Config) (*providerSet, error) {
	ps := &providerSet{}

	entry := cfg.Providers.LLM
	gen, err := buildGenerator(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	ps.generator = gen
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)

	if entry := cfg.Providers.STT; entry.Name != "" {
		t, err := buildTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.transcriber = t
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		s, err := buildSynthesizer(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.synthesizer = s
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "model", entry.Model)
	}

	return ps, nil
}

// buildGenerator constructs the reply generator. All hosted LLM backends go
// through the any-llm bridge, which resolves the provider by name.
func buildGenerator(entry config.ProviderEntry) (llm.Generator, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func buildTranscriber(entry config.ProviderEntry) (stt.Transcriber, error) {
	switch entry.Name {
	case "openai":
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(entry.APIKey, opts...)
	case "whisper":
		// Model carries the path to the local ggml model file.
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

func buildSynthesizer(entry config.ProviderEntry) (tts.Synthesizer, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	case "openai":
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
