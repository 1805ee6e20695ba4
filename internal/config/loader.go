package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "mistral", "groq"},
	"tts": {"elevenlabs", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; the avatar cannot reply without a language model"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; sessions will accept text input only")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; replies will be delivered as text only")
	}

	if cfg.Voice.Speed != 0 {
		if cfg.Voice.Speed < 0.5 || cfg.Voice.Speed > 2.0 {
			errs = append(errs, fmt.Errorf("voice.speed %.2f is out of range [0.5, 2.0]", cfg.Voice.Speed))
		}
	}

	if cfg.Pipeline.Retries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retries %d must not be negative", cfg.Pipeline.Retries))
	}
	if cfg.Pipeline.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_depth %d must not be negative", cfg.Pipeline.QueueDepth))
	}
	if cfg.Pipeline.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_window %d must not be negative", cfg.Pipeline.HistoryWindow))
	}
	if cfg.Pipeline.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("pipeline.breaker.max_failures %d must not be negative", cfg.Pipeline.Breaker.MaxFailures))
	}

	for i, rule := range cfg.Pipeline.Gestures {
		prefix := fmt.Sprintf("pipeline.gestures[%d]", i)
		if rule.Trigger == "" {
			errs = append(errs, fmt.Errorf("%s.trigger is required", prefix))
		}
		if rule.Gesture == "" {
			errs = append(errs, fmt.Errorf("%s.gesture is required", prefix))
		}
		if rule.DurationMs < 0 {
			errs = append(errs, fmt.Errorf("%s.duration_ms %d must not be negative", prefix, rule.DurationMs))
		}
	}

	for i, fr := range cfg.Pipeline.FallbackReplies {
		prefix := fmt.Sprintf("pipeline.fallback_replies[%d]", i)
		if fr.Reply == "" {
			errs = append(errs, fmt.Errorf("%s.reply is required", prefix))
		}
		if len(fr.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("%s.keywords must not be empty", prefix))
		}
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; conversation turns will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
