package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Endpoint
	ep := cfg.Endpoint
	if ep.ChunkDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("endpoint.chunk_duration_ms %d must be positive", ep.ChunkDurationMs))
	}
	if ep.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("endpoint.sample_rate %d must be positive", ep.SampleRate))
	}
	if ep.MuteTimeMs < 0 {
		errs = append(errs, fmt.Errorf("endpoint.mute_time_ms %d must not be negative", ep.MuteTimeMs))
	}
	if ep.MaxUtteranceMs < 0 {
		errs = append(errs, fmt.Errorf("endpoint.max_utterance_ms %d must not be negative", ep.MaxUtteranceMs))
	}
	if ep.MaxUtteranceMs > 0 && ep.MaxUtteranceMs <= ep.MuteTimeMs {
		slog.Warn("endpoint.max_utterance_ms does not exceed mute_time_ms; utterances may be cut before the silence timeout",
			"max_utterance_ms", ep.MaxUtteranceMs,
			"mute_time_ms", ep.MuteTimeMs,
		)
	}
	if ep.ChunkDurationMs > 0 && ep.MuteTimeMs%ep.ChunkDurationMs != 0 {
		slog.Warn("endpoint.mute_time_ms is not a multiple of chunk_duration_ms; silence is counted in whole chunks",
			"mute_time_ms", ep.MuteTimeMs,
			"chunk_duration_ms", ep.ChunkDurationMs,
		)
	}

	// Providers
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad.name is required"))
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	if cfg.Providers.STT.Name == "" {
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
		}
		slog.Warn("no STT provider configured; utterances will be detected but not transcribed")
	}
	seen := map[string]int{}
	if cfg.Providers.STT.Name != "" {
		seen[sttKey(cfg.Providers.STT)] = -1
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("stt", fb.Name)
		if prev, ok := seen[sttKey(fb)]; ok {
			what := "providers.stt"
			if prev >= 0 {
				what = fmt.Sprintf("providers.stt_fallbacks[%d]", prev)
			}
			errs = append(errs, fmt.Errorf("%s duplicates %s", prefix, what))
		}
		seen[sttKey(fb)] = i
	}

	// Store
	if cfg.Store.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("store.history_size %d must not be negative", cfg.Store.HistorySize))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

// sttKey identifies an STT entry for duplicate detection.
func sttKey(e ProviderEntry) string {
	return e.Name + "|" + e.BaseURL + "|" + e.Model
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
