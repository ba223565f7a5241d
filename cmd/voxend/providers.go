package main

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/voxend/internal/config"
	"github.com/MrWong99/voxend/pkg/provider/stt"
	"github.com/MrWong99/voxend/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voxend/pkg/provider/stt/openai"
	"github.com/MrWong99/voxend/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxend/pkg/provider/vad"
	"github.com/MrWong99/voxend/pkg/provider/vad/energy"
)

// closerList collects providers that hold native resources.
type closerList struct {
	mu  sync.Mutex
	fns []func() error
}

func (c *closerList) add(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *closerList) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			slog.Warn("provider close failed", "err", err)
		}
	}
	c.fns = nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Providers created through it that need releasing are closed by the
// returned list.
func registerBuiltinProviders(reg *config.Registry) *closerList {
	closers := &closerList{}

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		frameMs, err := entry.OptionInt("frame_ms", 0)
		if err != nil {
			return nil, err
		}
		minSpeechMs, err := entry.OptionInt("min_speech_ms", -1)
		if err != nil {
			return nil, err
		}
		var opts []energy.Option
		if frameMs > 0 {
			opts = append(opts, energy.WithFrameMs(frameMs))
		}
		if minSpeechMs >= 0 {
			opts = append(opts, energy.WithMinSpeechMs(minSpeechMs))
		}
		return energy.New(opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			p, err := entry.OptionString("model_path", "")
			if err != nil {
				return nil, err
			}
			modelPath = p
		}
		threads, err := entry.OptionInt("threads", 0)
		if err != nil {
			return nil, err
		}
		opts := []whisper.NativeOption{whisper.WithNativeThreads(threads)}
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		p, err := whisper.NewNative(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		closers.add(p.Close)
		return p, nil
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		timeout, err := entry.OptionDuration("timeout", 0)
		if err != nil {
			return nil, err
		}
		org, err := entry.OptionString("organization", "")
		if err != nil {
			return nil, err
		}
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		if timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(timeout))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"vad", "stt"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
	return closers
}
