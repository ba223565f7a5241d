package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; everything
// else needs the process to be restarted.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointChanged is true when mute time, chunk duration or the
	// utterance cap changed. New detections pick up the values; running ones
	// finish with the old ones.
	EndpointChanged bool
	NewEndpoint     EndpointConfig

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// HasChanges reports whether d carries any change.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.EndpointChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oe, ne := old.Endpoint, new.Endpoint
	if oe.MuteTimeMs != ne.MuteTimeMs || oe.ChunkDurationMs != ne.ChunkDurationMs || oe.MaxUtteranceMs != ne.MaxUtteranceMs {
		d.EndpointChanged = true
		d.NewEndpoint = ne
	}
	if oe.SampleRate != ne.SampleRate {
		// Classifier sessions and sources are built for one rate.
		d.RestartRequired = append(d.RestartRequired, "endpoint.sample_rate")
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.VAD, b.VAD) || !sameEntry(a.STT, b.STT) || len(a.STTFallbacks) != len(b.STTFallbacks) {
		return false
	}
	for i := range a.STTFallbacks {
		if !sameEntry(a.STTFallbacks[i], b.STTFallbacks[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares the scalar fields and the option keys and values that
// are comparable.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model || a.Language != b.Language {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !sameValue(av, bv) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		// Nested structures are treated as changed.
		return false
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}
