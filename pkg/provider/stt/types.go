package stt

import "time"

// Transcript is the text recognised for one utterance.
type Transcript struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	Text string

	// Language is the language the provider recognised or was told to use.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Duration is the length of the transcribed audio.
	Duration time.Duration

	// Provider names the backend that produced the transcript. Set by
	// failover wrappers so callers can tell which backend answered.
	Provider string
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// AudioDuration returns the duration of 16-bit mono pcm at sampleRate.
func AudioDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
