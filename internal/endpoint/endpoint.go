// Package endpoint decides which span of a live audio stream makes up one
// spoken instruction.
//
// A [Detector] pulls fixed-duration chunks from an [audio.ChunkSource], feeds
// each one to a voice-activity classifier session and tracks the speech
// edges the classifier reports. Once the stream has stayed silent for longer
// than the configured mute time the detector slices the buffered audio to
// [speech start, speech end) and returns it as an [Utterance].
//
// Detection is single-shot: one Detect call yields at most one utterance and
// starts from fresh state. Servers that handle many utterances call Detect in
// a loop, one [Detector] per session.
package endpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxend/pkg/audio"
)

const (
	// DefaultChunkDurationMs is the chunk duration used when Config leaves it
	// at zero.
	DefaultChunkDurationMs = 200

	// DefaultMuteTimeMs is the trailing silence that ends an utterance in
	// [DefaultConfig].
	DefaultMuteTimeMs = 2000

	// DefaultSampleRate is the sample rate used when Config leaves it at zero.
	DefaultSampleRate = 16000
)

var (
	// ErrSourceExhausted is returned when the stream ended or went silent
	// without any speech edge being reported.
	ErrSourceExhausted = errors.New("endpoint: no speech detected")

	// ErrClassifierFault wraps an error returned by the classifier. The
	// detection is abandoned; a retry needs a new Detect call.
	ErrClassifierFault = errors.New("endpoint: classifier fault")

	// ErrDegenerateBounds is returned when only one speech bound is known at
	// finalization, or the end does not lie after the start.
	ErrDegenerateBounds = errors.New("endpoint: degenerate speech bounds")

	// ErrCancelled is returned by a Detect call interrupted by Cancel or by its
	// context.
	ErrCancelled = errors.New("endpoint: detection cancelled")

	// ErrBusy is returned when Detect is called while another detection on the
	// same Detector is still running.
	ErrBusy = errors.New("endpoint: detection already running")
)

// IsNoSpeech reports whether err means the caller heard no usable
// instruction. Such errors should not end the surrounding session.
func IsNoSpeech(err error) bool {
	return errors.Is(err, ErrSourceExhausted) || errors.Is(err, ErrDegenerateBounds)
}

// Config holds the detector parameters.
type Config struct {
	// ChunkDurationMs is the nominal duration of each chunk. Silence is
	// accounted in multiples of this value.
	ChunkDurationMs int

	// MuteTimeMs is the trailing silence after which an utterance is
	// finalized. It is taken literally: zero or less finalizes on the first
	// silent chunk. [DefaultConfig] carries the usual value.
	MuteTimeMs int

	// SampleRate of the chunks in Hz.
	SampleRate int
}

// DefaultConfig returns 200 ms chunks at 16 kHz with a two second mute time.
func DefaultConfig() Config {
	return Config{
		ChunkDurationMs: DefaultChunkDurationMs,
		MuteTimeMs:      DefaultMuteTimeMs,
		SampleRate:      DefaultSampleRate,
	}
}

// withDefaults fills the zero geometry fields. MuteTimeMs is left alone.
func (c Config) withDefaults() Config {
	if c.ChunkDurationMs == 0 {
		c.ChunkDurationMs = DefaultChunkDurationMs
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.ChunkDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: chunk duration must be positive, got %d", c.ChunkDurationMs))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.ChunkDurationMs > 0 && c.SampleRate > 0 && audio.SamplesPerChunk(c.SampleRate, c.ChunkDurationMs) == 0 {
		errs = append(errs, fmt.Errorf("endpoint: %d ms at %d Hz is shorter than one sample", c.ChunkDurationMs, c.SampleRate))
	}
	return errors.Join(errs...)
}

// Phase is the position of a detection in its state machine.
type Phase int

const (
	// PhaseAwaitingSpeech is the initial phase: no edge seen yet.
	PhaseAwaitingSpeech Phase = iota

	// PhaseInSpeech covers both the voiced region and the silence run that
	// follows it.
	PhaseInSpeech

	// PhaseFinalized is terminal; the detection produced its result.
	PhaseFinalized
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingSpeech:
		return "awaiting_speech"
	case PhaseInSpeech:
		return "in_speech_or_silence_run"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// FinalizeReason says why a detection stopped pulling chunks.
type FinalizeReason string

const (
	// ReasonSilenceTimeout means the trailing silence exceeded the mute time.
	ReasonSilenceTimeout FinalizeReason = "silence_timeout"

	// ReasonSourceExhausted means the chunk source ended first.
	ReasonSourceExhausted FinalizeReason = "source_exhausted"

	// ReasonMaxDuration means the buffered audio reached the configured
	// maximum utterance length.
	ReasonMaxDuration FinalizeReason = "max_duration"
)

// Utterance is the result of one detection.
//
// Start and End are sample offsets into the buffered stream; Samples is the
// [Start, End) slice of it. When Detect fails with a no-speech error the
// returned Utterance carries no samples but still reports Reason, Chunks and
// SilenceMs, and unknown bounds are -1.
type Utterance struct {
	Samples    []int16
	SampleRate int
	Start      int
	End        int

	// Chunks is the number of chunks pulled from the source.
	Chunks int

	// SilenceMs is the silence run at the moment of finalization.
	SilenceMs int

	Reason FinalizeReason
}

// Duration returns the length of the sliced audio.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// PCM returns the samples as little-endian 16-bit PCM, the input format of
// the stt providers.
func (u Utterance) PCM() []byte {
	return audio.Int16sToBytes(u.Samples)
}
