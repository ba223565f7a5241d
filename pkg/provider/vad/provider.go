// Package vad defines the Engine interface for voice-activity classifiers.
//
// A VAD engine wraps a speech detector (an energy gate, a neural model, or a
// scripted test double) and surfaces it as a stateful per-utterance session.
// The session is the classifier's opaque running state: it buffers audio
// internally, so a speech interval's start and end may be reported in
// different Classify calls. Callers never inspect that state; they only pass
// chunks in order and read back [Activity].
//
// Classification is synchronous: Classify returns once the chunk has been
// analysed. Engines must be safe for concurrent use across sessions. A single
// SessionHandle must not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxend/pkg/audio"
)

// ErrSessionClosed is returned by Classify after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// chunks passed to Classify.
	SampleRate int

	// ChunkDurationMs is the nominal duration of each chunk.
	ChunkDurationMs int

	// SpeechThreshold is the score above which a frame counts as speech, in
	// the engine's native scale. Zero selects the engine default.
	SpeechThreshold float64

	// SilenceThreshold is the score below which a voiced region is considered
	// ended. Must be <= SpeechThreshold when both are set.
	SilenceThreshold float64

	// MinSilenceMs is how long the score must stay below SilenceThreshold
	// before an end edge is reported. Zero selects the engine default.
	MinSilenceMs int
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.ChunkDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("vad: chunk duration must be positive, got %d", c.ChunkDurationMs))
	}
	if c.SpeechThreshold < 0 || c.SilenceThreshold < 0 {
		errs = append(errs, errors.New("vad: thresholds must not be negative"))
	}
	if c.SpeechThreshold > 0 && c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad: silence threshold %.3f exceeds speech threshold %.3f",
			c.SilenceThreshold, c.SpeechThreshold))
	}
	if c.MinSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad: min silence must not be negative, got %d", c.MinSilenceMs))
	}
	return errors.Join(errs...)
}

// SessionHandle is the running classifier state for one utterance.
type SessionHandle interface {
	// Classify analyses the next chunk and returns the voice-activity edges it
	// completed. The session state is advanced by every call; chunks must be
	// supplied in stream order. Interval offsets are sample offsets from the
	// first sample the session received.
	//
	// Given identical state and the same chunk sequence, Classify must return
	// the same results.
	Classify(chunk audio.Chunk) (Activity, error)

	// Close releases the resources of the session. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a fresh session. Returns an error if cfg is invalid or
	// the engine cannot allocate the session.
	NewSession(cfg Config) (SessionHandle, error)
}
