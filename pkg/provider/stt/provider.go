// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one finalized utterance (the exact span the endpoint
// detector cut from the stream) into text. Transcription is a single batch
// call: the detector has already decided where the instruction begins and
// ends, so providers never segment audio themselves.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by Transcribe when pcm holds no samples. Callers
// distinguish it from an utterance that was transcribed to empty text.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Config describes the audio format and recognition hints for one request.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Zero selects the provider
	// default.
	SampleRate int

	// Language is the BCP-47 language tag (e.g. "en", "de-DE"). Empty lets the
	// provider auto-detect or use its default.
	Language string

	// Prompt is optional context text that biases recognition towards
	// expected vocabulary. Providers without prompt support ignore it.
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts 16-bit little-endian mono PCM into text. Returns
	// ErrEmptyAudio for empty input. Returns an error if ctx is cancelled or
	// the backend fails.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (Transcript, error)
}
