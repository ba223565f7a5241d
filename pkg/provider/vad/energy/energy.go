// Package energy implements a pure-Go voice-activity classifier that gates on
// RMS energy with hysteresis.
//
// Each chunk is cut into short analysis frames. A start edge is reported once
// MinSpeechMs of consecutive frames exceed the speech threshold; an end edge
// once MinSilenceMs of consecutive frames fall below the silence threshold.
// Edge offsets point at the first frame of the run that triggered them, so an
// end edge usually arrives in a later chunk than the audio it marks.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/provider/vad"
)

const (
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008
	defaultFrameMs          = 30
	defaultMinSpeechMs      = 90
	defaultMinSilenceMs     = 600
)

// Option configures an [Engine].
type Option func(*Engine)

// WithFrameMs sets the analysis frame length. Defaults to 30 ms.
func WithFrameMs(ms int) Option {
	return func(e *Engine) { e.frameMs = ms }
}

// WithMinSpeechMs sets how much consecutive loud audio triggers a start edge.
// Defaults to 90 ms.
func WithMinSpeechMs(ms int) Option {
	return func(e *Engine) { e.minSpeechMs = ms }
}

// Engine creates energy classifier sessions. Safe for concurrent use.
type Engine struct {
	frameMs     int
	minSpeechMs int
}

var _ vad.Engine = (*Engine)(nil)

// New returns an energy classifier engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{frameMs: defaultFrameMs, minSpeechMs: defaultMinSpeechMs}
	for _, o := range opts {
		o(e)
	}
	if e.frameMs <= 0 {
		return nil, fmt.Errorf("energy: frame length must be positive, got %d ms", e.frameMs)
	}
	if e.minSpeechMs < 0 {
		return nil, fmt.Errorf("energy: min speech must not be negative, got %d ms", e.minSpeechMs)
	}
	return e, nil
}

// NewSession returns a fresh classifier session. Zero thresholds and zero
// MinSilenceMs in cfg select the package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	speech := cfg.SpeechThreshold
	if speech == 0 {
		speech = defaultSpeechThreshold
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = min(defaultSilenceThreshold, speech)
	}
	minSilence := cfg.MinSilenceMs
	if minSilence == 0 {
		minSilence = defaultMinSilenceMs
	}

	frameLen := max(1, cfg.SampleRate*e.frameMs/1000)
	return &session{
		sampleRate:       cfg.SampleRate,
		frameLen:         frameLen,
		speechThreshold:  speech,
		silenceThreshold: silence,
		minSpeechFrames:  framesFor(e.minSpeechMs, e.frameMs),
		minSilenceFrames: framesFor(minSilence, e.frameMs),
	}, nil
}

// framesFor converts a duration to a frame count, rounding up, minimum one.
func framesFor(ms, frameMs int) int {
	return max(1, (ms+frameMs-1)/frameMs)
}

type session struct {
	sampleRate       int
	frameLen         int
	speechThreshold  float64
	silenceThreshold float64
	minSpeechFrames  int
	minSilenceFrames int

	pending  []int16
	offset   int
	inSpeech bool
	runStart int
	runLen   int
	closed   bool
}

func (s *session) Classify(chunk audio.Chunk) (vad.Activity, error) {
	if s.closed {
		return nil, vad.ErrSessionClosed
	}
	if chunk.SampleRate != s.sampleRate {
		return nil, fmt.Errorf("energy: chunk %d at %d Hz, session expects %d Hz",
			chunk.Seq, chunk.SampleRate, s.sampleRate)
	}

	s.pending = append(s.pending, chunk.Samples...)
	var out []vad.Interval
	n := 0
	for ; len(s.pending)-n >= s.frameLen; n += s.frameLen {
		level := RMS(s.pending[n : n+s.frameLen])
		if edge, ok := s.step(level); ok {
			out = appendEdge(out, edge)
		}
		s.offset += s.frameLen
	}
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return vad.Reply(out...), nil
}

// step advances the hysteresis state by one frame and returns the completed
// edge, if any.
func (s *session) step(level float64) (vad.Interval, bool) {
	var (
		counts bool
		need   int
	)
	if s.inSpeech {
		counts, need = level < s.silenceThreshold, s.minSilenceFrames
	} else {
		counts, need = level >= s.speechThreshold, s.minSpeechFrames
	}
	if !counts {
		s.runLen = 0
		return vad.Interval{}, false
	}
	if s.runLen == 0 {
		s.runStart = s.offset
	}
	s.runLen++
	if s.runLen < need {
		return vad.Interval{}, false
	}

	s.runLen = 0
	s.inSpeech = !s.inSpeech
	if s.inSpeech {
		return vad.StartAt(s.runStart), true
	}
	return vad.EndAt(s.runStart), true
}

// appendEdge closes an open start-only interval when an end follows it in the
// same reply.
func appendEdge(out []vad.Interval, edge vad.Interval) []vad.Interval {
	if n := len(out); n > 0 && edge.HasEnd() && !edge.HasStart() && !out[n-1].HasEnd() {
		out[n-1].End = edge.End
		return out
	}
	return append(out, edge)
}

func (s *session) Close() error {
	s.closed = true
	s.pending = nil
	return nil
}

// RMS returns the root-mean-square level of samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
