package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/internal/observe"
	"github.com/MrWong99/voxend/internal/transcript"
	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/provider/stt"
	"github.com/MrWong99/voxend/pkg/provider/vad"
)

// ErrTranscription wraps failures of the speech-to-text backend so callers
// can tell them apart from detection errors.
var ErrTranscription = errors.New("app: transcription failed")

// Result is the outcome of one detection. For no-speech detections only
// Reason and Chunks are meaningful.
type Result struct {
	transcript.Record
	Chunks int `json:"chunks"`
}

// ServiceConfig holds the dependencies of a [Service].
type ServiceConfig struct {
	Endpoint       endpoint.Config
	MaxUtteranceMs int

	// Language is passed to the transcriber. Empty lets it auto-detect.
	Language string

	VAD vad.Engine

	// VADConfig carries classifier thresholds; its rate and chunk duration
	// are taken from Endpoint.
	VADConfig vad.Config

	// STT may be nil, in which case utterances are detected but not
	// transcribed.
	STT stt.Provider

	// Store may be nil to disable the utterance log.
	Store   transcript.Store
	Metrics *observe.Metrics
}

// Service runs endpoint detection followed by transcription. It is safe for
// concurrent use; every detection gets its own [endpoint.Detector].
type Service struct {
	engine   vad.Engine
	vadCfg   vad.Config
	stt      stt.Provider
	store    transcript.Store
	metrics  *observe.Metrics
	language string

	mu             sync.RWMutex
	cfg            endpoint.Config
	maxUtteranceMs int
}

// NewService validates c and returns a ready Service.
func NewService(c ServiceConfig) (*Service, error) {
	if c.VAD == nil {
		return nil, errors.New("app: vad engine is required")
	}
	if err := c.Endpoint.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if c.MaxUtteranceMs < 0 {
		return nil, fmt.Errorf("app: max utterance %d ms must not be negative", c.MaxUtteranceMs)
	}
	return &Service{
		engine:         c.VAD,
		vadCfg:         c.VADConfig,
		stt:            c.STT,
		store:          c.Store,
		metrics:        c.Metrics,
		language:       c.Language,
		cfg:            c.Endpoint,
		maxUtteranceMs: c.MaxUtteranceMs,
	}, nil
}

// Endpoint returns the detection settings new detectors are built with.
func (s *Service) Endpoint() (endpoint.Config, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.maxUtteranceMs
}

// SetEndpoint replaces the chunk duration, mute time and utterance cap for
// detections started afterwards. The sample rate is fixed for the lifetime
// of the service.
func (s *Service) SetEndpoint(cfg endpoint.Config, maxUtteranceMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.SampleRate = s.cfg.SampleRate
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if maxUtteranceMs < 0 {
		return fmt.Errorf("app: max utterance %d ms must not be negative", maxUtteranceMs)
	}
	s.cfg, s.maxUtteranceMs = cfg, maxUtteranceMs
	return nil
}

// NewDetector returns a detector using the current settings.
func (s *Service) NewDetector() (*endpoint.Detector, error) {
	cfg, maxMs := s.Endpoint()
	opts := []endpoint.Option{
		endpoint.WithMaxUtteranceMs(maxMs),
		endpoint.WithVADConfig(s.vadCfg),
	}
	if s.metrics != nil {
		opts = append(opts, endpoint.WithMetrics(s.metrics))
	}
	return endpoint.New(cfg, s.engine, opts...)
}

// Process detects one utterance on src, transcribes it and, when session is
// not empty, appends it to the utterance log.
func (s *Service) Process(ctx context.Context, session string, src audio.ChunkSource) (Result, error) {
	det, err := s.NewDetector()
	if err != nil {
		return Result{}, err
	}
	return s.ProcessWith(ctx, det, session, src)
}

// ProcessWith is [Service.Process] on a caller-owned detector, which lets
// the caller cancel it or reuse it for the next utterance of a stream.
func (s *Service) ProcessWith(ctx context.Context, det *endpoint.Detector, session string, src audio.ChunkSource) (Result, error) {
	if observe.SessionID(ctx) == "" {
		ctx = observe.WithSession(ctx, session)
	}
	u, err := det.Detect(ctx, src)
	res := Result{
		Record: transcript.Record{
			Session:    session,
			Start:      u.Start,
			End:        u.End,
			SampleRate: u.SampleRate,
			Reason:     string(u.Reason),
		},
		Chunks: u.Chunks,
	}
	if err != nil {
		return res, err
	}
	res.DurationMs = u.Duration().Milliseconds()

	if s.stt != nil {
		ctx, span := observe.StartSpan(ctx, "app.Transcribe")
		t, err := s.stt.Transcribe(ctx, u.PCM(), stt.Config{SampleRate: u.SampleRate, Language: s.language})
		span.End()
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrTranscription, err)
		}
		res.Text, res.Language, res.Provider = t.Text, t.Language, t.Provider
	}

	if session != "" && s.store != nil {
		rec, err := s.store.Append(ctx, res.Record)
		if err != nil {
			// The utterance is still delivered; only its log entry is lost.
			observe.Logger(ctx).Warn("app: store utterance", "err", err)
		} else {
			res.Record = rec
		}
	}
	return res, nil
}

// Instruction detects the first instruction spoken on src and returns its
// text. No-speech detections return an error matched by
// [endpoint.IsNoSpeech].
func (s *Service) Instruction(ctx context.Context, src audio.ChunkSource) (string, error) {
	res, err := s.Process(ctx, "", src)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// History returns the newest records of session.
func (s *Service) History(ctx context.Context, session string, limit int) ([]transcript.Record, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Recent(ctx, session, limit)
}

// ResetHistory clears the utterance log of session.
func (s *Service) ResetHistory(ctx context.Context, session string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Reset(ctx, session)
}
