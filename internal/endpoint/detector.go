package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxend/internal/observe"
	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/provider/vad"
)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithMaxUtteranceMs finalizes a detection once this much audio has been
// buffered, using the bounds known at that point. An open voiced region is
// closed at the end of the buffer. Zero disables the limit.
func WithMaxUtteranceMs(ms int) Option {
	return func(d *Detector) { d.maxUtteranceMs = ms }
}

// WithMetrics records chunk and detection metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithLogger overrides the logger. By default the detector logs through
// [observe.Logger] with the detection context.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithVADConfig overrides the thresholds handed to every classifier session.
// SampleRate and ChunkDurationMs always come from the detector Config.
func WithVADConfig(cfg vad.Config) Option {
	return func(d *Detector) { d.vadCfg = cfg }
}

// Detector runs endpoint detections against one classifier engine.
//
// Detector is safe for concurrent use, but runs one detection at a time: a
// Detect call made while another is in flight fails with [ErrBusy]. Cancel
// and Phase may be called from any goroutine.
type Detector struct {
	cfg            Config
	engine         vad.Engine
	vadCfg         vad.Config
	maxUtteranceMs int
	metrics        *observe.Metrics
	logger         *slog.Logger

	mu      sync.Mutex
	running bool
	phase   Phase
	cancel  context.CancelFunc
}

// New creates a Detector. Zero chunk duration and sample rate take their
// defaults; the resulting Config must validate.
func New(cfg Config, engine vad.Engine, opts ...Option) (*Detector, error) {
	if engine == nil {
		return nil, errors.New("endpoint: vad engine must not be nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{cfg: cfg, engine: engine}
	for _, o := range opts {
		o(d)
	}
	if d.maxUtteranceMs < 0 {
		return nil, fmt.Errorf("endpoint: max utterance must not be negative, got %d", d.maxUtteranceMs)
	}
	d.vadCfg.SampleRate = cfg.SampleRate
	d.vadCfg.ChunkDurationMs = cfg.ChunkDurationMs
	return d, nil
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Phase returns the phase of the current or most recent detection.
func (d *Detector) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Cancel interrupts the running detection, if any. Its state is discarded
// without finalizing and Detect returns [ErrCancelled]. Cancel is a no-op when
// nothing is running.
func (d *Detector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
}

func (d *Detector) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
}

// state is the per-detection bookkeeping. The classifier session is the
// opaque part; everything else is owned by the loop.
type state struct {
	session      vad.SessionHandle
	speechStart  int
	speechEnd    int
	silenceRunMs int
	inVoiced     bool
	buffer       []int16
	chunks       int
}

func newState(session vad.SessionHandle) *state {
	return &state{session: session, speechStart: vad.Unset, speechEnd: vad.Unset}
}

// Detect pulls chunks from src until one utterance is finalized, the source
// ends, or the detection is cancelled.
//
// On success the returned Utterance holds exactly the samples between the
// first reported speech start and the last reported speech end. Errors:
//   - [ErrSourceExhausted]: no speech edge was ever reported.
//   - [ErrDegenerateBounds]: only one bound is known or end <= start.
//   - [ErrClassifierFault]: the classifier failed; wraps its error.
//   - [ErrCancelled]: Cancel was called or ctx ended; wraps the ctx error.
//   - [ErrBusy]: another Detect call is running.
//
// Source errors other than io.EOF are returned wrapped, as is a chunk whose
// SampleRate differs from the configured rate.
func (d *Detector) Detect(ctx context.Context, src audio.ChunkSource) (Utterance, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return Utterance{}, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.phase = PhaseAwaitingSpeech
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		d.running = false
		d.cancel = nil
		d.mu.Unlock()
	}()

	ctx, span := observe.StartSpan(ctx, "endpoint.Detect")
	defer span.End()

	start := time.Now()
	u, err := d.detect(ctx, src)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Int("endpoint.chunks", u.Chunks),
		attribute.String("endpoint.reason", string(u.Reason)),
	)
	log := d.log(ctx)
	switch {
	case err == nil:
		d.setPhase(PhaseFinalized)
		log.Info("endpoint: utterance finalized",
			"reason", u.Reason,
			"start", u.Start,
			"end", u.End,
			"duration", u.Duration(),
			"chunks", u.Chunks,
		)
		if d.metrics != nil {
			d.metrics.RecordUtterance(ctx, string(u.Reason), u.Duration(), elapsed)
		}
	case IsNoSpeech(err):
		d.setPhase(PhaseFinalized)
		log.Info("endpoint: no instruction spoken", "reason", u.Reason, "chunks", u.Chunks, "err", err)
		d.recordFailure(ctx, err, elapsed)
	default:
		// Cancelled and failed detections leave no finalized state behind.
		d.setPhase(PhaseAwaitingSpeech)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("endpoint: detection aborted", "chunks", u.Chunks, "err", err)
		d.recordFailure(ctx, err, elapsed)
	}
	return u, err
}

func (d *Detector) detect(ctx context.Context, src audio.ChunkSource) (Utterance, error) {
	session, err := d.engine.NewSession(d.vadCfg)
	if err != nil {
		return Utterance{}, fmt.Errorf("endpoint: new classifier session: %w: %w", ErrClassifierFault, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			d.log(ctx).Warn("endpoint: close classifier session", "err", cerr)
		}
	}()

	st := newState(session)
	maxSamples := 0
	if d.maxUtteranceMs > 0 {
		maxSamples = d.cfg.SampleRate * d.maxUtteranceMs / 1000
	}

	for {
		if err := ctx.Err(); err != nil {
			return d.result(st, ""), d.cancelErr(err)
		}
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return d.finalize(st, ReasonSourceExhausted)
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return d.result(st, ""), d.cancelErr(cerr)
			}
			return d.result(st, ""), fmt.Errorf("endpoint: next chunk: %w", err)
		}
		if chunk.SampleRate != d.cfg.SampleRate {
			return d.result(st, ""), fmt.Errorf("endpoint: chunk %d: sample rate %d Hz, want %d Hz",
				chunk.Seq, chunk.SampleRate, d.cfg.SampleRate)
		}
		st.chunks++
		if d.metrics != nil {
			d.metrics.RecordChunk(ctx)
		}

		reply, err := st.session.Classify(chunk)
		if err != nil {
			return d.result(st, ""), fmt.Errorf("endpoint: classify chunk %d: %w: %w", chunk.Seq, ErrClassifierFault, err)
		}
		st.buffer = append(st.buffer, chunk.Samples...)

		switch r := reply.(type) {
		case vad.Edges:
			if len(r) == 0 {
				// An empty edge list completes nothing; treat as silence.
				if st.accrueSilence(d.chunkMs(chunk), d.cfg.MuteTimeMs) {
					return d.finalize(st, ReasonSilenceTimeout)
				}
				break
			}
			if st.speechStart == vad.Unset && st.speechEnd == vad.Unset {
				d.setPhase(PhaseInSpeech)
				d.log(ctx).Debug("endpoint: speech edge seen", "chunk", chunk.Seq, "edges", len(r))
			}
			st.applyEdges(r)
		case vad.NoActivity:
			if st.accrueSilence(d.chunkMs(chunk), d.cfg.MuteTimeMs) {
				return d.finalize(st, ReasonSilenceTimeout)
			}
		default:
			return d.result(st, ""), fmt.Errorf("endpoint: classify chunk %d: %w: unexpected reply %T",
				chunk.Seq, ErrClassifierFault, reply)
		}

		if maxSamples > 0 && len(st.buffer) >= maxSamples {
			if st.inVoiced && st.speechStart != vad.Unset {
				st.speechEnd = len(st.buffer)
			}
			return d.finalize(st, ReasonMaxDuration)
		}
	}
}

// applyEdges folds one chunk's intervals into the state. Every edge resets
// the silence run; the first start and the last end win.
func (st *state) applyEdges(edges vad.Edges) {
	for _, iv := range edges {
		if iv.HasStart() {
			st.inVoiced = true
			if st.speechStart == vad.Unset {
				st.speechStart = iv.Start
			}
		}
		if iv.HasEnd() {
			st.inVoiced = false
			st.speechEnd = iv.End
		}
	}
	st.silenceRunMs = 0
}

// accrueSilence adds one silent chunk and reports whether the mute time is
// exceeded. Silence inside an open voiced region does not count.
func (st *state) accrueSilence(chunkMs, muteTimeMs int) bool {
	if st.inVoiced {
		return false
	}
	st.silenceRunMs += chunkMs
	return st.silenceRunMs > muteTimeMs
}

// chunkMs returns the chunk's nominal duration, falling back to the
// configured one for sources that leave it unset.
func (d *Detector) chunkMs(c audio.Chunk) int {
	if c.DurationMs > 0 {
		return c.DurationMs
	}
	return d.cfg.ChunkDurationMs
}

// finalize applies the bound policy and slices the buffer.
func (d *Detector) finalize(st *state, reason FinalizeReason) (Utterance, error) {
	u := d.result(st, reason)
	start, end := st.speechStart, st.speechEnd
	switch {
	case start == vad.Unset && end == vad.Unset:
		return u, ErrSourceExhausted
	case start == vad.Unset:
		return u, fmt.Errorf("%w: end %d without a start", ErrDegenerateBounds, end)
	case end == vad.Unset:
		return u, fmt.Errorf("%w: start %d without an end", ErrDegenerateBounds, start)
	}
	end = min(end, len(st.buffer))
	if start < 0 || end <= start {
		return u, fmt.Errorf("%w: [%d, %d) over %d buffered samples", ErrDegenerateBounds, st.speechStart, st.speechEnd, len(st.buffer))
	}
	u.Start, u.End = start, end
	u.Samples = slices.Clone(st.buffer[start:end])
	return u, nil
}

// result returns the metadata of a detection without any samples.
func (d *Detector) result(st *state, reason FinalizeReason) Utterance {
	return Utterance{
		SampleRate: d.cfg.SampleRate,
		Start:      st.speechStart,
		End:        st.speechEnd,
		Chunks:     st.chunks,
		SilenceMs:  st.silenceRunMs,
		Reason:     reason,
	}
}

func (d *Detector) cancelErr(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func (d *Detector) recordFailure(ctx context.Context, err error, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	// The detection ctx may already be cancelled; metrics only need its values.
	ctx = context.WithoutCancel(ctx)
	d.metrics.RecordDetectionFailure(ctx, outcome(err), elapsed)
}

// outcome maps a Detect error to its metric label.
func outcome(err error) string {
	switch {
	case errors.Is(err, ErrSourceExhausted):
		return "no_speech"
	case errors.Is(err, ErrDegenerateBounds):
		return "degenerate"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrClassifierFault):
		return "classifier_fault"
	default:
		return "source_error"
	}
}

func (d *Detector) log(ctx context.Context) *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return observe.Logger(ctx)
}
