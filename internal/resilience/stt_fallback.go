package resilience

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxend/internal/observe"
	"github.com/MrWong99/voxend/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] over an ordered list of transcription
// backends. Empty audio and cancelled calls are returned at once instead of
// failing over.
type STTFallback struct {
	group   *FallbackGroup[stt.Provider]
	metrics *observe.Metrics
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. metrics may be nil.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *STTFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = permanentSTTError
	}
	return &STTFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

func permanentSTTError(err error) bool {
	return errors.Is(err, stt.ErrEmptyAudio) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// AddFallback registers another backend after the ones already added.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Status returns the breaker state of each backend.
func (f *STTFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Transcribe sends pcm to the first healthy backend and fails over on error.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(name string, p stt.Provider) (stt.Transcript, error) {
		start := time.Now()
		t, err := p.Transcribe(ctx, pcm, cfg)
		f.record(ctx, name, time.Since(start), err)
		return t, err
	})
}

func (f *STTFallback) record(ctx context.Context, name string, elapsed time.Duration, err error) {
	if f.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		f.metrics.RecordProviderError(ctx, name, "stt")
	}
	f.metrics.RecordProviderRequest(ctx, name, "stt", status)
	f.metrics.STTDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(observe.Attr("provider", name)))
}
