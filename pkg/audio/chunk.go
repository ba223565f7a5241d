// Package audio defines the chunk model and the chunk sources that feed the
// endpoint detector.
//
// A [Chunk] is one fixed-duration slice of a mono 16-bit PCM stream. A
// [ChunkSource] hands chunks out one at a time, strictly in order, and
// reports the end of the stream with [io.EOF]. Sources come in two flavours:
//
//   - replay sources ([SliceSource], [FileSource]) whose chunks are available
//     immediately, and
//   - live sources ([ChannelSource], the opus and mic sub-packages) where
//     Next blocks until the next chunk has been captured.
//
// Sources are pull-based and not safe for concurrent use; a single consumer
// drives each source.
package audio

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Chunk is one fixed-duration slice of a mono 16-bit PCM stream. Chunks are
// immutable once produced; consumers must copy Samples before modifying them.
type Chunk struct {
	// Seq is the zero-based position of the chunk in its stream.
	Seq int

	// Samples holds the signed 16-bit mono samples of this chunk. The final
	// chunk of a replayed stream may be shorter than the nominal length.
	Samples []int16

	// SampleRate in Hz. Required, and constant for all chunks of a stream.
	SampleRate int

	// DurationMs is the nominal chunk duration. Silence accounting uses this
	// value rather than len(Samples).
	DurationMs int
}

// Duration returns the nominal duration of the chunk.
func (c Chunk) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}

// PCM returns the chunk samples as little-endian 16-bit PCM bytes.
func (c Chunk) PCM() []byte {
	return Int16sToBytes(c.Samples)
}

// ChunkSource supplies an ordered sequence of chunks. Next returns [io.EOF]
// once the stream is exhausted and must never reorder or drop chunks.
//
// Next may block for live sources; implementations must return promptly with
// ctx.Err() when ctx is cancelled.
type ChunkSource interface {
	Next(ctx context.Context) (Chunk, error)
}

// SamplesPerChunk returns the number of samples in a chunk of chunkMs
// milliseconds at sampleRate Hz. Returns 0 for non-positive inputs.
func SamplesPerChunk(sampleRate, chunkMs int) int {
	if sampleRate <= 0 || chunkMs <= 0 {
		return 0
	}
	return sampleRate * chunkMs / 1000
}

// Split cuts samples into consecutive chunks of chunkMs milliseconds. The last
// chunk carries the remainder and may be shorter. An empty input yields no
// chunks.
func Split(samples []int16, sampleRate, chunkMs int) ([]Chunk, error) {
	stride := SamplesPerChunk(sampleRate, chunkMs)
	if stride <= 0 {
		return nil, fmt.Errorf("audio: invalid chunk geometry: %d Hz, %d ms", sampleRate, chunkMs)
	}
	chunks := make([]Chunk, 0, (len(samples)+stride-1)/stride)
	for off := 0; off < len(samples); off += stride {
		end := min(off+stride, len(samples))
		chunks = append(chunks, Chunk{
			Seq:        len(chunks),
			Samples:    samples[off:end:end],
			SampleRate: sampleRate,
			DurationMs: chunkMs,
		})
	}
	return chunks, nil
}

// SliceSource replays a fixed list of chunks. It is the source used for tests
// and for audio that is already fully in memory.
type SliceSource struct {
	chunks []Chunk
	pos    int
}

var _ ChunkSource = (*SliceSource)(nil)

// NewSliceSource returns a source that yields chunks in the given order.
func NewSliceSource(chunks ...Chunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

// Next returns the next chunk or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// Remaining reports how many chunks have not been pulled yet.
func (s *SliceSource) Remaining() int {
	return len(s.chunks) - s.pos
}

// ChannelSource adapts a channel of chunks produced by a capture goroutine.
// Closing the channel ends the stream.
type ChannelSource struct {
	ch <-chan Chunk
}

var _ ChunkSource = (*ChannelSource)(nil)

// NewChannelSource wraps ch. The producer owns ch and closes it at end of
// stream.
func NewChannelSource(ch <-chan Chunk) *ChannelSource {
	return &ChannelSource{ch: ch}
}

// Next blocks until a chunk arrives, the channel is closed (io.EOF), or ctx
// is done.
func (s *ChannelSource) Next(ctx context.Context) (Chunk, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case c, ok := <-s.ch:
		if !ok {
			return Chunk{}, io.EOF
		}
		return c, nil
	}
}

// Rechunker turns arbitrarily sized runs of samples (network frames, codec
// packets, capture buffers) into fixed-size chunks with consecutive sequence
// numbers. Not safe for concurrent use.
type Rechunker struct {
	sampleRate int
	chunkMs    int
	stride     int
	pending    []int16
	seq        int
}

// NewRechunker returns a rechunker producing chunkMs chunks at sampleRate.
func NewRechunker(sampleRate, chunkMs int) (*Rechunker, error) {
	stride := SamplesPerChunk(sampleRate, chunkMs)
	if stride <= 0 {
		return nil, fmt.Errorf("audio: invalid chunk geometry: %d Hz, %d ms", sampleRate, chunkMs)
	}
	return &Rechunker{sampleRate: sampleRate, chunkMs: chunkMs, stride: stride}, nil
}

// Push appends samples and returns every complete chunk now available.
func (r *Rechunker) Push(samples []int16) []Chunk {
	r.pending = append(r.pending, samples...)
	var out []Chunk
	for len(r.pending) >= r.stride {
		buf := make([]int16, r.stride)
		copy(buf, r.pending[:r.stride])
		r.pending = r.pending[r.stride:]
		out = append(out, r.emit(buf))
	}
	return out
}

// Flush returns the buffered remainder as a short final chunk, or false when
// nothing is pending.
func (r *Rechunker) Flush() (Chunk, bool) {
	if len(r.pending) == 0 {
		return Chunk{}, false
	}
	buf := make([]int16, len(r.pending))
	copy(buf, r.pending)
	r.pending = nil
	return r.emit(buf), true
}

// Pending returns the number of buffered samples not yet emitted.
func (r *Rechunker) Pending() int { return len(r.pending) }

// SampleRate returns the configured sample rate.
func (r *Rechunker) SampleRate() int { return r.sampleRate }

func (r *Rechunker) emit(samples []int16) Chunk {
	c := Chunk{
		Seq:        r.seq,
		Samples:    samples,
		SampleRate: r.sampleRate,
		DurationMs: r.chunkMs,
	}
	r.seq++
	return c
}
