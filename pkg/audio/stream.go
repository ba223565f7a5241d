package audio

import (
	"context"
	"errors"
	"io"
)

// FrameReader yields runs of mono samples of arbitrary length, such as decoded
// codec packets, capture buffers or network messages. ReadFrame returns
// [io.EOF] at the end of the stream.
type FrameReader interface {
	ReadFrame(ctx context.Context) ([]int16, error)
}

// FrameReaderFunc adapts a function to [FrameReader].
type FrameReaderFunc func(ctx context.Context) ([]int16, error)

// ReadFrame calls f(ctx).
func (f FrameReaderFunc) ReadFrame(ctx context.Context) ([]int16, error) { return f(ctx) }

// StreamSource turns a [FrameReader] into a [ChunkSource] of fixed-duration
// chunks. A partial chunk left at end of stream is delivered as a short final
// chunk. Not safe for concurrent use.
type StreamSource struct {
	r     FrameReader
	rc    *Rechunker
	ready []Chunk
	done  bool
}

var _ ChunkSource = (*StreamSource)(nil)

// NewStreamSource returns a source that chunks frames from r at sampleRate
// into chunkMs chunks.
func NewStreamSource(r FrameReader, sampleRate, chunkMs int) (*StreamSource, error) {
	rc, err := NewRechunker(sampleRate, chunkMs)
	if err != nil {
		return nil, err
	}
	return &StreamSource{r: r, rc: rc}, nil
}

// Next returns the next complete chunk, reading as many frames as needed.
func (s *StreamSource) Next(ctx context.Context) (Chunk, error) {
	for len(s.ready) == 0 {
		if s.done {
			return Chunk{}, io.EOF
		}
		frame, err := s.r.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			s.done = true
			if c, ok := s.rc.Flush(); ok {
				s.ready = append(s.ready, c)
			}
			continue
		}
		if err != nil {
			return Chunk{}, err
		}
		s.ready = append(s.ready, s.rc.Push(frame)...)
	}
	c := s.ready[0]
	s.ready = s.ready[1:]
	return c, nil
}

// SampleRate returns the sample rate of the produced chunks.
func (s *StreamSource) SampleRate() int { return s.rc.SampleRate() }
