// Package mic captures chunks from the default input device through
// PortAudio.
//
// [Open] initialises PortAudio and must be balanced by [Source.Close], which
// also terminates the library.
package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxend/pkg/audio"
)

// Source is a live chunk source reading one chunk per blocking capture call.
type Source struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	rate    int
	chunkMs int
	seq     int
	closed  bool
}

var _ audio.ChunkSource = (*Source)(nil)

// Open starts capturing mono 16-bit audio at sampleRate from the default
// input device. Each chunk holds chunkMs milliseconds.
func Open(sampleRate, chunkMs int) (*Source, error) {
	n := audio.SamplesPerChunk(sampleRate, chunkMs)
	if n <= 0 {
		return nil, fmt.Errorf("mic: invalid chunk geometry: %d Hz, %d ms", sampleRate, chunkMs)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("mic: initialize portaudio: %w", err)
	}

	buf := make([]int16, n)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), n, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: open default input: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: start stream: %w", err)
	}
	return &Source{stream: stream, buf: buf, rate: sampleRate, chunkMs: chunkMs}, nil
}

// Next blocks until one chunk has been captured. Cancellation is checked
// before each capture; a capture in progress runs to completion.
func (s *Source) Next(ctx context.Context) (audio.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return audio.Chunk{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Chunk{}, errors.New("mic: source closed")
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return audio.Chunk{}, fmt.Errorf("mic: read: %w", err)
	}
	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	c := audio.Chunk{Seq: s.seq, Samples: samples, SampleRate: s.rate, DurationMs: s.chunkMs}
	s.seq++
	return c, nil
}

// Close stops the stream and terminates PortAudio. Safe to call twice.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
}
