// Package mock provides a scripted [audio.ChunkSource] for unit tests.
//
// The mock is safe for concurrent use. It records every Next call so tests
// can assert on call counts, and exposes exported fields that the test sets
// to control what Next returns.
//
// Typical usage:
//
//	src := &mock.Source{Chunks: chunks, Err: errors.New("device lost")}
//	_, err := detector.Detect(ctx, src)
//
// A Source with Block set behaves like an idle microphone: once its chunks
// are used up, Next waits until ctx is done.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxend/pkg/audio"
)

// Source is a mock implementation of [audio.ChunkSource].
type Source struct {
	mu      sync.Mutex
	pos     int
	entered chan struct{}

	// Chunks are handed out in order by Next.
	Chunks []audio.Chunk

	// Err is returned once Chunks are used up. Nil means [io.EOF], unless
	// Block is set.
	Err error

	// Block makes Next wait for ctx to be done once Chunks are used up,
	// instead of returning Err.
	Block bool

	// CallCountNext records how many times Next was called.
	CallCountNext int
}

var _ audio.ChunkSource = (*Source)(nil)

// Next implements [audio.ChunkSource].
func (s *Source) Next(ctx context.Context) (audio.Chunk, error) {
	s.mu.Lock()
	s.CallCountNext++
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return audio.Chunk{}, err
	}
	if s.pos < len(s.Chunks) {
		c := s.Chunks[s.pos]
		s.pos++
		s.mu.Unlock()
		return c, nil
	}
	if !s.Block {
		err := s.Err
		s.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return audio.Chunk{}, err
	}
	entered := s.enteredLocked()
	select {
	case <-entered:
	default:
		close(entered)
	}
	s.mu.Unlock()

	<-ctx.Done()
	return audio.Chunk{}, ctx.Err()
}

// Waiting returns a channel that is closed once Next has started blocking.
func (s *Source) Waiting() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enteredLocked()
}

func (s *Source) enteredLocked() chan struct{} {
	if s.entered == nil {
		s.entered = make(chan struct{})
	}
	return s.entered
}

// Calls returns the number of Next calls so far.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountNext
}

// Reset rewinds the source and clears the call count.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.CallCountNext = 0
	s.entered = nil
}
