package audio

import (
	"context"
	"fmt"
	"io"
	"os"
)

// DefaultChunkMs is the chunk duration used when none is configured.
const DefaultChunkMs = 200

// FileSource replays a WAV file as a sequence of chunks. The whole file is
// decoded up front; Next never blocks.
type FileSource struct {
	*SliceSource
	format Format
}

var _ ChunkSource = (*FileSource)(nil)

// FileOption configures a [FileSource].
type FileOption func(*fileOptions)

type fileOptions struct {
	chunkMs    int
	targetRate int
}

// WithChunkMs sets the nominal chunk duration. Defaults to [DefaultChunkMs].
func WithChunkMs(ms int) FileOption {
	return func(o *fileOptions) { o.chunkMs = ms }
}

// WithTargetRate resamples the file to hz before chunking. Zero keeps the
// rate from the file header.
func WithTargetRate(hz int) FileOption {
	return func(o *fileOptions) { o.targetRate = hz }
}

// OpenFile decodes the WAV file at path into a [FileSource].
func OpenFile(path string, opts ...FileOption) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()

	src, err := NewFileSource(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("audio: %q: %w", path, err)
	}
	return src, nil
}

// NewFileSource decodes WAV data from r into a [FileSource]. Multi-channel
// audio is downmixed to mono.
func NewFileSource(r io.Reader, opts ...FileOption) (*FileSource, error) {
	o := fileOptions{chunkMs: DefaultChunkMs}
	for _, opt := range opts {
		opt(&o)
	}

	w, err := DecodeWAV(r)
	if err != nil {
		return nil, err
	}
	samples := w.Mono()
	rate := w.SampleRate
	if o.targetRate > 0 && o.targetRate != rate {
		samples, err = Resample(samples, rate, o.targetRate)
		if err != nil {
			return nil, err
		}
		rate = o.targetRate
	}

	chunks, err := Split(samples, rate, o.chunkMs)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		SliceSource: NewSliceSource(chunks...),
		format:      Format{SampleRate: rate, Channels: 1},
	}, nil
}

// Format returns the format of the chunks this source yields.
func (s *FileSource) Format() Format { return s.format }

// Next returns the next chunk or io.EOF.
func (s *FileSource) Next(ctx context.Context) (Chunk, error) {
	return s.SliceSource.Next(ctx)
}
