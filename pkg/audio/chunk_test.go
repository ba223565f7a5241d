package audio_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/voxend/pkg/audio"
)

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i)
	}
	return s
}

func TestSamplesPerChunk(t *testing.T) {
	tests := []struct {
		rate, ms, want int
	}{
		{16000, 200, 3200},
		{1000, 200, 200},
		{48000, 20, 960},
		{0, 200, 0},
		{16000, 0, 0},
	}
	for _, tt := range tests {
		if got := audio.SamplesPerChunk(tt.rate, tt.ms); got != tt.want {
			t.Errorf("SamplesPerChunk(%d, %d) = %d, want %d", tt.rate, tt.ms, got, tt.want)
		}
	}
}

func TestSplit(t *testing.T) {
	chunks, err := audio.Split(ramp(450), 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("chunk %d: Seq = %d", i, c.Seq)
		}
		if c.DurationMs != 200 || c.SampleRate != 1000 {
			t.Errorf("chunk %d: geometry %d ms @ %d Hz", i, c.DurationMs, c.SampleRate)
		}
	}
	if len(chunks[2].Samples) != 50 {
		t.Errorf("last chunk: got %d samples, want 50", len(chunks[2].Samples))
	}
	if chunks[1].Samples[0] != 200 {
		t.Errorf("second chunk starts at %d, want 200", chunks[1].Samples[0])
	}
}

func TestSplit_Empty(t *testing.T) {
	chunks, err := audio.Split(nil, 16000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

func TestSplit_InvalidGeometry(t *testing.T) {
	if _, err := audio.Split(ramp(10), 16000, 0); err == nil {
		t.Fatal("expected error for zero chunk duration")
	}
}

func TestSliceSource(t *testing.T) {
	chunks, _ := audio.Split(ramp(400), 1000, 200)
	src := audio.NewSliceSource(chunks...)
	ctx := context.Background()

	for i := range 2 {
		c, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if c.Seq != i {
			t.Errorf("Next %d: Seq = %d", i, c.Seq)
		}
	}
	if src.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", src.Remaining())
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("after last chunk: got %v, want io.EOF", err)
	}
}

func TestSliceSource_Cancelled(t *testing.T) {
	src := audio.NewSliceSource(audio.Chunk{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestChannelSource(t *testing.T) {
	ch := make(chan audio.Chunk, 1)
	src := audio.NewChannelSource(ch)
	ch <- audio.Chunk{Seq: 7}
	close(ch)

	c, err := src.Next(context.Background())
	if err != nil || c.Seq != 7 {
		t.Fatalf("Next: got (%v, %v)", c.Seq, err)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("closed channel: got %v, want io.EOF", err)
	}
}

func TestChannelSource_BlocksUntilCancelled(t *testing.T) {
	src := audio.NewChannelSource(make(chan audio.Chunk))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestRechunker(t *testing.T) {
	rc, err := audio.NewRechunker(1000, 100)
	if err != nil {
		t.Fatalf("NewRechunker: %v", err)
	}
	if got := rc.Push(ramp(60)); len(got) != 0 {
		t.Fatalf("first push emitted %d chunks", len(got))
	}
	got := rc.Push(ramp(150))
	if len(got) != 2 {
		t.Fatalf("second push emitted %d chunks, want 2", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Errorf("sequence numbers: %d, %d", got[0].Seq, got[1].Seq)
	}
	// 60 from the first push then 40 from the second.
	if got[0].Samples[59] != 59 || got[0].Samples[60] != 0 {
		t.Errorf("chunk boundary samples: %d, %d", got[0].Samples[59], got[0].Samples[60])
	}
	if rc.Pending() != 10 {
		t.Errorf("Pending = %d, want 10", rc.Pending())
	}
	last, ok := rc.Flush()
	if !ok || len(last.Samples) != 10 || last.Seq != 2 {
		t.Errorf("Flush: ok=%v len=%d seq=%d", ok, len(last.Samples), last.Seq)
	}
	if _, ok := rc.Flush(); ok {
		t.Error("second Flush returned a chunk")
	}
}

func TestStreamSource(t *testing.T) {
	frames := [][]int16{ramp(70), ramp(70), ramp(70)}
	r := audio.FrameReaderFunc(func(context.Context) ([]int16, error) {
		if len(frames) == 0 {
			return nil, io.EOF
		}
		f := frames[0]
		frames = frames[1:]
		return f, nil
	})
	src, err := audio.NewStreamSource(r, 1000, 100)
	if err != nil {
		t.Fatalf("NewStreamSource: %v", err)
	}

	var lens []int
	for {
		c, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		lens = append(lens, len(c.Samples))
	}
	want := []int{100, 100, 10}
	if len(lens) != len(want) {
		t.Fatalf("chunk lengths %v, want %v", lens, want)
	}
	for i := range want {
		if lens[i] != want[i] {
			t.Errorf("chunk %d: %d samples, want %d", i, lens[i], want[i])
		}
	}
}

func TestStreamSource_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	src, _ := audio.NewStreamSource(audio.FrameReaderFunc(func(context.Context) ([]int16, error) {
		return nil, boom
	}), 1000, 100)
	if _, err := src.Next(context.Background()); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}
