package energy

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/provider/vad"
)

const testRate = 1000

func tone(n int, amp int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = amp
		} else {
			s[i] = -amp
		}
	}
	return s
}

func chunk(seq int, samples []int16) audio.Chunk {
	return audio.Chunk{Seq: seq, Samples: samples, SampleRate: testRate, DurationMs: len(samples) * 1000 / testRate}
}

func newTestSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	eng, err := New(WithFrameMs(10), WithMinSpeechMs(30))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := eng.NewSession(vad.Config{SampleRate: testRate, ChunkDurationMs: 100, MinSilenceMs: 50})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	if got := RMS(make([]int16, 10)); got != 0 {
		t.Errorf("RMS(silence) = %v", got)
	}
	got := RMS(tone(100, 16384))
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(half-scale square) = %v, want 0.5", got)
	}
}

func TestClassify_EdgesStraddleChunks(t *testing.T) {
	sess := newTestSession(t)

	steps := []struct {
		samples []int16
		want    vad.Activity
	}{
		{samples: make([]int16, 100), want: vad.NoActivity{}},
		{samples: tone(100, 10000), want: vad.Edges{vad.StartAt(100)}},
		{samples: make([]int16, 100), want: vad.Edges{vad.EndAt(200)}},
		{samples: make([]int16, 100), want: vad.NoActivity{}},
	}
	for i, st := range steps {
		got, err := sess.Classify(chunk(i, st.samples))
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, st.want) {
			t.Errorf("chunk %d: got %#v, want %#v", i, got, st.want)
		}
	}
}

func TestClassify_SpanWithinOneChunk(t *testing.T) {
	sess := newTestSession(t)
	samples := append(tone(100, 10000), make([]int16, 100)...)

	got, err := sess.Classify(chunk(0, samples))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := vad.Edges{vad.Span(0, 100)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestClassify_ShortBlipIgnored(t *testing.T) {
	sess := newTestSession(t)
	// 20 ms of loud audio is below the 30 ms trigger.
	samples := append(tone(20, 10000), make([]int16, 80)...)
	got, err := sess.Classify(chunk(0, samples))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, ok := got.(vad.NoActivity); !ok {
		t.Errorf("got %#v, want NoActivity", got)
	}
}

func TestClassify_PartialFramesCarryOver(t *testing.T) {
	sess := newTestSession(t)
	// 15-sample chunks do not align with 10-sample frames; offsets must still
	// be measured on the concatenated stream.
	var edges []vad.Interval
	stream := append(make([]int16, 45), tone(60, 10000)...)
	for i := 0; i*15 < len(stream); i++ {
		got, err := sess.Classify(chunk(i, stream[i*15:(i+1)*15]))
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if e, ok := got.(vad.Edges); ok {
			edges = append(edges, e...)
		}
	}
	// Frame [40,50) mixes 5 silent and 5 loud samples and still exceeds the
	// speech threshold, so the run starts there.
	want := []vad.Interval{vad.StartAt(40)}
	if !reflect.DeepEqual(edges, want) {
		t.Errorf("got %v, want %v", edges, want)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	stream := [][]int16{make([]int16, 100), tone(100, 9000), make([]int16, 100), tone(100, 9000)}
	run := func() []vad.Activity {
		sess := newTestSession(t)
		var out []vad.Activity
		for i, s := range stream {
			a, err := sess.Classify(chunk(i, s))
			if err != nil {
				t.Fatalf("chunk %d: %v", i, err)
			}
			out = append(out, a)
		}
		return out
	}
	if a, b := run(), run(); !reflect.DeepEqual(a, b) {
		t.Errorf("replies differ:\n%v\n%v", a, b)
	}
}

func TestClassify_Errors(t *testing.T) {
	sess := newTestSession(t)
	bad := audio.Chunk{Samples: make([]int16, 10), SampleRate: 16000, DurationMs: 10}
	if _, err := sess.Classify(bad); err == nil {
		t.Error("expected error for sample rate mismatch")
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := sess.Classify(chunk(0, make([]int16, 10))); !errors.Is(err, vad.ErrSessionClosed) {
		t.Errorf("after Close: got %v, want ErrSessionClosed", err)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	if _, err := New(WithFrameMs(0)); err == nil {
		t.Error("expected error for zero frame length")
	}
	if _, err := New(WithMinSpeechMs(-1)); err == nil {
		t.Error("expected error for negative min speech")
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	eng, _ := New()
	if _, err := eng.NewSession(vad.Config{SampleRate: 0, ChunkDurationMs: 200}); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
