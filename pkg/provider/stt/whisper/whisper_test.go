package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/provider/stt"
	"github.com/MrWong99/voxend/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest holds the multipart fields the mock server received.
type capturedRequest struct {
	mu     sync.Mutex
	fields map[string]string
	wav    audio.WAV
}

func (c *capturedRequest) get() (map[string]string, audio.WAV) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields, c.wav
}

// newMockServer creates a test server that answers POST /inference with
// responseText and stores the decoded request in *last.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, last *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if last != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			fields := map[string]string{}
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer f.Close()
			wav, err := audio.DecodeWAV(f)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			last.mu.Lock()
			last.fields, last.wav = fields, wav
			last.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func speechPCM(samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = int16(i%200) * 50
	}
	return audio.Int16sToBytes(s)
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080/",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(8000),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_UploadsWAVAndFields(t *testing.T) {
	var (
		calls atomic.Int32
		last  capturedRequest
	)
	srv := newMockServer(t, "  turn on the lights \n", &calls, &last)
	p, _ := whisper.New(srv.URL, whisper.WithModel("base.en"))

	pcm := speechPCM(1600)
	got, err := p.Transcribe(context.Background(), pcm, stt.Config{SampleRate: 16000, Prompt: "lights"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "turn on the lights" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Duration != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", got.Duration)
	}
	if got.Language != "en" {
		t.Errorf("Language = %q, want default en", got.Language)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}

	fields, wav := last.get()
	if fields["model"] != "base.en" || fields["prompt"] != "lights" || fields["language"] != "en" {
		t.Errorf("fields = %v", fields)
	}
	if wav.SampleRate != 16000 || wav.Channels != 1 {
		t.Errorf("uploaded format = %s", wav.Format)
	}
	if len(wav.Samples) != 1600 {
		t.Errorf("uploaded %d samples, want 1600", len(wav.Samples))
	}
}

func TestTranscribe_ConfigOverridesDefaults(t *testing.T) {
	var last capturedRequest
	srv := newMockServer(t, "hallo", nil, &last)
	p, _ := whisper.New(srv.URL, whisper.WithSampleRate(16000))

	got, err := p.Transcribe(context.Background(), speechPCM(800), stt.Config{SampleRate: 8000, Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	fields, wav := last.get()
	if got.Language != "de" || fields["language"] != "de" {
		t.Errorf("language: transcript %q, request %q", got.Language, fields["language"])
	}
	if wav.SampleRate != 8000 {
		t.Errorf("uploaded rate = %d, want 8000", wav.SampleRate)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), nil, stt.Config{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("got %v, want ErrEmptyAudio", err)
	}
	if calls.Load() != 0 {
		t.Error("server must not be called for empty audio")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), speechPCM(100), stt.Config{})
	if err == nil || !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("got %v, want HTTP 500 error with body", err)
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), speechPCM(100), stt.Config{}); err == nil {
		t.Fatal("expected JSON parse error")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv := newMockServer(t, "x", nil, nil)
	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Transcribe(ctx, speechPCM(100), stt.Config{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
