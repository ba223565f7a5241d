package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxend/pkg/provider/stt"
)

func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", name, got, want)
	}
}

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, sr, lang, err := p.buildURL(stt.Config{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if sr != 16000 || lang != "en" {
		t.Errorf("effective config: %d Hz, %q", sr, lang)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_ConfigOverrides(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("en"), WithSampleRate(48000))

	rawURL, _, _, err := p.buildURL(stt.Config{Language: "fr-FR", SampleRate: 8000, Prompt: "Eldrinax lights"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "fr-FR", q.Get("language"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	if kt := q["keyterm"]; len(kt) != 2 || kt[0] != "Eldrinax" {
		t.Errorf("keyterm = %v", kt)
	}
}

// ---- response parsing ----

func TestParseDeepgramResponse(t *testing.T) {
	msg := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" hello world ","confidence":0.9,
		"words":[{"word":"hello","start":0.1,"end":0.4,"confidence":0.95}]}]}}`
	typ, r, ok := parseDeepgramResponse([]byte(msg))
	if !ok || typ != "Results" {
		t.Fatalf("parse: ok=%v type=%q", ok, typ)
	}
	if r.text != "hello world" || !r.final || r.confidence != 0.9 {
		t.Errorf("result = %+v", r)
	}
	if len(r.words) != 1 || r.words[0].Start != 100*time.Millisecond {
		t.Errorf("words = %+v", r.words)
	}

	if typ, _, ok := parseDeepgramResponse([]byte(`{"type":"Metadata"}`)); ok || typ != "Metadata" {
		t.Errorf("metadata: ok=%v type=%q", ok, typ)
	}
	if _, _, ok := parseDeepgramResponse([]byte(`not json`)); ok {
		t.Error("invalid JSON should not parse")
	}
}

// ---- end-to-end against a fake streaming server ----

func newFakeDeepgram(t *testing.T, received *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				received.Add(int64(len(data)))
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"turn"}]}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"turn on","confidence":0.8}]}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"the lights","confidence":0.6}]}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		c.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe_CollectsFinals(t *testing.T) {
	var received atomic.Int64
	srv := newFakeDeepgram(t, &received)
	p, _ := New("k", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	pcm := make([]byte, 16000) // 0.5 s at 16 kHz
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := p.Transcribe(ctx, pcm, stt.Config{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "turn on the lights" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Confidence < 0.69 || got.Confidence > 0.71 {
		t.Errorf("Confidence = %v, want mean 0.7", got.Confidence)
	}
	if got.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v", got.Duration)
	}
	if received.Load() != int64(len(pcm)) {
		t.Errorf("server received %d bytes, want %d", received.Load(), len(pcm))
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	var received atomic.Int64
	srv := newFakeDeepgram(t, &received)
	p, _ := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	if _, err := p.Transcribe(context.Background(), make([]byte, 320), stt.Config{}); err == nil {
		t.Fatal("expected dial error for rejected key")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("k")
	if _, err := p.Transcribe(context.Background(), nil, stt.Config{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("got %v, want ErrEmptyAudio", err)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
