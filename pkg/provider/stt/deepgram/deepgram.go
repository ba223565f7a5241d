// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. Each Transcribe call opens one stream, sends the
// utterance, asks Deepgram to flush with CloseStream, and joins the final
// results it returns.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxend/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// sendChunkMs is the amount of audio per binary message.
	sendChunkMs = 100
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams pcm to Deepgram and returns the joined final results.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	if len(pcm) < 2 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	wsURL, sr, lang, err := p.buildURL(cfg)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var result stt.Transcript
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writeAudio(gctx, conn, pcm, sr) })
	g.Go(func() error {
		var err error
		result, err = readFinals(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return stt.Transcript{}, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	result.Language = lang
	result.Duration = stt.AudioDuration(pcm, sr)
	result.Provider = "deepgram"
	return result, nil
}

// buildURL constructs the streaming endpoint URL for the given config and
// returns the effective sample rate and language.
func (p *Provider) buildURL(cfg stt.Config) (string, int, string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", 0, "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	if cfg.Prompt != "" {
		for _, kw := range strings.Fields(cfg.Prompt) {
			q.Add("keyterm", kw)
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), sr, lang, nil
}

// writeAudio sends pcm in sendChunkMs pieces followed by CloseStream.
func writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, sampleRate int) error {
	step := max(2, sampleRate*sendChunkMs/1000*2)
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: send CloseStream: %w", err)
	}
	return nil
}

// readFinals collects final results until Deepgram sends its closing
// Metadata message or closes the connection.
func readFinals(ctx context.Context, conn *websocket.Conn) (stt.Transcript, error) {
	var (
		parts []string
		words []stt.WordDetail
		conf  float64
		n     int
	)
	collect := func() stt.Transcript {
		t := stt.Transcript{Text: strings.Join(parts, " "), Words: words}
		if n > 0 {
			t.Confidence = conf / float64(n)
		}
		return t
	}
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return collect(), nil
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		typ, t, ok := parseDeepgramResponse(msg)
		if typ == "Metadata" {
			return collect(), nil
		}
		if !ok || !t.final {
			continue
		}
		if t.text != "" {
			parts = append(parts, t.text)
		}
		words = append(words, t.words...)
		conf += t.confidence
		n++
	}
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	final      bool
	confidence float64
	words      []stt.WordDetail
}

// parseDeepgramResponse parses a raw message. It returns the message type and,
// for Results messages with at least one alternative, the parsed result.
func parseDeepgramResponse(data []byte) (string, result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return resp.Type, result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return resp.Type, result{
		text:       strings.TrimSpace(alt.Transcript),
		final:      resp.IsFinal,
		confidence: alt.Confidence,
		words:      words,
	}, true
}
