package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/internal/observe"
	"github.com/MrWong99/voxend/internal/transcript"
	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/audio/opus"
)

const (
	// maxFrameBytes caps a single binary message of a listen stream.
	maxFrameBytes = 1 << 20

	// frameBacklog is the number of decoded frames buffered between the
	// socket reader and the detector.
	frameBacklog = 64
)

// Listen stream message types.
const (
	msgUtterance = "utterance"
	msgNoSpeech  = "no_speech"
	msgCancelled = "cancelled"
	msgError     = "error"

	ctrlCancel = "cancel"
	ctrlEnd    = "end"
)

type controlMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type      string             `json:"type"`
	Session   string             `json:"session"`
	Reason    string             `json:"reason,omitempty"`
	Error     string             `json:"error,omitempty"`
	Utterance *transcript.Record `json:"utterance,omitempty"`
}

// frameDecoder turns one binary message into mono samples at the service
// rate.
type frameDecoder func([]byte) ([]int16, error)

func newFrameDecoder(codec string, rate, targetRate int) (frameDecoder, error) {
	var decode frameDecoder
	switch codec {
	case "", "pcm":
		decode = func(b []byte) ([]int16, error) {
			if len(b)%2 != 0 {
				return nil, fmt.Errorf("pcm frame of %d bytes is not 16-bit aligned", len(b))
			}
			return audio.BytesToInt16s(b), nil
		}
	case "opus":
		dec, err := opus.NewDecoder(rate, 1)
		if err != nil {
			return nil, err
		}
		decode = dec.Decode
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
	if rate == targetRate {
		return decode, nil
	}
	return func(b []byte) ([]int16, error) {
		s, err := decode(b)
		if err != nil {
			return nil, err
		}
		return audio.Resample(s, rate, targetRate)
	}, nil
}

// handleListen upgrades to a WebSocket and detects utterances on the stream
// until the client ends it. Binary messages carry audio; text messages carry
// control commands.
func (a *App) handleListen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg, _ := a.svc.Endpoint()
	rate := cfg.SampleRate
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("rate must be a positive integer"))
			return
		}
		rate = n
	}
	codec := q.Get("codec")
	if codec == "" {
		codec = "pcm"
	}
	decode, err := newFrameDecoder(codec, rate, cfg.SampleRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := q.Get("session")
	if id == "" {
		id = uuid.NewString()
	}
	det, err := a.svc.NewDetector()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.sessions.Add(SessionInfo{ID: id, Remote: r.RemoteAddr, Codec: codec}, det); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	defer a.sessions.Remove(id)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("listen: websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	ctx := observe.WithSession(r.Context(), id)
	log := observe.Logger(ctx).With("codec", codec)
	log.Info("listen: stream opened")
	if err := a.stream(ctx, conn, id, det, decode); err != nil {
		log.Warn("listen: stream failed", "err", err)
		_ = conn.Close(websocket.StatusInternalError, truncate(err.Error(), 120))
		return
	}
	log.Info("listen: stream closed")
}

// stream runs the socket reader and the detection loop until the audio ends
// or either side fails.
func (a *App) stream(ctx context.Context, conn *websocket.Conn, id string, det *endpoint.Detector, decode frameDecoder) error {
	cfg := det.Config()
	frames := make(chan []int16, frameBacklog)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				// The peer closed or the detector finished; either way the
				// audio ends here.
				return nil
			}
			if typ == websocket.MessageText {
				var msg controlMessage
				if err := json.Unmarshal(data, &msg); err != nil {
					return fmt.Errorf("bad control message: %w", err)
				}
				switch msg.Type {
				case ctrlCancel:
					det.Cancel()
				case ctrlEnd:
					return nil
				default:
					return fmt.Errorf("unknown control message %q", msg.Type)
				}
				continue
			}
			samples, err := decode(data)
			if err != nil {
				return fmt.Errorf("decode frame: %w", err)
			}
			select {
			case frames <- samples:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		src, err := audio.NewStreamSource(audio.FrameReaderFunc(func(ctx context.Context) ([]int16, error) {
			select {
			case f, ok := <-frames:
				if !ok {
					return nil, io.EOF
				}
				return f, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}), cfg.SampleRate, cfg.ChunkDurationMs)
		if err != nil {
			return err
		}
		for {
			res, err := a.svc.ProcessWith(ctx, det, id, src)
			msg := serverMessage{Session: id, Reason: res.Reason}
			fatal := false
			switch {
			case err == nil:
				msg.Type = msgUtterance
				msg.Utterance = &res.Record
				a.sessions.Finished(id)
			case endpoint.IsNoSpeech(err):
				msg.Type = msgNoSpeech
			case errors.Is(err, endpoint.ErrCancelled) && ctx.Err() == nil:
				msg.Type = msgCancelled
			case errors.Is(err, ErrTranscription):
				msg.Type, msg.Error = msgError, err.Error()
			default:
				msg.Type, msg.Error = msgError, err.Error()
				fatal = true
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if werr := wsjson.Write(ctx, conn, msg); werr != nil {
				return fmt.Errorf("write %s: %w", msg.Type, werr)
			}
			if fatal {
				return err
			}
			if res.Reason == string(endpoint.ReasonSourceExhausted) {
				// Fails harmlessly when the peer already closed.
				_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
				return nil
			}
		}
	})
	return g.Wait()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
