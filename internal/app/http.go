package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/internal/observe"
	"github.com/MrWong99/voxend/pkg/audio"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
}

// handleUpload runs one detection over a WAV request body.
func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, a.cfg.Server.MaxUploadBytes)
	cfg, _ := a.svc.Endpoint()
	src, err := audio.NewFileSource(body,
		audio.WithChunkMs(cfg.ChunkDurationMs),
		audio.WithTargetRate(cfg.SampleRate),
	)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session := r.URL.Query().Get("session")
	id := session
	if id == "" {
		id = uuid.NewString()
	}
	det, err := a.svc.NewDetector()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.sessions.Add(SessionInfo{ID: id, Remote: r.RemoteAddr, Codec: "wav"}, det); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	defer a.sessions.Remove(id)

	ctx := observe.WithSession(r.Context(), id)
	res, err := a.svc.ProcessWith(ctx, det, session, src)
	if err != nil {
		observe.Logger(ctx).Info("upload produced no utterance", "err", err)
		writeJSON(w, statusFor(err), errorBody{Error: errorCode(err), Reason: res.Reason, Chunks: res.Chunks})
		return
	}
	a.sessions.Finished(id)
	writeJSON(w, http.StatusOK, res)
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session := q.Get("session")
	if session == "" {
		writeError(w, http.StatusBadRequest, errors.New("session query parameter is required"))
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recs, err := a.svc.History(r.Context(), session, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "utterances": nonNil(recs)})
}

func (a *App) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		writeError(w, http.StatusBadRequest, errors.New("session query parameter is required"))
		return
	}
	if err := a.svc.ResetHistory(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.sessions.List()})
}

func (a *App) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Cancel(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// statusFor maps detection and transcription errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case endpoint.IsNoSpeech(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, endpoint.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, ErrTranscription):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable error field of a failed detection.
func errorCode(err error) string {
	switch {
	case endpoint.IsNoSpeech(err):
		return "no_speech"
	case errors.Is(err, endpoint.ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTranscription):
		return "transcription_failed"
	case errors.Is(err, endpoint.ErrClassifierFault):
		return "classifier_fault"
	default:
		return "internal"
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
