package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/internal/observe"
)

var (
	// ErrSessionExists is returned by [Sessions.Add] for a duplicate ID.
	ErrSessionExists = errors.New("app: session already active")

	// ErrSessionNotFound is returned for IDs with no live session.
	ErrSessionNotFound = errors.New("app: session not found")
)

// SessionInfo describes a live detection session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Remote     string    `json:"remote,omitempty"`
	Codec      string    `json:"codec"`
	StartedAt  time.Time `json:"started_at"`
	Utterances int       `json:"utterances"`
	Phase      string    `json:"phase"`
}

type liveSession struct {
	info SessionInfo
	det  *endpoint.Detector
}

// Sessions tracks the detectors of live uploads and streams so they can be
// listed and cancelled. All methods are safe for concurrent use.
type Sessions struct {
	metrics *observe.Metrics

	mu   sync.Mutex
	live map[string]*liveSession
}

// NewSessions returns an empty registry. metrics may be nil.
func NewSessions(metrics *observe.Metrics) *Sessions {
	return &Sessions{metrics: metrics, live: make(map[string]*liveSession)}
}

// Add registers det under info.ID.
func (s *Sessions) Add(info SessionInfo, det *endpoint.Detector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[info.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, info.ID)
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	s.live[info.ID] = &liveSession{info: info, det: det}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return nil
}

// Remove forgets id. Unknown IDs are ignored.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; !ok {
		return
	}
	delete(s.live, id)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Cancel aborts the detection currently running in session id. The
// session itself stays open and starts listening for the next utterance.
func (s *Sessions) Cancel(id string) error {
	s.mu.Lock()
	ls, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	ls.det.Cancel()
	return nil
}

// CancelAll aborts every running detection.
func (s *Sessions) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ls := range s.live {
		ls.det.Cancel()
	}
}

// Finished counts a delivered utterance for session id.
func (s *Sessions) Finished(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok := s.live[id]; ok {
		ls.info.Utterances++
	}
}

// List returns the live sessions, oldest first.
func (s *Sessions) List() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionInfo, 0, len(s.live))
	for _, ls := range s.live {
		info := ls.info
		info.Phase = ls.det.Phase().String()
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
