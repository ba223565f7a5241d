// Package mock provides test doubles for the vad package interfaces.
//
// Session replays a fixed script of [vad.Activity] replies, one per Classify
// call, and answers [vad.NoActivity] once the script runs out. Engine hands
// out a fresh Session with a copy of its script for every NewSession call, so
// repeated detections see identical classifier behaviour.
//
// Example:
//
//	eng := &mock.Engine{Script: []vad.Activity{
//	    vad.NoActivity{},
//	    vad.Edges{vad.Span(100, 300)},
//	}}
package mock

import (
	"sync"

	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Script is copied into every Session created by NewSession.
	Script []vad.Activity

	// Errors is copied into every Session created by NewSession.
	Errors map[int]error

	// Session, if non-nil, is returned by NewSession instead of a fresh one.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall

	// Sessions holds every Session created by NewSession in order.
	Sessions []*Session
}

// NewSession records the call and returns a scripted session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	s := &Session{Script: append([]vad.Activity(nil), e.Script...)}
	if e.Errors != nil {
		s.Errors = make(map[int]error, len(e.Errors))
		for k, v := range e.Errors {
			s.Errors[k] = v
		}
	}
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
	e.Sessions = nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script holds the reply for each Classify call by index.
	Script []vad.Activity

	// Errors maps a Classify call index to the error returned for it.
	Errors map[int]error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ClassifyCalls records every chunk passed to Classify in order.
	ClassifyCalls []audio.Chunk

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Classify records the chunk and returns the scripted reply for this call.
func (s *Session) Classify(chunk audio.Chunk) (vad.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.ClassifyCalls)
	s.ClassifyCalls = append(s.ClassifyCalls, chunk)
	if err, ok := s.Errors[i]; ok {
		return nil, err
	}
	if i < len(s.Script) && s.Script[i] != nil {
		return s.Script[i], nil
	}
	return vad.NoActivity{}, nil
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Calls returns the number of Classify calls so far. Thread-safe.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ClassifyCalls)
}

var _ vad.SessionHandle = (*Session)(nil)
