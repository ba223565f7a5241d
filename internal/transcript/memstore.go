package transcript

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] that keeps the last N records per
// session.
type MemStore struct {
	size int
	now  func() time.Time

	mu       sync.Mutex
	nextID   int64
	sessions map[string][]Record
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore keeping size records per session. A size
// of zero or less selects [DefaultHistorySize].
func NewMemStore(size int) *MemStore {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &MemStore{size: size, now: time.Now, sessions: make(map[string][]Record)}
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, rec Record) (Record, error) {
	if rec.Session == "" {
		return Record{}, ErrEmptySession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	recs := append(m.sessions[rec.Session], rec)
	if over := len(recs) - m.size; over > 0 {
		recs = append(recs[:0:0], recs[over:]...)
	}
	m.sessions[rec.Session] = recs
	return rec, nil
}

// Recent implements [Store].
func (m *MemStore) Recent(_ context.Context, session string, limit int) ([]Record, error) {
	if session == "" {
		return nil, ErrEmptySession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.sessions[session]
	n := len(recs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

// Reset implements [Store].
func (m *MemStore) Reset(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session)
	return nil
}
