// Package transcript keeps a per-session log of finalized utterances and
// the text recognised for them.
//
// Two [Store] implementations are provided: [MemStore] keeps the most recent
// records of each session in memory, and [PostgresStore] persists them in a
// PostgreSQL table while pruning each session to the same bound.
package transcript

import (
	"context"
	"errors"
	"time"
)

// DefaultHistorySize is the number of records kept per session when no
// explicit bound is configured.
const DefaultHistorySize = 10

// ErrEmptySession is returned when a record or query names no session.
var ErrEmptySession = errors.New("transcript: session is required")

// Record is one finalized utterance and its transcription.
type Record struct {
	ID         int64     `json:"id"`
	Session    string    `json:"session"`
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	SampleRate int       `json:"sample_rate"`
	Reason     string    `json:"reason"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists utterance records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append stores rec and returns it with ID and CreatedAt filled in. Older
	// records of the same session beyond the history bound are discarded.
	Append(ctx context.Context, rec Record) (Record, error)

	// Recent returns up to limit records of session, newest first. A limit
	// of zero or less returns everything retained.
	Recent(ctx context.Context, session string, limit int) ([]Record, error)

	// Reset discards every record of session.
	Reset(ctx context.Context, session string) error
}
