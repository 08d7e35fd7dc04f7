// Package store persists the summaries of finished coaching sessions.
//
// Three implementations are provided: [PostgresStore] for deployments with a
// database, [FileStore] which appends JSON lines to a local file, and
// [MemStore] for tests and one-shot tools. All are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Get] when no summary exists for the id.
var ErrNotFound = errors.New("store: session not found")

// Summary is the persisted record of one coaching session.
type Summary struct {
	SessionID string    `json:"session_id"`
	Exercise  string    `json:"exercise"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// Frames counts every frame received; ScoredFrames only those with a
	// detected pose.
	Frames       int `json:"frames"`
	ScoredFrames int `json:"scored_frames"`

	MeanScore float64 `json:"mean_score"`
	MinScore  float64 `json:"min_score"`
	MaxScore  float64 `json:"max_score"`

	// Reps counts half-cycles; CompletedReps is Reps/2.
	Reps          int `json:"reps"`
	CompletedReps int `json:"completed_reps"`

	// CueCounts maps analysis keys to how often they were the primary cue.
	CueCounts  map[string]int `json:"cue_counts,omitempty"`
	SpokenCues int            `json:"spoken_cues"`
}

// Duration returns how long the session lasted.
func (s Summary) Duration() time.Duration { return s.EndedAt.Sub(s.StartedAt) }

// ListOptions filters [Store.List].
type ListOptions struct {
	// Exercise restricts results to one exercise id. Empty means all.
	Exercise string

	// Limit caps the number of results. Zero or negative means no limit.
	Limit int
}

// Store persists session summaries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save records s. Saving a summary with an existing SessionID replaces it.
	Save(ctx context.Context, s Summary) error

	// Get returns the summary for id, or an error wrapping [ErrNotFound].
	Get(ctx context.Context, id string) (Summary, error)

	// List returns summaries, most recently ended first.
	List(ctx context.Context, opts ListOptions) ([]Summary, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
