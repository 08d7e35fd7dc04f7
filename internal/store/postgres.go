package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the session_summaries table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS session_summaries (
    session_id     TEXT             PRIMARY KEY,
    exercise       TEXT             NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ      NOT NULL,
    ended_at       TIMESTAMPTZ      NOT NULL,
    frames         INTEGER          NOT NULL DEFAULT 0,
    scored_frames  INTEGER          NOT NULL DEFAULT 0,
    mean_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
    min_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
    reps           INTEGER          NOT NULL DEFAULT 0,
    completed_reps INTEGER          NOT NULL DEFAULT 0,
    cue_counts     JSONB            NOT NULL DEFAULT '{}',
    spoken_cues    INTEGER          NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_session_summaries_exercise ON session_summaries(exercise);
CREATE INDEX IF NOT EXISTS idx_session_summaries_ended_at ON session_summaries(ended_at DESC);
`

const summaryColumns = `session_id, exercise, started_at, ended_at, frames, scored_frames,
       mean_score, min_score, max_score, reps, completed_reps, cue_counts, spoken_cues`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
// Cue counts are stored as JSONB.
type PostgresStore struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] and for closing db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, verifies connectivity and migrates the
// schema. The returned store owns the pool and closes it on [PostgresStore.Close].
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL against the database, creating the
// session_summaries table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save implements [Store]. It upserts by session id.
func (s *PostgresStore) Save(ctx context.Context, sum Summary) error {
	cues, err := json.Marshal(emptyCounts(sum.CueCounts))
	if err != nil {
		return fmt.Errorf("store: marshal cue_counts: %w", err)
	}

	const query = `
		INSERT INTO session_summaries (` + summaryColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (session_id) DO UPDATE SET
			exercise = EXCLUDED.exercise,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			frames = EXCLUDED.frames,
			scored_frames = EXCLUDED.scored_frames,
			mean_score = EXCLUDED.mean_score,
			min_score = EXCLUDED.min_score,
			max_score = EXCLUDED.max_score,
			reps = EXCLUDED.reps,
			completed_reps = EXCLUDED.completed_reps,
			cue_counts = EXCLUDED.cue_counts,
			spoken_cues = EXCLUDED.spoken_cues`

	_, err = s.db.Exec(ctx, query,
		sum.SessionID, sum.Exercise, sum.StartedAt, sum.EndedAt,
		sum.Frames, sum.ScoredFrames,
		sum.MeanScore, sum.MinScore, sum.MaxScore,
		sum.Reps, sum.CompletedReps, cues, sum.SpokenCues,
	)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", sum.SessionID, err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (Summary, error) {
	const query = `SELECT ` + summaryColumns + ` FROM session_summaries WHERE session_id = $1`

	sum, err := scanSummary(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return Summary{}, fmt.Errorf("store: get %q: %w", id, err)
	}
	return sum, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM session_summaries`
	var args []any
	if opts.Exercise != "" {
		args = append(args, opts.Exercise)
		query += ` WHERE exercise = $1`
	}
	query += ` ORDER BY ended_at DESC, session_id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the pool if the store owns it.
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// scanSummary reads one row in summaryColumns order.
func scanSummary(row pgx.Row) (Summary, error) {
	var (
		sum  Summary
		cues []byte
	)
	err := row.Scan(
		&sum.SessionID, &sum.Exercise, &sum.StartedAt, &sum.EndedAt,
		&sum.Frames, &sum.ScoredFrames,
		&sum.MeanScore, &sum.MinScore, &sum.MaxScore,
		&sum.Reps, &sum.CompletedReps, &cues, &sum.SpokenCues,
	)
	if err != nil {
		return Summary{}, err
	}
	if len(cues) > 0 {
		if err := json.Unmarshal(cues, &sum.CueCounts); err != nil {
			return Summary{}, fmt.Errorf("unmarshal cue_counts: %w", err)
		}
	}
	sum.StartedAt = sum.StartedAt.UTC()
	sum.EndedAt = sum.EndedAt.UTC()
	return sum, nil
}

// emptyCounts returns m if non-nil, otherwise an empty non-nil map. This
// ensures JSON marshalling produces "{}" instead of "null".
func emptyCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
