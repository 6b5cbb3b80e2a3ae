// Package knowledge implements the vector index for crawled content.
//
// The index is an append-only, filterable similarity-search partition over
// chunks, backed by PostgreSQL + pgvector. Every chunk carries a thread_id
// tag; the thread filter is pushed into the SQL query so a search bound to
// one session can never observe another session's rows.
//
// Store is safe for concurrent use by multiple goroutines; concurrency
// safety is delegated entirely to PostgreSQL (no application-level locking).
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrUnavailable indicates the backing index could not be reached or the
// operation failed at the store level. Callers may retry; the store does
// not retry internally.
var ErrUnavailable = errors.New("vector store unavailable")

// searchTimeout bounds a single similarity query.
const searchTimeout = 10 * time.Second

// Store manages chunk persistence and similarity search.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new Store. logger may be nil (defaults to slog.Default()).
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Insert writes a batch of chunks in one round trip.
// Chunks become immediately visible to Search for the same thread.
func (s *Store) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO chunks (id, content, source_url, thread_id, favicon, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.Content, c.SourceURL, c.ThreadID, c.Favicon,
			pgvector.NewVector(c.Embedding),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: inserting chunks: %v", ErrUnavailable, err)
		}
	}

	s.logger.Debug("inserted chunks", "count", len(chunks), "thread_id", chunks[0].ThreadID)
	return nil
}

// Search returns up to k chunks ordered by cosine similarity descending.
// A non-empty threadID restricts results to that session at the store level.
// Zero matches yields an empty slice, never an error.
func (s *Store) Search(ctx context.Context, embedding []float32, k int32, threadID string) ([]Match, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec := pgvector.NewVector(embedding)

	var rows pgx.Rows
	var err error
	if threadID != "" {
		rows, err = s.pool.Query(queryCtx,
			`SELECT id, content, source_url, thread_id, favicon,
			        1 - (embedding <=> $1) AS similarity
			 FROM chunks
			 WHERE thread_id = $2
			 ORDER BY embedding <=> $1
			 LIMIT $3`,
			vec, threadID, k)
	} else {
		rows, err = s.pool.Query(queryCtx,
			`SELECT id, content, source_url, thread_id, favicon,
			        1 - (embedding <=> $1) AS similarity
			 FROM chunks
			 ORDER BY embedding <=> $1
			 LIMIT $2`,
			vec, k)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("%w: search failed: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Content, &m.SourceURL, &m.ThreadID, &m.Favicon, &m.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scanning search row: %v", ErrUnavailable, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading search rows: %v", ErrUnavailable, err)
	}

	return matches, nil
}

// DeleteByThread removes every chunk owned by a thread and returns the
// number of rows deleted. Zero matches is not an error.
func (s *Store) DeleteByThread(ctx context.Context, threadID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting chunks for thread %q: %v", ErrUnavailable, threadID, err)
	}

	s.logger.Debug("deleted chunks", "thread_id", threadID, "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// CountByThread returns the number of chunks owned by a thread.
func (s *Store) CountByThread(ctx context.Context, threadID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE thread_id = $1`, threadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks for thread %q: %v", ErrUnavailable, threadID, err)
	}
	return count, nil
}
