// Package checkpoint persists conversation state per thread.
//
// Each thread's history is a sequence of checkpoints, one per message,
// ordered by a monotonic sequence number. Tool invocations are recorded
// separately as checkpoint writes so the audit trail survives even when
// a turn never produces a final message.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/crawlchat/internal/log"
)

// Store manages conversation checkpoints with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a checkpoint store backed by the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Messages returns the full conversation history for a thread in order.
// A thread with no checkpoints yields an empty slice, not an error.
func (s *Store) Messages(ctx context.Context, threadID string) ([]*ai.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM checkpoints WHERE thread_id = $1 ORDER BY sequence`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var messages []*ai.Message
	for rows.Next() {
		var role string
		var content []byte
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}

		var parts []*ai.Part
		if err := json.Unmarshal(content, &parts); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint content: %w", err)
		}
		messages = append(messages, &ai.Message{Role: ai.Role(role), Content: parts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}

	return messages, nil
}

// AppendMessages persists messages at the end of a thread's history.
// All messages land in one transaction with consecutive sequence numbers.
func (s *Store) AppendMessages(ctx context.Context, threadID string, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var next int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), -1) + 1 FROM checkpoints WHERE thread_id = $1`,
		threadID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to read sequence for thread %s: %w", threadID, err)
	}

	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("failed to encode message content: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO checkpoints (id, thread_id, sequence, role, content)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), threadID, next+int32(i), string(msg.Role), content)
		if err != nil {
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkpoints: %w", err)
	}

	s.logger.Debug("appended checkpoints",
		"thread_id", threadID, "count", len(messages), "first_sequence", next)
	return nil
}

// LogToolWrite records one tool invocation against a thread.
func (s *Store) LogToolWrite(ctx context.Context, threadID, toolName, input, output string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoint_writes (id, thread_id, tool_name, input, output)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), threadID, toolName, input, output)
	if err != nil {
		return fmt.Errorf("failed to log tool write for thread %s: %w", threadID, err)
	}
	return nil
}

// DeleteCheckpoints removes a thread's conversation history and reports
// how many checkpoints were removed.
func (s *Store) DeleteCheckpoints(ctx context.Context, threadID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints for thread %s: %w", threadID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteWrites removes a thread's tool invocation records and reports how
// many were removed.
func (s *Store) DeleteWrites(ctx context.Context, threadID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM checkpoint_writes WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoint writes for thread %s: %w", threadID, err)
	}
	return tag.RowsAffected(), nil
}
