// Package lifecycle tears down everything a conversation thread owns.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/koopa0/crawlchat/internal/log"
)

// ChunkDeleter removes a thread's indexed chunks.
type ChunkDeleter interface {
	DeleteByThread(ctx context.Context, threadID string) (int64, error)
}

// CheckpointDeleter removes a thread's conversation state.
type CheckpointDeleter interface {
	DeleteCheckpoints(ctx context.Context, threadID string) (int64, error)
	DeleteWrites(ctx context.Context, threadID string) (int64, error)
}

// Deleted reports how many rows each store released.
type Deleted struct {
	Chunks           int64 `json:"vector_collection"`
	Checkpoints      int64 `json:"checkpoint_collection"`
	CheckpointWrites int64 `json:"checkpoint_write_collection"`
}

// Manager coordinates thread teardown across the stores.
type Manager struct {
	chunks      ChunkDeleter
	checkpoints CheckpointDeleter
	logger      log.Logger
}

// New creates a lifecycle manager.
func New(chunks ChunkDeleter, checkpoints CheckpointDeleter, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{chunks: chunks, checkpoints: checkpoints, logger: logger}
}

// Teardown deletes the thread's chunks, checkpoints, and tool writes.
// Each store is attempted even when an earlier one fails; the counts
// reflect what actually got deleted and the errors are joined. Tearing
// down a thread that holds nothing succeeds with zero counts.
func (m *Manager) Teardown(ctx context.Context, threadID string) (Deleted, error) {
	var deleted Deleted
	var errs []error

	n, err := m.chunks.DeleteByThread(ctx, threadID)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete chunks: %w", err))
	}
	deleted.Chunks = n

	n, err = m.checkpoints.DeleteCheckpoints(ctx, threadID)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete checkpoints: %w", err))
	}
	deleted.Checkpoints = n

	n, err = m.checkpoints.DeleteWrites(ctx, threadID)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete checkpoint writes: %w", err))
	}
	deleted.CheckpointWrites = n

	if len(errs) > 0 {
		m.logger.Error("thread teardown incomplete",
			"thread_id", threadID, "errors", len(errs))
		return deleted, errors.Join(errs...)
	}

	m.logger.Info("thread teardown completed",
		"thread_id", threadID,
		"chunks", deleted.Chunks,
		"checkpoints", deleted.Checkpoints,
		"checkpoint_writes", deleted.CheckpointWrites)
	return deleted, nil
}
