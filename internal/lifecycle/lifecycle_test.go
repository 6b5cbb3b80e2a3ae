package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChunks struct {
	count int64
	err   error
	calls int
}

func (f *fakeChunks) DeleteByThread(_ context.Context, _ string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

type fakeCheckpoints struct {
	checkpoints    int64
	writes         int64
	checkpointsErr error
	writesErr      error
	calls          int
}

func (f *fakeCheckpoints) DeleteCheckpoints(_ context.Context, _ string) (int64, error) {
	f.calls++
	if f.checkpointsErr != nil {
		return 0, f.checkpointsErr
	}
	return f.checkpoints, nil
}

func (f *fakeCheckpoints) DeleteWrites(_ context.Context, _ string) (int64, error) {
	f.calls++
	if f.writesErr != nil {
		return 0, f.writesErr
	}
	return f.writes, nil
}

func TestTeardown_DeletesAllStores(t *testing.T) {
	chunks := &fakeChunks{count: 12}
	checkpoints := &fakeCheckpoints{checkpoints: 4, writes: 2}
	m := New(chunks, checkpoints, nil)

	deleted, err := m.Teardown(context.Background(), "thread-1")

	require.NoError(t, err)
	assert.Equal(t, Deleted{Chunks: 12, Checkpoints: 4, CheckpointWrites: 2}, deleted)
}

func TestTeardown_EmptyThreadIsIdempotent(t *testing.T) {
	m := New(&fakeChunks{}, &fakeCheckpoints{}, nil)

	deleted, err := m.Teardown(context.Background(), "never-seen")

	require.NoError(t, err)
	assert.Equal(t, Deleted{}, deleted)
}

func TestTeardown_ContinuesPastFailures(t *testing.T) {
	chunkErr := errors.New("chunk store down")
	chunks := &fakeChunks{err: chunkErr}
	checkpoints := &fakeCheckpoints{checkpoints: 3, writes: 1}
	m := New(chunks, checkpoints, nil)

	deleted, err := m.Teardown(context.Background(), "thread-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, chunkErr)
	// The surviving stores were still cleaned.
	assert.Equal(t, int64(3), deleted.Checkpoints)
	assert.Equal(t, int64(1), deleted.CheckpointWrites)
	assert.Equal(t, 2, checkpoints.calls)
}

func TestTeardown_JoinsAllErrors(t *testing.T) {
	chunkErr := errors.New("chunks failed")
	writesErr := errors.New("writes failed")
	m := New(&fakeChunks{err: chunkErr}, &fakeCheckpoints{checkpoints: 1, writesErr: writesErr}, nil)

	deleted, err := m.Teardown(context.Background(), "thread-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, chunkErr)
	assert.ErrorIs(t, err, writesErr)
	assert.Equal(t, int64(1), deleted.Checkpoints)
}
