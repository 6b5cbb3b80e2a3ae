package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/crawlchat/internal/knowledge"
	"github.com/koopa0/crawlchat/internal/testutil"
)

type fakeIndex struct {
	matches    []knowledge.Match
	err        error
	gotK       int32
	gotThread  string
	gotQueries int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int32, threadID string) ([]knowledge.Match, error) {
	f.gotK = k
	f.gotThread = threadID
	f.gotQueries++
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func matchFor(thread, url, content string) knowledge.Match {
	return knowledge.Match{
		Chunk: knowledge.Chunk{
			Content:   content,
			SourceURL: url,
			ThreadID:  thread,
			Favicon:   url + "/favicon.ico",
		},
		Similarity: 0.9,
	}
}

func decodePayload(t *testing.T, raw string) payload {
	t.Helper()
	var p payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func TestSearch_ReturnsThreadResults(t *testing.T) {
	index := &fakeIndex{matches: []knowledge.Match{
		matchFor("thread-1", "https://example.com/a", "alpha"),
		matchFor("thread-1", "https://example.com/b", "beta"),
	}}

	tool, err := NewTool(testutil.NewMockEmbedder(8), index, "thread-1", 10, 20, nil)
	require.NoError(t, err)

	p := decodePayload(t, tool.Search(context.Background(), "what is alpha"))

	require.NotNil(t, p.Content)
	assert.Empty(t, p.Error)
	assert.Equal(t, "what is alpha", p.Content.Query)
	require.Len(t, p.Content.Results, 2)
	assert.Equal(t, "https://example.com/a", p.Content.Results[0].URL)
	assert.Equal(t, "alpha", p.Content.Results[0].Content)
	assert.Equal(t, "https://example.com/a/favicon.ico", p.Content.Results[0].Favicon)

	assert.Equal(t, int32(20), index.gotK)
	assert.Equal(t, "thread-1", index.gotThread)
}

func TestSearch_FiltersForeignThreads(t *testing.T) {
	index := &fakeIndex{matches: []knowledge.Match{
		matchFor("thread-1", "https://example.com/a", "mine"),
		matchFor("thread-2", "https://example.com/b", "not mine"),
		matchFor("thread-1", "https://example.com/c", "also mine"),
	}}

	tool, err := NewTool(testutil.NewMockEmbedder(8), index, "thread-1", 10, 20, nil)
	require.NoError(t, err)

	p := decodePayload(t, tool.Search(context.Background(), "query"))

	require.NotNil(t, p.Content)
	require.Len(t, p.Content.Results, 2)
	for _, r := range p.Content.Results {
		assert.NotEqual(t, "not mine", r.Content)
	}
}

func TestSearch_CapsResultsAtLimit(t *testing.T) {
	var matches []knowledge.Match
	for i := 0; i < 15; i++ {
		matches = append(matches, matchFor("thread-1", "https://example.com", "chunk"))
	}
	index := &fakeIndex{matches: matches}

	tool, err := NewTool(testutil.NewMockEmbedder(8), index, "thread-1", 10, 20, nil)
	require.NoError(t, err)

	p := decodePayload(t, tool.Search(context.Background(), "query"))

	require.NotNil(t, p.Content)
	assert.Len(t, p.Content.Results, 10)
}

func TestSearch_EmptyIndexReturnsEmptyResults(t *testing.T) {
	tool, err := NewTool(testutil.NewMockEmbedder(8), &fakeIndex{}, "thread-1", 10, 20, nil)
	require.NoError(t, err)

	p := decodePayload(t, tool.Search(context.Background(), "anything"))

	require.NotNil(t, p.Content)
	assert.Empty(t, p.Error)
	assert.NotNil(t, p.Content.Results)
	assert.Empty(t, p.Content.Results)
}

func TestSearch_IndexErrorReportedInPayload(t *testing.T) {
	index := &fakeIndex{err: errors.New("connection refused")}

	tool, err := NewTool(testutil.NewMockEmbedder(8), index, "thread-1", 10, 20, nil)
	require.NoError(t, err)

	p := decodePayload(t, tool.Search(context.Background(), "query"))

	assert.Nil(t, p.Content)
	assert.Contains(t, p.Error, "connection refused")
}

func TestSearch_EmbedderErrorReportedInPayload(t *testing.T) {
	embedder := testutil.NewMockEmbedder(8)
	embedder.Err = errors.New("quota exceeded")
	index := &fakeIndex{}

	tool, err := NewTool(embedder, index, "thread-1", 10, 20, nil)
	require.NoError(t, err)

	p := decodePayload(t, tool.Search(context.Background(), "query"))

	assert.Nil(t, p.Content)
	assert.Contains(t, p.Error, "quota exceeded")
	assert.Zero(t, index.gotQueries)
}

func TestNewTool_Validation(t *testing.T) {
	embedder := testutil.NewMockEmbedder(8)
	index := &fakeIndex{}

	_, err := NewTool(nil, index, "t", 10, 20, nil)
	assert.Error(t, err)

	_, err = NewTool(embedder, nil, "t", 10, 20, nil)
	assert.Error(t, err)

	_, err = NewTool(embedder, index, "", 10, 20, nil)
	assert.Error(t, err)

	_, err = NewTool(embedder, index, "t", 0, 20, nil)
	assert.Error(t, err)
}

func TestNewTool_OversampleRaisedToLimit(t *testing.T) {
	index := &fakeIndex{}
	tool, err := NewTool(testutil.NewMockEmbedder(8), index, "thread-1", 10, 3, nil)
	require.NoError(t, err)

	tool.Search(context.Background(), "query")
	assert.Equal(t, int32(10), index.gotK)
}
