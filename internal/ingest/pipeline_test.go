package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/crawlchat/internal/crawler"
	"github.com/koopa0/crawlchat/internal/knowledge"
	"github.com/koopa0/crawlchat/internal/log"
	"github.com/koopa0/crawlchat/internal/testutil"
)

type fakeCrawler struct {
	pages []crawler.Page
	err   error
}

func (f *fakeCrawler) Crawl(ctx context.Context, url string) ([]crawler.Page, error) {
	return f.pages, f.err
}

type fakeIndex struct {
	inserted []knowledge.Chunk
	err      error
}

func (f *fakeIndex) Insert(ctx context.Context, chunks []knowledge.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}

func TestIngest_StoresChunksPerPage(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{pages: []crawler.Page{
		{URL: "https://example.com", Text: "Welcome to the gizmo docs.", Favicon: "https://example.com/favicon.ico"},
		{URL: "https://example.com/guide", Text: "Install the gizmo like so.", Favicon: "https://example.com/favicon.ico"},
	}}
	idx := &fakeIndex{}
	p := New(c, testutil.NewMockEmbedder(8), idx, log.NewNop())

	n, err := p.Ingest(context.Background(), "https://example.com", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, idx.inserted, 2)

	first := idx.inserted[0]
	assert.Equal(t, "https://example.com", first.SourceURL)
	assert.Equal(t, "thread-1", first.ThreadID)
	assert.Equal(t, "Welcome to the gizmo docs.", first.Content)
	assert.NotEmpty(t, first.Embedding)
	assert.NotEqual(t, idx.inserted[1].ID, first.ID)
}

func TestIngest_DropsEmptyPages(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{pages: []crawler.Page{
		{URL: "https://example.com", Text: "Real content here."},
		{URL: "https://example.com/empty", Text: ""},
	}}
	idx := &fakeIndex{}
	p := New(c, testutil.NewMockEmbedder(8), idx, log.NewNop())

	n, err := p.Ingest(context.Background(), "https://example.com", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, idx.inserted, 1)
	assert.Equal(t, "https://example.com", idx.inserted[0].SourceURL)
}

func TestIngest_NoContent(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{pages: []crawler.Page{
		{URL: "https://example.com", Text: ""},
	}}
	idx := &fakeIndex{}
	p := New(c, testutil.NewMockEmbedder(8), idx, log.NewNop())

	_, err := p.Ingest(context.Background(), "https://example.com", "thread-1")
	require.ErrorIs(t, err, ErrNoContent)
	assert.Empty(t, idx.inserted)
}

func TestIngest_CrawlFailure(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{err: errors.New("connection refused")}
	p := New(c, testutil.NewMockEmbedder(8), &fakeIndex{}, log.NewNop())

	_, err := p.Ingest(context.Background(), "https://example.com", "thread-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoContent)
}

func TestIngest_EmbedFailure(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{pages: []crawler.Page{{URL: "https://example.com", Text: "content"}}}
	embedder := testutil.NewMockEmbedder(8)
	embedder.Err = errors.New("quota exceeded")
	idx := &fakeIndex{}
	p := New(c, embedder, idx, log.NewNop())

	_, err := p.Ingest(context.Background(), "https://example.com", "thread-1")
	require.Error(t, err)
	assert.Empty(t, idx.inserted)
}

func TestIngest_InsertFailure(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{pages: []crawler.Page{{URL: "https://example.com", Text: "content"}}}
	idx := &fakeIndex{err: errors.New("connection reset")}
	p := New(c, testutil.NewMockEmbedder(8), idx, log.NewNop())

	_, err := p.Ingest(context.Background(), "https://example.com", "thread-1")
	require.Error(t, err)
}
