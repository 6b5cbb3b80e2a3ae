// Package ingest converts crawl results into queryable, session-tagged
// chunks in the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/koopa0/crawlchat/internal/crawler"
	"github.com/koopa0/crawlchat/internal/knowledge"
)

// ErrNoContent indicates the crawl succeeded but yielded nothing usable:
// every fetched page was empty. User-visible and distinct from a transport
// failure; nothing is written.
var ErrNoContent = errors.New("no ingestible content found")

// Crawler fetches pages for a root URL.
type Crawler interface {
	Crawl(ctx context.Context, url string) ([]crawler.Page, error)
}

// Inserter writes chunks into the vector index.
type Inserter interface {
	Insert(ctx context.Context, chunks []knowledge.Chunk) error
}

// Pipeline turns a URL into stored chunks owned by one thread.
type Pipeline struct {
	crawler  Crawler
	embedder ai.Embedder
	index    Inserter
	logger   *slog.Logger
}

// New creates a Pipeline. logger may be nil.
func New(c Crawler, embedder ai.Embedder, index Inserter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{crawler: c, embedder: embedder, index: index, logger: logger}
}

// Ingest crawls url, drops pages without extractable text, embeds the rest
// and batch-inserts them as chunks tagged with threadID. Returns the number
// of chunks written.
//
// Two concurrent ingestions into the same thread may interleave freely:
// chunks are independent, additive records and the store handles concurrent
// inserts.
func (p *Pipeline) Ingest(ctx context.Context, url, threadID string) (int, error) {
	pages, err := p.crawler.Crawl(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("crawling %q: %w", url, err)
	}

	kept := make([]crawler.Page, 0, len(pages))
	for _, page := range pages {
		if page.Text == "" {
			// A crawled page with no extractable content is silently
			// dropped, not an error.
			continue
		}
		kept = append(kept, page)
	}

	if len(kept) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoContent, url)
	}

	docs := make([]*ai.Document, len(kept))
	for i, page := range kept {
		docs[i] = ai.DocumentFromText(page.Text, nil)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return 0, fmt.Errorf("embedding %d pages: %w", len(kept), err)
	}
	if len(resp.Embeddings) != len(kept) {
		return 0, fmt.Errorf("embedder returned %d embeddings for %d pages", len(resp.Embeddings), len(kept))
	}

	chunks := make([]knowledge.Chunk, len(kept))
	for i, page := range kept {
		chunks[i] = knowledge.Chunk{
			ID:        uuid.New(),
			Content:   page.Text,
			SourceURL: page.URL,
			ThreadID:  threadID,
			Favicon:   page.Favicon,
			Embedding: resp.Embeddings[i].Embedding,
		}
	}

	if err := p.index.Insert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("storing %d chunks: %w", len(chunks), err)
	}

	p.logger.Info("ingested url",
		"url", url,
		"thread_id", threadID,
		"pages_crawled", len(pages),
		"chunks_written", len(chunks))
	return len(chunks), nil
}
