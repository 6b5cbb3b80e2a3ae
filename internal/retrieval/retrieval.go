// Package retrieval exposes thread-scoped vector search as a model tool.
//
// The tool embeds the model's query, searches the chunk index restricted to
// the bound conversation thread, and returns a JSON payload the model can
// cite from. Failures are reported inside the payload rather than as errors
// so the model can recover instead of aborting the turn.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/crawlchat/internal/knowledge"
	"github.com/koopa0/crawlchat/internal/log"
)

// ToolName is the name the tool is registered under and what the model
// sees in its tool list.
const ToolName = "vector_search"

const toolDescription = "Search the indexed web pages for this conversation. " +
	"Use this to answer questions about content the user asked to index."

// Searcher finds the chunks nearest to an embedding within one thread.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int32, threadID string) ([]knowledge.Match, error)
}

// Input is the tool input schema presented to the model.
type Input struct {
	Query string `json:"query" jsonschema:"description=Natural language query to search the indexed pages with"`
}

// Result is a single retrieved chunk in the tool output.
type Result struct {
	URL     string `json:"url"`
	Content string `json:"content"`
	Favicon string `json:"favicon"`
}

type payload struct {
	Content *resultSet `json:"content,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type resultSet struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Tool performs retrieval for one conversation thread.
type Tool struct {
	embedder   ai.Embedder
	index      Searcher
	threadID   string
	limit      int
	oversample int
	logger     log.Logger
}

// NewTool creates a retrieval tool bound to threadID. limit caps how many
// results the model receives; oversample is how many candidates are pulled
// from the index before the thread filter is rechecked.
func NewTool(embedder ai.Embedder, index Searcher, threadID string, limit, oversample int, logger log.Logger) (*Tool, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if threadID == "" {
		return nil, fmt.Errorf("thread ID is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if oversample < limit {
		oversample = limit
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Tool{
		embedder:   embedder,
		index:      index,
		threadID:   threadID,
		limit:      limit,
		oversample: oversample,
		logger:     logger,
	}, nil
}

// Define registers the vector search tool schema on g so the model can
// see it. The conversation loop executes searches itself to observe the
// tool lifecycle, so the registered handler never runs during normal
// operation.
func Define(g *genkit.Genkit) ai.Tool {
	return genkit.DefineTool(g, ToolName, toolDescription,
		func(_ *ai.ToolContext, input Input) (string, error) {
			return "", fmt.Errorf("%s must be dispatched by the conversation loop", ToolName)
		})
}

// Search embeds the query, runs a thread-scoped similarity search, and
// returns the JSON payload for the model. Errors are folded into the
// payload so a failed lookup reads as a tool result, not a turn failure.
func (t *Tool) Search(ctx context.Context, query string) string {
	matches, err := t.search(ctx, query)
	if err != nil {
		t.logger.Warn("retrieval failed", "thread_id", t.threadID, "error", err)
		return marshalPayload(payload{Error: err.Error()})
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		// The index already filters by thread; the recheck guards against
		// a misconfigured or stale index handing back foreign chunks.
		if m.ThreadID != t.threadID {
			continue
		}
		results = append(results, Result{
			URL:     m.SourceURL,
			Content: m.Content,
			Favicon: m.Favicon,
		})
		if len(results) >= t.limit {
			break
		}
	}

	t.logger.Debug("retrieval completed",
		"thread_id", t.threadID,
		"candidates", len(matches),
		"results", len(results))

	return marshalPayload(payload{Content: &resultSet{Query: query, Results: results}})
}

func (t *Tool) search(ctx context.Context, query string) ([]knowledge.Match, error) {
	resp, err := t.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no embedding for query")
	}

	matches, err := t.index.Search(ctx, resp.Embeddings[0].Embedding, int32(t.oversample), t.threadID)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return matches, nil
}

func marshalPayload(p payload) string {
	data, err := json.Marshal(p)
	if err != nil {
		return `{"error":"failed to encode search results"}`
	}
	return string(data)
}
