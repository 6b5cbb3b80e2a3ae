package knowledge

import "github.com/google/uuid"

// Chunk is one embedded, session-tagged unit of ingested text.
// Chunks are immutable once written; re-ingesting the same URL under the
// same thread creates new chunks (no dedup).
type Chunk struct {
	ID        uuid.UUID // Unique identifier, used for deletion/audit only
	Content   string    // Extracted page text
	SourceURL string    // Page the content was crawled from
	ThreadID  string    // Owning session; the unit of isolation
	Favicon   string    // Site favicon URL, may be empty
	Embedding []float32 // Vector representation
}

// Match is a single search result with cosine similarity score.
type Match struct {
	Chunk
	Similarity float64
}
