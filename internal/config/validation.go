package config

import (
	"fmt"
	"slices"
)

// validSSLModes are the PostgreSQL sslmode values pgx accepts.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate performs fail-fast validation of the configuration.
// Returns a sentinel error (errors.Is-compatible) describing the first
// invalid field found.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbeddingDim < 1 || c.EmbeddingDim > 4096 {
		return fmt.Errorf("%w: embedding_dim must be in [1, 4096], got %d", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port must be in [1, 65535], got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name must not be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: postgres_ssl_mode must be one of %v, got %q",
			ErrInvalidPostgresSSLMode, validSSLModes, c.PostgresSSLMode)
	}

	if c.CrawlMaxPages < 1 || c.CrawlMaxPages > 500 {
		return fmt.Errorf("%w: crawl_max_pages must be in [1, 500], got %d", ErrInvalidCrawlBounds, c.CrawlMaxPages)
	}
	if c.CrawlMaxDepth < 1 || c.CrawlMaxDepth > 10 {
		return fmt.Errorf("%w: crawl_max_depth must be in [1, 10], got %d", ErrInvalidCrawlBounds, c.CrawlMaxDepth)
	}

	if c.RetrievalLimit < 1 || c.RetrievalLimit > 100 {
		return fmt.Errorf("%w: retrieval_limit must be in [1, 100], got %d", ErrInvalidRetrieval, c.RetrievalLimit)
	}
	if c.RetrievalOversample < c.RetrievalLimit {
		return fmt.Errorf("%w: retrieval_oversample (%d) must not be below retrieval_limit (%d)",
			ErrInvalidRetrieval, c.RetrievalOversample, c.RetrievalLimit)
	}

	if c.MaxTurns < 1 || c.MaxTurns > 25 {
		return fmt.Errorf("%w: max_turns must be in [1, 25], got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	return nil
}
