// Package auth validates client API keys against the upstream provider.
//
// The service holds no keys of its own. The Authorization header the
// client sends is checked against the provider's endpoint, and a provider
// rejection is relayed to the client with the provider's exact status and
// body so key errors read the same here as they would upstream.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/koopa0/crawlchat/internal/log"
)

const (
	checkTimeout = 10 * time.Second
	maxBodyBytes = 64 * 1024
)

// Error is an upstream rejection. StatusCode and Body are relayed to the
// client verbatim.
type Error struct {
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream rejected API key with status %d", e.StatusCode)
}

// Authorizer validates one API key.
type Authorizer interface {
	// Authorize returns nil when the key is valid, *Error when the
	// upstream rejected it, and another error when the check itself
	// could not be completed.
	Authorize(ctx context.Context, key string) error
}

// HTTPAuthorizer checks keys against an upstream HTTP endpoint.
type HTTPAuthorizer struct {
	endpoint string
	client   *http.Client
	logger   log.Logger
}

// NewHTTP creates an authorizer that forwards keys to endpoint.
func NewHTTP(endpoint string, logger log.Logger) (*HTTPAuthorizer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("auth endpoint is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &HTTPAuthorizer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: checkTimeout},
		logger:   logger,
	}, nil
}

// Authorize sends the key to the upstream endpoint. An empty key is
// rejected locally without a round trip.
func (a *HTTPAuthorizer) Authorize(ctx context.Context, key string) error {
	if key == "" {
		return &Error{
			StatusCode: http.StatusUnauthorized,
			Body:       []byte(`{"detail":"Missing API key"}`),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", key)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		a.logger.Warn("failed to read auth rejection body",
			"status", resp.StatusCode, "error", err)
		body = nil
	}

	return &Error{StatusCode: resp.StatusCode, Body: body}
}
