// Package api provides the HTTP surface of the crawlchat service.
//
// Endpoints:
//
//	GET  /                    → liveness probe
//	POST /vectorize           → crawl a URL and index it for a thread
//	POST /stream_agent        → run one conversation turn, streamed as NDJSON
//	POST /delete_vector_store → tear down everything a thread owns
//
// /vectorize and /stream_agent require the client's provider API key in
// the Authorization header; teardown is deliberately unauthenticated so a
// client can always release its own session.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/koopa0/crawlchat/internal/agent"
	"github.com/koopa0/crawlchat/internal/auth"
	"github.com/koopa0/crawlchat/internal/lifecycle"
	"github.com/koopa0/crawlchat/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "0.0.0.0:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to prevent Slowloris attacks.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the maximum wait for the next keep-alive request.
	IdleTimeout = 120 * time.Second

	// WriteTimeout must outlast a full agent stream, which can spend
	// minutes between first and last token.
	WriteTimeout = 5 * time.Minute
)

const maxRequestBytes = 1 << 20

// Ingestor crawls a URL and indexes its content for a thread.
type Ingestor interface {
	Ingest(ctx context.Context, url, threadID string) (int, error)
}

// Conversations runs one agent turn and reports progress through events.
type Conversations interface {
	Run(ctx context.Context, threadID, input string) <-chan agent.Event
}

// Destroyer tears down a thread's stored state.
type Destroyer interface {
	Teardown(ctx context.Context, threadID string) (lifecycle.Deleted, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        log.Logger
	Ingestor      Ingestor        // Required
	Conversations Conversations   // Required
	Lifecycle     Destroyer       // Required
	Authorizer    auth.Authorizer // Required
	CORSOrigins   []string        // Allowed origins for CORS
	TrustProxy    bool            // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst     int             // Rate limiter burst size per IP (0 = default 60)
}

// Server is the crawlchat HTTP server.
type Server struct {
	handler http.Handler
}

// NewServer creates a server with all routes and middleware configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversations is required")
	}
	if cfg.Lifecycle == nil {
		return nil, errors.New("lifecycle is required")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("authorizer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{}

	vh := &vectorizeHandler{
		ingestor:   cfg.Ingestor,
		authorizer: cfg.Authorizer,
		logger:     logger,
	}
	sh := &streamHandler{
		conversations: cfg.Conversations,
		authorizer:    cfg.Authorizer,
		logger:        logger,
	}
	th := &teardownHandler{
		lifecycle: cfg.Lifecycle,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", alive)
	mux.HandleFunc("GET /health", alive)
	mux.HandleFunc("POST /vectorize", vh.vectorize)
	mux.HandleFunc("POST /stream_agent", sh.stream)
	mux.HandleFunc("POST /delete_vector_store", th.teardown)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → Logging → CORS → RateLimit → Routes
	// CORS sits before RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	s.handler = handler
	return s, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, logger log.Logger) error {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = log.NewNop()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
