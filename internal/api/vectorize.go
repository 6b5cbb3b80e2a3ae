package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/koopa0/crawlchat/internal/auth"
	"github.com/koopa0/crawlchat/internal/ingest"
	"github.com/koopa0/crawlchat/internal/log"
)

type vectorizeRequest struct {
	URL      string `json:"url"`
	ThreadID string `json:"thread_id"`
}

type vectorizeResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	DocumentsCount int    `json:"documents_count"`
}

type vectorizeHandler struct {
	ingestor   Ingestor
	authorizer auth.Authorizer
	logger     log.Logger
}

// vectorize crawls the requested URL and indexes its pages for the thread.
func (h *vectorizeHandler) vectorize(w http.ResponseWriter, r *http.Request) {
	var body vectorizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.URL == "" || body.ThreadID == "" {
		writeDetail(w, http.StatusBadRequest, "url and thread_id are required")
		return
	}

	if !authorize(w, r, h.authorizer, h.logger) {
		return
	}

	count, err := h.ingestor.Ingest(r.Context(), body.URL, body.ThreadID)
	if err != nil {
		if errors.Is(err, ingest.ErrNoContent) {
			writeDetail(w, http.StatusBadRequest, "No content found to vectorize")
			return
		}
		h.logger.Error("vectorize failed",
			"url", body.URL, "thread_id", body.ThreadID, "error", err)
		writeDetail(w, http.StatusInternalServerError,
			fmt.Sprintf("Error vectorizing URL: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, vectorizeResponse{
		Success:        true,
		Message:        fmt.Sprintf("Successfully vectorized %d documents from %s", count, body.URL),
		DocumentsCount: count,
	})
}
