package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/koopa0/crawlchat/internal/lifecycle"
	"github.com/koopa0/crawlchat/internal/log"
)

type teardownRequest struct {
	ThreadID string `json:"thread_id"`
}

type teardownResponse struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	DeletedCounts lifecycle.Deleted `json:"deleted_counts"`
}

type teardownHandler struct {
	lifecycle Destroyer
	logger    log.Logger
}

// teardown releases everything a thread owns. It is idempotent: tearing
// down an unknown thread succeeds with zero counts.
func (h *teardownHandler) teardown(w http.ResponseWriter, r *http.Request) {
	var body teardownRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ThreadID == "" {
		writeDetail(w, http.StatusBadRequest, "thread_id is required")
		return
	}

	deleted, err := h.lifecycle.Teardown(r.Context(), body.ThreadID)
	if err != nil {
		h.logger.Error("teardown failed", "thread_id", body.ThreadID, "error", err)
		writeDetail(w, http.StatusInternalServerError,
			fmt.Sprintf("Error deleting vector store: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, teardownResponse{
		Success:       true,
		Message:       fmt.Sprintf("Deleted documents for thread_id '%s'", body.ThreadID),
		DeletedCounts: deleted,
	})
}
