package api

import (
	"encoding/json"
	"net/http"

	"github.com/koopa0/crawlchat/internal/auth"
	"github.com/koopa0/crawlchat/internal/log"
	"github.com/koopa0/crawlchat/internal/stream"
)

type streamRequest struct {
	Input    string `json:"input"`
	ThreadID string `json:"thread_id"`
}

type streamHandler struct {
	conversations Conversations
	authorizer    auth.Authorizer
	logger        log.Logger
}

// stream runs one conversation turn and relays its events as NDJSON.
// Once the first byte is written the status is fixed at 200; failures
// after that point terminate the stream.
func (h *streamHandler) stream(w http.ResponseWriter, r *http.Request) {
	var body streamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Input == "" || body.ThreadID == "" {
		writeDetail(w, http.StatusBadRequest, "input and thread_id are required")
		return
	}

	if !authorize(w, r, h.authorizer, h.logger) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	// Client disconnects cancel r.Context(), which stops the run.
	events := h.conversations.Run(r.Context(), body.ThreadID, body.Input)
	writer := stream.NewWriter(w)

	for ev := range stream.Multiplex(events) {
		if err := writer.Write(ev); err != nil {
			h.logger.Debug("stream write failed, client likely disconnected",
				"thread_id", body.ThreadID, "error", err)
			return
		}
	}
}
