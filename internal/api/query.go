package api

import (
	"log/slog"
	"net/http"

	"github.com/mosaichq/mosaic/internal/vecstore"
)

// queryHandler serves orchestrated questions against the org's documents
// and relational data.
type queryHandler struct {
	agent  QueryAgent
	logger *slog.Logger
}

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

func (h *queryHandler) ask(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}

	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if req.Question == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "question is required", h.logger)
		return
	}

	var opts []vecstore.SearchOption
	if req.TopK > 0 {
		opts = append(opts, vecstore.WithTopK(req.TopK))
	}

	resp, err := h.agent.Ask(r.Context(), orgID, req.Question, opts...)
	if err != nil {
		writeDomainError(w, err, "query_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
