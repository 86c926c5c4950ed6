package api

import (
	"log/slog"
	"net/http"
)

// statsHandler reports index size and token spend for an organization.
type statsHandler struct {
	pipeline DocumentPipeline
	ledger   UsageLedger
	logger   *slog.Logger
}

type statsResponse struct {
	Documents       int64  `json:"documents"`
	Chunks          int64  `json:"chunks"`
	IndexedTokens   int64  `json:"indexed_tokens"`
	MonthlyTokens   *int64 `json:"monthly_tokens,omitempty"`
	RemainingTokens *int64 `json:"remaining_tokens,omitempty"`
}

func (h *statsHandler) getStats(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}

	vs, err := h.pipeline.Stats(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, err, "stats_failed", h.logger)
		return
	}

	resp := statsResponse{
		Documents:     vs.Documents,
		Chunks:        vs.Chunks,
		IndexedTokens: vs.Tokens,
	}

	if h.ledger != nil {
		if used, err := h.ledger.MonthlyUsage(r.Context(), orgID); err == nil {
			resp.MonthlyTokens = &used
		} else {
			h.logger.Warn("reading monthly usage", "org_id", orgID, "error", err)
		}
		if remaining, err := h.ledger.Remaining(r.Context(), orgID); err == nil {
			resp.RemainingTokens = &remaining
		} else {
			h.logger.Warn("reading remaining budget", "org_id", orgID, "error", err)
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}
