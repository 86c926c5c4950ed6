package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mosaichq/mosaic/internal/match"
)

// matchHandler serves match computation and lookup.
type matchHandler struct {
	matcher MatchComputer
	store   MatchReader
	logger  *slog.Logger
}

func (h *matchHandler) compute(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	memberA, ok := pathUUID(w, r, "a", h.logger)
	if !ok {
		return
	}
	memberB, ok := pathUUID(w, r, "b", h.logger)
	if !ok {
		return
	}
	if memberA == memberB {
		WriteError(w, http.StatusBadRequest, "invalid_request",
			"cannot match a member with themselves", h.logger)
		return
	}

	m, err := h.matcher.Compute(r.Context(), orgID, memberA, memberB)
	if err != nil {
		writeDomainError(w, err, "compute_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (h *matchHandler) get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	memberA, ok := pathUUID(w, r, "a", h.logger)
	if !ok {
		return
	}
	memberB, ok := pathUUID(w, r, "b", h.logger)
	if !ok {
		return
	}

	m, err := h.store.Get(r.Context(), orgID, memberA, memberB)
	if err != nil {
		writeDomainError(w, err, "get_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (h *matchHandler) listForMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	memberID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			WriteError(w, http.StatusBadRequest, "invalid_request",
				"limit must be between 1 and 100", h.logger)
			return
		}
		limit = n
	}

	matches, err := h.store.ListForMember(r.Context(), orgID, memberID, limit)
	if err != nil {
		writeDomainError(w, err, "list_failed", h.logger)
		return
	}
	if matches == nil {
		matches = []*match.Match{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
