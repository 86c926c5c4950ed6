package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mosaichq/mosaic/internal/profile"
)

// memberHandler serves member CRUD and profile enrichment.
type memberHandler struct {
	store    MemberStore
	enricher MemberEnricher
	logger   *slog.Logger
}

type createMemberRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Headline string `json:"headline,omitempty"`
}

func (h *memberHandler) create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}

	var req createMemberRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "name and email are required", h.logger)
		return
	}

	member, err := h.store.Create(r.Context(), orgID, req.Name, req.Email, req.Headline)
	if err != nil {
		writeDomainError(w, err, "create_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, member)
}

func (h *memberHandler) list(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}

	members, err := h.store.List(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, err, "list_failed", h.logger)
		return
	}
	if members == nil {
		members = []*profile.Member{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (h *memberHandler) get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	memberID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	member, err := h.store.Get(r.Context(), orgID, memberID)
	if err != nil {
		writeDomainError(w, err, "get_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

type updateMemberRequest struct {
	Name     string `json:"name,omitempty"`
	Headline string `json:"headline,omitempty"`
}

func (h *memberHandler) update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	memberID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var req updateMemberRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	member, err := h.store.Update(r.Context(), orgID, memberID, req.Name, req.Headline)
	if err != nil {
		writeDomainError(w, err, "update_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (h *memberHandler) remove(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	memberID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), orgID, memberID); err != nil {
		writeDomainError(w, err, "delete_failed", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enrichRequest struct {
	ProfileURL string `json:"profile_url"`
}

func (h *memberHandler) enrich(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "org", h.logger)
	if !ok {
		return
	}
	memberID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var req enrichRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if req.ProfileURL == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "profile_url is required", h.logger)
		return
	}

	member, err := h.enricher.EnrichMember(r.Context(), orgID, memberID, req.ProfileURL)
	if err != nil {
		writeDomainError(w, err, "enrich_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}
