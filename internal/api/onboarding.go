package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mosaichq/mosaic/internal/onboard"
)

// onboardHandler serves the member onboarding questionnaire.
type onboardHandler struct {
	agent    OnboardingAgent
	sessions SessionReader
	logger   *slog.Logger
}

type startSessionRequest struct {
	MemberID string `json:"member_id"`
}

// sessionResponse is returned by every onboarding route. Question is nil
// once the session has completed.
type sessionResponse struct {
	Session  *onboard.Session  `json:"session"`
	Question *onboard.Question `json:"question,omitempty"`
}

func (h *onboardHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	memberID, err := parseUUIDField(req.MemberID, "member_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	session, question, err := h.agent.Start(r.Context(), memberID)
	if err != nil {
		writeDomainError(w, err, "start_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, sessionResponse{Session: session, Question: question})
}

func (h *onboardHandler) get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "get_failed", h.logger)
		return
	}
	transcript, err := h.sessions.Transcript(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "get_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"session":    session,
		"transcript": transcript,
	})
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (h *onboardHandler) answer(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var req answerRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "answer is required", h.logger)
		return
	}

	question, completed, err := h.agent.Submit(r.Context(), sessionID, req.Answer)
	if err != nil {
		writeDomainError(w, err, "answer_failed", h.logger)
		return
	}

	if completed != nil {
		WriteJSON(w, http.StatusOK, sessionResponse{Session: completed})
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "get_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, sessionResponse{Session: session, Question: question})
}

func (h *onboardHandler) complete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	session, err := h.agent.Complete(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "complete_failed", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, sessionResponse{Session: session})
}
