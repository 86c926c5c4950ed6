// Package api exposes the JSON HTTP API: document ingestion and retrieval,
// orchestrated queries, member management, onboarding sessions and match
// scoring. Handlers depend on small interfaces so tests run against
// in-memory fakes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mosaichq/mosaic/internal/agents"
	"github.com/mosaichq/mosaic/internal/embed"
	"github.com/mosaichq/mosaic/internal/extract"
	"github.com/mosaichq/mosaic/internal/match"
	"github.com/mosaichq/mosaic/internal/onboard"
	"github.com/mosaichq/mosaic/internal/profile"
	"github.com/mosaichq/mosaic/internal/rag"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

// DocumentPipeline runs ingestion, satisfied by *rag.Pipeline.
type DocumentPipeline interface {
	Ingest(ctx context.Context, orgID uuid.UUID, filename string, raw []byte, tags []string) (*rag.Document, error)
	Reindex(ctx context.Context, orgID, docID uuid.UUID) error
	Delete(ctx context.Context, orgID, docID uuid.UUID) error
	Stats(ctx context.Context, orgID uuid.UUID) (vecstore.Stats, error)
}

// DocumentReader reads document bookkeeping rows, satisfied by *rag.Store.
type DocumentReader interface {
	Get(ctx context.Context, orgID, docID uuid.UUID) (*rag.Document, error)
	List(ctx context.Context, orgID uuid.UUID, status rag.Status) ([]*rag.Document, error)
}

// QueryAgent answers questions, satisfied by *agents.Orchestrator.
type QueryAgent interface {
	Ask(ctx context.Context, orgID uuid.UUID, question string,
		opts ...vecstore.SearchOption) (*agents.Response, error)
}

// MemberStore manages member rows, satisfied by *profile.Store.
type MemberStore interface {
	Create(ctx context.Context, orgID uuid.UUID, name, email, headline string) (*profile.Member, error)
	Get(ctx context.Context, orgID, memberID uuid.UUID) (*profile.Member, error)
	List(ctx context.Context, orgID uuid.UUID) ([]*profile.Member, error)
	Update(ctx context.Context, orgID, memberID uuid.UUID, name, headline string) (*profile.Member, error)
	Delete(ctx context.Context, orgID, memberID uuid.UUID) error
}

// MemberEnricher scrapes public profiles, satisfied by *profile.Enricher.
type MemberEnricher interface {
	EnrichMember(ctx context.Context, orgID, memberID uuid.UUID, profileURL string) (*profile.Member, error)
}

// OnboardingAgent drives questionnaires, satisfied by *onboard.Agent.
type OnboardingAgent interface {
	Start(ctx context.Context, memberID uuid.UUID) (*onboard.Session, *onboard.Question, error)
	Submit(ctx context.Context, sessionID uuid.UUID, answer string) (*onboard.Question, *onboard.Session, error)
	Complete(ctx context.Context, sessionID uuid.UUID) (*onboard.Session, error)
}

// SessionReader reads onboarding state, satisfied by *onboard.Store.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*onboard.Session, error)
	Transcript(ctx context.Context, sessionID uuid.UUID) ([]onboard.QA, error)
}

// MatchComputer scores member pairs, satisfied by *match.Matcher.
type MatchComputer interface {
	Compute(ctx context.Context, orgID, memberA, memberB uuid.UUID) (*match.Match, error)
}

// MatchReader reads stored matches, satisfied by *match.Store.
type MatchReader interface {
	Get(ctx context.Context, orgID, memberA, memberB uuid.UUID) (*match.Match, error)
	ListForMember(ctx context.Context, orgID, memberID uuid.UUID, limit int) ([]*match.Match, error)
}

// UsageLedger reports token spend, satisfied by *embed.Ledger.
type UsageLedger interface {
	Remaining(ctx context.Context, orgID uuid.UUID) (int64, error)
	MonthlyUsage(ctx context.Context, orgID uuid.UUID) (int64, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Pipeline  DocumentPipeline // Required
	Documents DocumentReader   // Required
	Members   MemberStore      // Required
	Query     QueryAgent       // Optional: nil disables /query
	Enricher  MemberEnricher   // Optional: nil disables member enrichment
	Onboard   OnboardingAgent  // Optional: nil disables onboarding
	Sessions  SessionReader    // Optional: required when Onboard is set
	Matcher   MatchComputer    // Optional: nil disables match computation
	Matches   MatchReader      // Optional: nil disables match reads
	Ledger    UsageLedger      // Optional: nil omits budget figures in /stats
	Pool      *pgxpool.Pool    // Optional: nil disables pool stats in /ready

	CORSOrigins []string // Allowed origins for CORS
	IsDev       bool     // Disables HSTS (no HTTPS in dev)
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil || cfg.Documents == nil {
		return nil, errors.New("document pipeline and store are required")
	}
	if cfg.Members == nil {
		return nil, errors.New("member store is required")
	}
	if cfg.Onboard != nil && cfg.Sessions == nil {
		return nil, errors.New("session reader is required with onboarding")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	// Documents
	dh := &documentHandler{pipeline: cfg.Pipeline, store: cfg.Documents, logger: logger}
	mux.HandleFunc("POST /api/v1/orgs/{org}/documents", dh.upload)
	mux.HandleFunc("GET /api/v1/orgs/{org}/documents", dh.list)
	mux.HandleFunc("GET /api/v1/orgs/{org}/documents/{id}", dh.get)
	mux.HandleFunc("DELETE /api/v1/orgs/{org}/documents/{id}", dh.remove)
	mux.HandleFunc("POST /api/v1/orgs/{org}/documents/{id}/reindex", dh.reindex)

	// Orchestrated query
	if cfg.Query != nil {
		qh := &queryHandler{agent: cfg.Query, logger: logger}
		mux.HandleFunc("POST /api/v1/orgs/{org}/query", qh.ask)
	}

	// Members
	mh := &memberHandler{store: cfg.Members, enricher: cfg.Enricher, logger: logger}
	mux.HandleFunc("POST /api/v1/orgs/{org}/members", mh.create)
	mux.HandleFunc("GET /api/v1/orgs/{org}/members", mh.list)
	mux.HandleFunc("GET /api/v1/orgs/{org}/members/{id}", mh.get)
	mux.HandleFunc("PATCH /api/v1/orgs/{org}/members/{id}", mh.update)
	mux.HandleFunc("DELETE /api/v1/orgs/{org}/members/{id}", mh.remove)
	if cfg.Enricher != nil {
		mux.HandleFunc("POST /api/v1/orgs/{org}/members/{id}/enrich", mh.enrich)
	}

	// Onboarding
	if cfg.Onboard != nil {
		oh := &onboardHandler{agent: cfg.Onboard, sessions: cfg.Sessions, logger: logger}
		mux.HandleFunc("POST /api/v1/onboarding/sessions", oh.start)
		mux.HandleFunc("GET /api/v1/onboarding/sessions/{id}", oh.get)
		mux.HandleFunc("POST /api/v1/onboarding/sessions/{id}/answers", oh.answer)
		mux.HandleFunc("POST /api/v1/onboarding/sessions/{id}/complete", oh.complete)
	}

	// Matches
	if cfg.Matches != nil {
		xh := &matchHandler{matcher: cfg.Matcher, store: cfg.Matches, logger: logger}
		mux.HandleFunc("GET /api/v1/orgs/{org}/matches/{a}/{b}", xh.get)
		mux.HandleFunc("GET /api/v1/orgs/{org}/members/{id}/matches", xh.listForMember)
		if cfg.Matcher != nil {
			mux.HandleFunc("POST /api/v1/orgs/{org}/matches/{a}/{b}", xh.compute)
		}
	}

	// Stats
	st := &statsHandler{pipeline: cfg.Pipeline, ledger: cfg.Ledger, logger: logger}
	mux.HandleFunc("GET /api/v1/orgs/{org}/stats", st.getStats)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Wrap with security headers
	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes from middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// pathUUID parses the named path segment as a UUID, writing a 400 and
// returning false on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid "+name+" ID", logger)
		return uuid.Nil, false
	}
	return id, true
}

// parseUUIDField parses a UUID from a request body field.
func parseUUIDField(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a valid UUID", name)
	}
	return id, nil
}

// writeDomainError maps domain sentinel errors onto HTTP statuses. Anything
// unrecognized becomes a 500 with the given fallback code.
func writeDomainError(w http.ResponseWriter, err error, fallbackCode string, logger *slog.Logger) {
	switch {
	case errors.Is(err, rag.ErrDocumentNotFound),
		errors.Is(err, profile.ErrMemberNotFound),
		errors.Is(err, match.ErrMatchNotFound),
		errors.Is(err, onboard.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), logger)
	case errors.Is(err, profile.ErrDuplicateEmail),
		errors.Is(err, onboard.ErrSessionCompleted),
		errors.Is(err, onboard.ErrNoPendingQuestion):
		WriteError(w, http.StatusConflict, "conflict", err.Error(), logger)
	case errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrEmptyDocument),
		errors.Is(err, profile.ErrInvalidProfileURL):
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), logger)
	case errors.Is(err, extract.ErrDocumentTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error(), logger)
	case errors.Is(err, embed.ErrBudgetExhausted):
		WriteError(w, http.StatusTooManyRequests, "budget_exhausted", err.Error(), logger)
	case errors.Is(err, embed.ErrCircuitOpen):
		WriteError(w, http.StatusServiceUnavailable, "provider_unavailable", err.Error(), logger)
	default:
		WriteError(w, http.StatusInternalServerError, fallbackCode, err.Error(), logger)
	}
}
