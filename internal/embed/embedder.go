// Package embed turns chunk text into vectors through a Genkit embedder,
// guarded by a token-budget ledger, a circuit breaker and a rate limiter.
// Every provider call follows the same gate order: budget, circuit, rate
// limit, call. An open circuit rejects before the limiter so fast-failed
// requests never consume rate tokens.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mosaichq/mosaic/internal/chunk"
)

// UsageKindEmbedding labels ledger entries written by this package.
const UsageKindEmbedding = "embedding"

// BudgetLedger gates and records token spend per organization.
type BudgetLedger interface {
	CheckBudget(ctx context.Context, orgID uuid.UUID, tokens int64) error
	Record(ctx context.Context, orgID uuid.UUID, kind string, tokens int64) error
}

// Config controls batching, throttling and failure handling.
// Zero values take defaults.
type Config struct {
	BatchSize     int     // documents per provider call
	RatePerSecond float64 // provider calls per second
	RateBurst     int
	Retry         RetryConfig
	Breaker       BreakerConfig
}

// Service embeds chunks and queries.
//
// Service is safe for concurrent use by multiple goroutines; the rate
// limiter and breaker are shared across callers so concurrent ingestion
// cannot stampede the provider.
type Service struct {
	embedder  ai.Embedder
	ledger    BudgetLedger
	limiter   *rate.Limiter
	breaker   *Breaker
	retry     RetryConfig
	batchSize int
	logger    *slog.Logger
}

// NewService creates a Service around a Genkit embedder.
func NewService(embedder ai.Embedder, ledger BudgetLedger, cfg Config, logger *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:  embedder,
		ledger:    ledger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		breaker:   NewBreaker(cfg.Breaker),
		retry:     cfg.Retry,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
}

// EmbedChunks embeds all chunks in order, batching provider calls.
// The whole request is checked against the organization's budget up front
// and recorded once on success; a mid-flight failure spends nothing.
func (s *Service) EmbedChunks(ctx context.Context, orgID uuid.UUID, chunks []chunk.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	var total int64
	for _, c := range chunks {
		total += int64(c.TokenCount)
	}
	if err := s.ledger.CheckBudget(ctx, orgID, total); err != nil {
		return nil, err
	}

	start := time.Now()
	vectors := make([][]float32, 0, len(chunks))
	for i := 0; i < len(chunks); i += s.batchSize {
		end := min(i+s.batchSize, len(chunks))

		docs := make([]*ai.Document, 0, end-i)
		for _, c := range chunks[i:end] {
			docs = append(docs, ai.DocumentFromText(c.Content, nil))
		}

		batch, err := s.embedBatch(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", i, end, err)
		}
		vectors = append(vectors, batch...)
	}

	if err := s.ledger.Record(ctx, orgID, UsageKindEmbedding, total); err != nil {
		return nil, err
	}

	s.logger.Debug("embedded chunks",
		"org_id", orgID,
		"chunks", len(chunks),
		"tokens", total,
		"elapsed", time.Since(start))
	return vectors, nil
}

// EmbedQuery embeds a single query string. Query spend counts against the
// same budget as ingestion.
func (s *Service) EmbedQuery(ctx context.Context, orgID uuid.UUID, text string) ([]float32, error) {
	tokens := int64(chunk.CountTokens(text))
	if err := s.ledger.CheckBudget(ctx, orgID, tokens); err != nil {
		return nil, err
	}

	vectors, err := s.embedBatch(ctx, []*ai.Document{ai.DocumentFromText(text, nil)})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if err := s.ledger.Record(ctx, orgID, UsageKindEmbedding, tokens); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch runs one provider call with circuit breaking, rate limiting
// and exponential backoff. The breaker is consulted first so an open
// circuit rejects without taking a limiter token; each attempt that goes
// on to the provider takes one, keeping retries inside the provider's rate.
func (s *Service) embedBatch(ctx context.Context, docs []*ai.Document) ([][]float32, error) {
	var lastErr error
	delay := s.retry.InitialInterval

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if err := s.breaker.Allow(); err != nil {
			return nil, err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
		if err == nil {
			s.breaker.Success()
			if len(resp.Embeddings) != len(docs) {
				return nil, fmt.Errorf("embedder returned %d embeddings for %d documents",
					len(resp.Embeddings), len(docs))
			}
			vectors := make([][]float32, len(resp.Embeddings))
			for i, e := range resp.Embeddings {
				vectors[i] = e.Embedding
			}
			return vectors, nil
		}

		s.breaker.Failure()
		lastErr = err

		if !retryable(err) {
			return nil, fmt.Errorf("embed: %w", err)
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		s.logger.Debug("retrying embed call",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, s.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("embed after %d retries: %w", s.retry.MaxRetries, lastErr)
}
