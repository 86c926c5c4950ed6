// Package vecstore persists chunk embeddings in PostgreSQL with pgvector
// and serves cosine-similarity search over them. Chunks are partitioned by
// namespace, one per organization, so a search never crosses tenants.
package vecstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mosaichq/mosaic/internal/chunk"
)

// ErrVectorCountMismatch indicates chunks and vectors of different lengths.
var ErrVectorCountMismatch = errors.New("chunk and vector counts differ")

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const upsertChunkSQL = `
	INSERT INTO chunks (id, document_id, namespace, chunk_index, content, token_count, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		token_count = EXCLUDED.token_count,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata`

// Match is one search result.
type Match struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Content    string         `json:"content"`
	TokenCount int            `json:"token_count"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes a namespace.
type Stats struct {
	Chunks    int64 `json:"chunks"`
	Documents int64 `json:"documents"`
	Tokens    int64 `json:"tokens"`
}

// Store reads and writes chunk vectors.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: pool, logger: logger}, nil
}

// UpsertBatch writes chunks and their vectors in one round trip.
// Vectors must align with chunks by index. Re-upserting the same chunk IDs
// overwrites content and embeddings, which is what reindexing relies on.
func (s *Store) UpsertBatch(ctx context.Context, namespace string, docID uuid.UUID,
	chunks []chunk.Chunk, vectors [][]float32, metadata map[string]any) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrVectorCountMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	meta, err := metadataJSON(metadata)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue(upsertChunkSQL,
			c.ID, docID, namespace, c.Index, c.Content, c.TokenCount,
			pgvector.NewVector(vectors[i]), meta)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting chunk batch: %w", err)
		}
	}

	s.logger.Debug("upserted chunks",
		"namespace", namespace,
		"document_id", docID,
		"count", len(chunks))
	return nil
}

// Search returns the chunks nearest to vec within the namespace, most
// similar first.
func (s *Store) Search(ctx context.Context, namespace string, vec []float32, opts ...SearchOption) ([]Match, error) {
	o := applyOptions(opts)

	sql := `
		SELECT id, document_id, content, token_count,
		       1 - (embedding <=> $1) AS similarity,
		       metadata
		FROM chunks
		WHERE namespace = $2`
	args := []any{pgvector.NewVector(vec), namespace}

	if o.filter != nil {
		meta, err := metadataJSON(o.filter)
		if err != nil {
			return nil, err
		}
		args = append(args, meta)
		sql += fmt.Sprintf(" AND metadata @> $%d", len(args))
	}

	args = append(args, o.topK)
	sql += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Content, &m.TokenCount,
			&m.Similarity, &m.Metadata); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if m.Similarity < o.minSimilarity {
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

// DeleteDocument removes all chunks of one document within the namespace
// and reports how many were deleted. The namespace predicate keeps the
// delete inside its own tenant even when the document ID leaks.
func (s *Store) DeleteDocument(ctx context.Context, namespace string, docID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM chunks WHERE namespace = $1 AND document_id = $2`, namespace, docID)
	if err != nil {
		return 0, fmt.Errorf("deleting document chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteNamespace removes every chunk in a namespace. Used when an
// organization is deleted.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE namespace = $1`, namespace)
	if err != nil {
		return 0, fmt.Errorf("deleting namespace: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns chunk, document and token counts for a namespace.
func (s *Store) Stats(ctx context.Context, namespace string) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT document_id), COALESCE(SUM(token_count), 0)
		FROM chunks
		WHERE namespace = $1`, namespace).
		Scan(&st.Chunks, &st.Documents, &st.Tokens)
	if err != nil {
		return Stats{}, fmt.Errorf("querying namespace stats: %w", err)
	}
	return st, nil
}

func metadataJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return b, nil
}
