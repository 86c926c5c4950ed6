package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mosaichq/mosaic/internal/classify"
	"github.com/mosaichq/mosaic/internal/extract"
)

var (
	// ErrDocumentNotFound indicates no document with that ID in the org.
	ErrDocumentNotFound = errors.New("document not found")
)

// Status tracks a document through the ingestion pipeline.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Document is the bookkeeping row for one ingested document. Content bytes
// are stored separately and fetched only for processing.
type Document struct {
	ID         uuid.UUID         `json:"id"`
	OrgID      uuid.UUID         `json:"org_id"`
	Title      string            `json:"title"`
	Format     extract.Format    `json:"format"`
	ByteSize   int               `json:"byte_size"`
	Category   classify.Category `json:"category"`
	Tags       []string          `json:"tags,omitempty"`
	Status     Status            `json:"status"`
	ChunkCount int               `json:"chunk_count"`
	TokenCount int               `json:"token_count"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const documentCols = `id, org_id, title, format, byte_size, category, tags,
	status, chunk_count, token_count, COALESCE(error, ''), created_at, updated_at`

// Store persists document rows.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a document Store.
func NewStore(db querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create inserts a pending document with its raw content.
func (s *Store) Create(ctx context.Context, orgID uuid.UUID, title string,
	format extract.Format, content []byte, tags []string) (*Document, error) {
	if tags == nil {
		tags = []string{}
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO documents (org_id, title, format, byte_size, content, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+documentCols,
		orgID, title, string(format), len(content), content, tags)
	return scanDocument(row)
}

// Get returns one document scoped to the organization.
func (s *Store) Get(ctx context.Context, orgID, docID uuid.UUID) (*Document, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+documentCols+`
		FROM documents
		WHERE id = $1 AND org_id = $2`, docID, orgID)
	return scanDocument(row)
}

// List returns the organization's documents, newest first. An empty status
// returns all of them.
func (s *Store) List(ctx context.Context, orgID uuid.UUID, status Status) ([]*Document, error) {
	sql := `SELECT ` + documentCols + ` FROM documents WHERE org_id = $1`
	args := []any{orgID}
	if status != "" {
		args = append(args, string(status))
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	sql += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// Content returns the stored raw bytes for reprocessing.
func (s *Store) Content(ctx context.Context, orgID, docID uuid.UUID) ([]byte, error) {
	var content []byte
	err := s.db.QueryRow(ctx, `
		SELECT content FROM documents WHERE id = $1 AND org_id = $2`, docID, orgID).
		Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
		}
		return nil, fmt.Errorf("loading document content: %w", err)
	}
	return content, nil
}

// Delete removes the document row. Chunk rows cascade in the database.
func (s *Store) Delete(ctx context.Context, orgID, docID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM documents WHERE id = $1 AND org_id = $2`, docID, orgID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return nil
}

// SetStatus moves a document to a new pipeline state.
func (s *Store) SetStatus(ctx context.Context, docID uuid.UUID, status Status) error {
	_, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
		docID, string(status))
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	return nil
}

// MarkReady records a successful ingestion. An empty title keeps the one
// set at upload time.
func (s *Store) MarkReady(ctx context.Context, docID uuid.UUID,
	title string, category classify.Category, chunkCount, tokenCount int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE documents
		SET status = $2, title = COALESCE(NULLIF($3, ''), title), category = $4,
		    chunk_count = $5, token_count = $6, error = '', updated_at = now()
		WHERE id = $1`,
		docID, string(StatusReady), title, string(category), chunkCount, tokenCount)
	if err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}
	return nil
}

// MarkFailed records a failed ingestion with the cause.
func (s *Store) MarkFailed(ctx context.Context, docID uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(ctx, `
		UPDATE documents
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1`,
		docID, string(StatusFailed), msg)
	if err != nil {
		return fmt.Errorf("marking document failed: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var format, category, status string
	err := row.Scan(&d.ID, &d.OrgID, &d.Title, &format, &d.ByteSize, &category,
		&d.Tags, &status, &d.ChunkCount, &d.TokenCount, &d.Error,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	d.Format = extract.Format(format)
	d.Category = classify.Category(category)
	d.Status = Status(status)
	return &d, nil
}
