// Package rag implements the document pipeline: ingest (extract, classify,
// chunk, embed, store) and query (retrieve, assemble context, generate).
// Documents move through pending, processing and ready states; a failure at
// any stage marks the document failed with the cause and removes any
// vectors already written for it.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/mosaichq/mosaic/internal/chunk"
	"github.com/mosaichq/mosaic/internal/classify"
	"github.com/mosaichq/mosaic/internal/extract"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

// processTimeout bounds background processing of one document.
const processTimeout = 5 * time.Minute

// DocumentStore is the bookkeeping side of the pipeline, satisfied by *Store.
type DocumentStore interface {
	Create(ctx context.Context, orgID uuid.UUID, title string,
		format extract.Format, content []byte, tags []string) (*Document, error)
	Get(ctx context.Context, orgID, docID uuid.UUID) (*Document, error)
	Content(ctx context.Context, orgID, docID uuid.UUID) ([]byte, error)
	Delete(ctx context.Context, orgID, docID uuid.UUID) error
	SetStatus(ctx context.Context, docID uuid.UUID, status Status) error
	MarkReady(ctx context.Context, docID uuid.UUID, title string,
		category classify.Category, chunkCount, tokenCount int) error
	MarkFailed(ctx context.Context, docID uuid.UUID, cause error) error
}

// Embedder is the vector side of the pipeline, satisfied by *embed.Service.
type Embedder interface {
	EmbedChunks(ctx context.Context, orgID uuid.UUID, chunks []chunk.Chunk) ([][]float32, error)
	EmbedQuery(ctx context.Context, orgID uuid.UUID, text string) ([]float32, error)
}

// VectorStore is the chunk persistence side, satisfied by *vecstore.Store.
type VectorStore interface {
	UpsertBatch(ctx context.Context, namespace string, docID uuid.UUID,
		chunks []chunk.Chunk, vectors [][]float32, metadata map[string]any) error
	Search(ctx context.Context, namespace string, vec []float32,
		opts ...vecstore.SearchOption) ([]vecstore.Match, error)
	DeleteDocument(ctx context.Context, namespace string, docID uuid.UUID) (int64, error)
	Stats(ctx context.Context, namespace string) (vecstore.Stats, error)
}

// Classifier labels a document, satisfied by *classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, title, text string) (classify.Result, error)
}

// Pipeline runs document ingestion on a bounded worker pool.
type Pipeline struct {
	docs       DocumentStore
	extractor  *extract.Extractor
	chunker    *chunk.Chunker
	embedder   Embedder
	vectors    VectorStore
	classifier Classifier
	generator  *Generator
	pool       *ants.Pool
	logger     *slog.Logger
}

// PipelineConfig sizes the worker pool. Zero workers defaults to half the
// CPU count.
type PipelineConfig struct {
	Workers int
}

// NewPipeline creates a Pipeline.
func NewPipeline(docs DocumentStore, extractor *extract.Extractor, chunker *chunk.Chunker,
	embedder Embedder, vectors VectorStore, classifier Classifier, generator *Generator,
	cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	if docs == nil || extractor == nil || chunker == nil || embedder == nil || vectors == nil {
		return nil, fmt.Errorf("docs, extractor, chunker, embedder and vectors are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = max(runtime.NumCPU()/2, 1)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	return &Pipeline{
		docs:       docs,
		extractor:  extractor,
		chunker:    chunker,
		embedder:   embedder,
		vectors:    vectors,
		classifier: classifier,
		generator:  generator,
		pool:       pool,
		logger:     logger,
	}, nil
}

// Release shuts the worker pool down. The pipeline must not be used after.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Namespace returns the vector namespace for an organization.
func Namespace(orgID uuid.UUID) string {
	return orgID.String()
}

// Ingest stores the document and schedules processing on the worker pool.
// The returned document is in StatusPending; callers poll Get for the
// outcome. Processing errors are recorded on the document row, not
// returned here.
func (p *Pipeline) Ingest(ctx context.Context, orgID uuid.UUID,
	filename string, raw []byte, tags []string) (*Document, error) {
	format, err := extract.DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	if len(raw) > extract.MaxDocumentBytes {
		return nil, extract.ErrDocumentTooLarge
	}

	doc, err := p.docs.Create(ctx, orgID, filename, format, raw, tags)
	if err != nil {
		return nil, err
	}

	docID := doc.ID
	if err := p.pool.Submit(func() {
		// Detached from the request context; uploads must not be
		// cancelled by the client disconnecting.
		pctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if perr := p.process(pctx, orgID, docID, raw, format); perr != nil {
			p.logger.Error("document processing failed",
				"org_id", orgID, "document_id", docID, "error", perr)
		}
	}); err != nil {
		return nil, fmt.Errorf("scheduling document processing: %w", err)
	}
	return doc, nil
}

// IngestSync processes the document before returning. Used by the CLI.
func (p *Pipeline) IngestSync(ctx context.Context, orgID uuid.UUID,
	filename string, raw []byte, tags []string) (*Document, error) {
	format, err := extract.DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	doc, err := p.docs.Create(ctx, orgID, filename, format, raw, tags)
	if err != nil {
		return nil, err
	}
	if err := p.process(ctx, orgID, doc.ID, raw, format); err != nil {
		return nil, err
	}
	return p.docs.Get(ctx, orgID, doc.ID)
}

// Reindex re-runs chunking and embedding from the stored content, replacing
// all existing vectors for the document.
func (p *Pipeline) Reindex(ctx context.Context, orgID, docID uuid.UUID) error {
	doc, err := p.docs.Get(ctx, orgID, docID)
	if err != nil {
		return err
	}
	raw, err := p.docs.Content(ctx, orgID, docID)
	if err != nil {
		return err
	}

	// Old chunk IDs survive an upsert, so stale chunks from a previously
	// longer document must be removed first.
	if _, err := p.vectors.DeleteDocument(ctx, Namespace(orgID), docID); err != nil {
		return err
	}
	return p.process(ctx, orgID, docID, raw, doc.Format)
}

// Delete removes the document and its vectors. The vector delete is
// scoped to the organization's namespace, so a delete against a document
// another org owns removes nothing.
func (p *Pipeline) Delete(ctx context.Context, orgID, docID uuid.UUID) error {
	if _, err := p.vectors.DeleteDocument(ctx, Namespace(orgID), docID); err != nil {
		return err
	}
	return p.docs.Delete(ctx, orgID, docID)
}

// process runs extract, classify, chunk, embed and upsert for one document.
// On failure the document is marked failed and its vectors removed so a
// half-ingested document never serves partial search results.
func (p *Pipeline) process(ctx context.Context, orgID, docID uuid.UUID,
	raw []byte, format extract.Format) error {
	if err := p.docs.SetStatus(ctx, docID, StatusProcessing); err != nil {
		return err
	}

	err := p.processInner(ctx, orgID, docID, raw, format)
	if err != nil {
		if _, cerr := p.vectors.DeleteDocument(ctx, Namespace(orgID), docID); cerr != nil {
			p.logger.Error("cleaning up vectors after failure",
				"document_id", docID, "error", cerr)
		}
		if merr := p.docs.MarkFailed(ctx, docID, err); merr != nil {
			p.logger.Error("marking document failed",
				"document_id", docID, "error", merr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) processInner(ctx context.Context, orgID, docID uuid.UUID,
	raw []byte, format extract.Format) error {
	start := time.Now()

	extracted, err := p.extractor.Extract(raw, format)
	if err != nil {
		return fmt.Errorf("extracting: %w", err)
	}

	category := classify.CategoryOther
	if p.classifier != nil {
		result, cerr := p.classifier.Classify(ctx, extracted.Title, extracted.Text)
		if cerr != nil {
			// Classification never blocks ingestion.
			p.logger.Warn("classification failed, using other",
				"document_id", docID, "error", cerr)
		} else {
			category = result.Category
		}
	}

	chunks := p.chunker.Split(docID.String(), extracted.Text)
	if len(chunks) == 0 {
		return fmt.Errorf("extracting: %w", extract.ErrEmptyDocument)
	}

	vectors, err := p.embedder.EmbedChunks(ctx, orgID, chunks)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	metadata := map[string]any{
		"title":    extracted.Title,
		"category": string(category),
	}
	if err := p.vectors.UpsertBatch(ctx, Namespace(orgID), docID, chunks, vectors, metadata); err != nil {
		return fmt.Errorf("storing vectors: %w", err)
	}

	tokens := 0
	for _, c := range chunks {
		tokens += c.TokenCount
	}

	if err := p.docs.MarkReady(ctx, docID, extracted.Title, category, len(chunks), tokens); err != nil {
		return err
	}

	p.logger.Info("document ingested",
		"org_id", orgID,
		"document_id", docID,
		"category", category,
		"chunks", len(chunks),
		"tokens", tokens,
		"elapsed", time.Since(start))
	return nil
}

// Stats reports vector store totals for the organization.
func (p *Pipeline) Stats(ctx context.Context, orgID uuid.UUID) (vecstore.Stats, error) {
	return p.vectors.Stats(ctx, Namespace(orgID))
}
