package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/mosaichq/mosaic/internal/chunk"
	"github.com/mosaichq/mosaic/internal/embed"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

// UsageKindGeneration labels ledger entries for answer generation.
const UsageKindGeneration = "generation"

// DefaultMaxContextTokens caps how much retrieved text goes into a prompt.
const DefaultMaxContextTokens = 3000

// Source is one retrieved chunk cited in an answer. Ref matches the [n]
// markers the model is told to use.
type Source struct {
	Ref        int       `json:"ref"`
	ChunkID    string    `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
}

// Answer is a generated response with the sources that grounded it.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources,omitempty"`
}

const answerSystemPrompt = `You answer questions using only the numbered context passages provided.
Cite passages inline as [1], [2] and so on. If the context does not contain
the answer, say so plainly instead of guessing.`

// Generator turns retrieved chunks into a grounded answer.
type Generator struct {
	g                *genkit.Genkit
	modelName        string
	ledger           embed.BudgetLedger
	maxContextTokens int
	logger           *slog.Logger
}

// NewGenerator creates a Generator. maxContextTokens of zero takes the
// default.
func NewGenerator(g *genkit.Genkit, modelName string, ledger embed.BudgetLedger,
	maxContextTokens int, logger *slog.Logger) *Generator {
	if maxContextTokens <= 0 {
		maxContextTokens = DefaultMaxContextTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		g:                g,
		modelName:        modelName,
		ledger:           ledger,
		maxContextTokens: maxContextTokens,
		logger:           logger,
	}
}

// Query retrieves relevant chunks for the question and generates a cited
// answer from them.
func (p *Pipeline) Query(ctx context.Context, orgID uuid.UUID, question string,
	opts ...vecstore.SearchOption) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if p.generator == nil {
		return nil, fmt.Errorf("no generator configured")
	}

	vec, err := p.embedder.EmbedQuery(ctx, orgID, question)
	if err != nil {
		return nil, err
	}

	matches, err := p.vectors.Search(ctx, Namespace(orgID), vec, opts...)
	if err != nil {
		return nil, err
	}
	return p.generator.Answer(ctx, orgID, question, matches)
}

// Answer generates a response grounded in matches. With no matches it
// returns a fixed no-context answer without calling the model.
func (g *Generator) Answer(ctx context.Context, orgID uuid.UUID,
	question string, matches []vecstore.Match) (*Answer, error) {
	sources := g.selectSources(matches)
	if len(sources) == 0 {
		return &Answer{
			Text: "No relevant documents were found for this question.",
		}, nil
	}

	var b strings.Builder
	for _, src := range sources {
		if src.Title != "" {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", src.Ref, src.Title, src.Content)
		} else {
			fmt.Fprintf(&b, "[%d]\n%s\n\n", src.Ref, src.Content)
		}
	}
	prompt := fmt.Sprintf("Context:\n%s\nQuestion: %s", b.String(), question)

	start := time.Now()
	resp, err := genkit.Generate(ctx, g.g,
		ai.WithModelName(g.modelName),
		ai.WithSystem(answerSystemPrompt),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	text := strings.TrimSpace(resp.Text())

	if g.ledger != nil {
		spent := int64(chunk.CountTokens(prompt) + chunk.CountTokens(text))
		if err := g.ledger.Record(ctx, orgID, UsageKindGeneration, spent); err != nil {
			g.logger.Error("recording generation usage", "org_id", orgID, "error", err)
		}
	}

	g.logger.Debug("generated answer",
		"org_id", orgID,
		"sources", len(sources),
		"elapsed", time.Since(start))
	return &Answer{Text: text, Sources: sources}, nil
}

// selectSources numbers matches in similarity order and stops once the
// context token budget is spent. At least one source always fits.
func (g *Generator) selectSources(matches []vecstore.Match) []Source {
	var (
		sources []Source
		total   int
	)
	for _, m := range matches {
		if len(sources) > 0 && total+m.TokenCount > g.maxContextTokens {
			break
		}
		title, _ := m.Metadata["title"].(string)
		sources = append(sources, Source{
			Ref:        len(sources) + 1,
			ChunkID:    m.ChunkID,
			DocumentID: m.DocumentID,
			Title:      title,
			Content:    m.Content,
			Similarity: m.Similarity,
		})
		total += m.TokenCount
	}
	return sources
}
