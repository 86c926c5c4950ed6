// Package classify assigns documents to a fixed category vocabulary using
// an LLM. Classification is advisory; callers fall back to CategoryOther
// when the model is unavailable rather than failing ingestion.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/mosaichq/mosaic/internal/llmjson"
)

// Category is a document category from the fixed vocabulary.
type Category string

const (
	CategoryPolicy       Category = "policy"
	CategoryReport       Category = "report"
	CategoryMeetingNotes Category = "meeting_notes"
	CategoryMarketing    Category = "marketing"
	CategoryTechnical    Category = "technical"
	CategoryOther        Category = "other"
)

// Categories lists the full vocabulary in prompt order.
var Categories = []Category{
	CategoryPolicy,
	CategoryReport,
	CategoryMeetingNotes,
	CategoryMarketing,
	CategoryTechnical,
	CategoryOther,
}

// Valid reports whether c is in the vocabulary.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Result is a classification with the model's confidence in [0, 1].
type Result struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// maxSampleBytes bounds how much document text goes into the prompt.
const maxSampleBytes = 4000

const systemPrompt = `You classify workplace documents into exactly one category.
Respond with JSON only: {"category": "<name>", "confidence": <0.0-1.0>}.
Valid categories: %s. Use "other" when unsure.`

// Classifier asks an LLM to categorize document text.
type Classifier struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// New creates a Classifier.
func New(g *genkit.Genkit, modelName string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{g: g, modelName: modelName, logger: logger}
}

// Classify categorizes a document from its title and a text sample.
// An unparseable or out-of-vocabulary answer degrades to CategoryOther
// with zero confidence instead of returning an error; only transport
// failures surface to the caller.
func (c *Classifier) Classify(ctx context.Context, title, text string) (Result, error) {
	sample := text
	if len(sample) > maxSampleBytes {
		sample = sample[:maxSampleBytes]
	}

	names := make([]string, len(Categories))
	for i, cat := range Categories {
		names[i] = string(cat)
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithSystem(fmt.Sprintf(systemPrompt, strings.Join(names, ", "))),
		ai.WithPrompt("Title: %s\n\nDocument:\n%s", title, sample),
	)
	if err != nil {
		return Result{}, fmt.Errorf("classifying document: %w", err)
	}

	result, perr := parseResult(resp.Text())
	if perr != nil {
		c.logger.Warn("unusable classification, using other", "error", perr)
		return Result{Category: CategoryOther}, nil
	}
	return result, nil
}

// parseResult decodes and validates a model answer. Out-of-vocabulary
// categories are rejected; confidence is clamped to [0, 1].
func parseResult(text string) (Result, error) {
	var result Result
	if err := llmjson.Decode(text, &result); err != nil {
		return Result{}, err
	}
	if !result.Category.Valid() {
		return Result{}, fmt.Errorf("unknown category %q", result.Category)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}
