package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/mosaichq/mosaic/internal/rag"
)

const synthesisSystemPrompt = `You combine two partial answers into one response.
One comes from the organization's documents, one from its database.
Keep citation markers like [1] intact. Do not invent facts beyond the inputs.`

// SynthesisAgent merges a document-grounded answer and a data result into
// a single response.
type SynthesisAgent struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewSynthesisAgent creates a SynthesisAgent.
func NewSynthesisAgent(g *genkit.Genkit, modelName string, logger *slog.Logger) *SynthesisAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &SynthesisAgent{g: g, modelName: modelName, logger: logger}
}

// Synthesize produces the final answer text. With only one input present
// it passes that through unchanged; with both it asks the model to merge
// them, degrading to simple concatenation if the call fails.
func (s *SynthesisAgent) Synthesize(ctx context.Context, question string,
	docAnswer *rag.Answer, data *DataResult) (string, error) {
	switch {
	case docAnswer == nil && data == nil:
		return "", fmt.Errorf("nothing to synthesize")
	case data == nil:
		return docAnswer.Text, nil
	case docAnswer == nil:
		return data.Summary, nil
	}

	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.modelName),
		ai.WithSystem(synthesisSystemPrompt),
		ai.WithPrompt("Question: %s\n\nFrom documents:\n%s\n\nFrom data (%s):\n%s",
			question, docAnswer.Text, data.Plan, data.Summary),
	)
	if err != nil {
		s.logger.Warn("synthesis failed, concatenating answers", "error", err)
		return concatenate(docAnswer.Text, data.Summary), nil
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return concatenate(docAnswer.Text, data.Summary), nil
	}
	return text, nil
}

func concatenate(docText, dataText string) string {
	return docText + "\n\n" + dataText
}
