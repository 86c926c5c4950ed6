package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mosaichq/mosaic/internal/llmjson"
	"github.com/mosaichq/mosaic/internal/rag"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

// Route says which agents handle a question.
type Route string

const (
	// RouteDocuments answers from the document index alone.
	RouteDocuments Route = "documents"
	// RouteData answers from relational data alone.
	RouteData Route = "data"
	// RouteHybrid runs both and synthesizes.
	RouteHybrid Route = "hybrid"
)

func validRoute(r Route) bool {
	return r == RouteDocuments || r == RouteData || r == RouteHybrid
}

// DocumentAnswerer is the retrieval side, satisfied by *rag.Pipeline.
type DocumentAnswerer interface {
	Query(ctx context.Context, orgID uuid.UUID, question string,
		opts ...vecstore.SearchOption) (*rag.Answer, error)
}

// DataAnswerer is the relational side, satisfied by *DataQueryAgent.
type DataAnswerer interface {
	Answer(ctx context.Context, orgID uuid.UUID, question string) (*DataResult, error)
}

// Synthesizer merges partial answers, satisfied by *SynthesisAgent.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string,
		docAnswer *rag.Answer, data *DataResult) (string, error)
}

// Response is the orchestrator's final answer.
type Response struct {
	Route   Route        `json:"route"`
	Answer  string       `json:"answer"`
	Sources []rag.Source `json:"sources,omitempty"`
	Data    *DataResult  `json:"data,omitempty"`
}

// Orchestrator routes a question to the right agents and assembles the
// response.
type Orchestrator struct {
	g         *genkit.Genkit
	modelName string
	docs      DocumentAnswerer
	data      DataAnswerer
	synth     Synthesizer
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(g *genkit.Genkit, modelName string, docs DocumentAnswerer,
	data DataAnswerer, synth Synthesizer, logger *slog.Logger) (*Orchestrator, error) {
	if docs == nil || data == nil || synth == nil {
		return nil, fmt.Errorf("docs, data and synth agents are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		g:         g,
		modelName: modelName,
		docs:      docs,
		data:      data,
		synth:     synth,
		logger:    logger,
	}, nil
}

// Ask answers a question, choosing between document retrieval, relational
// data, or both. Search options apply to the retrieval side only.
func (o *Orchestrator) Ask(ctx context.Context, orgID uuid.UUID, question string,
	opts ...vecstore.SearchOption) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	route := o.route(ctx, question)
	o.logger.Debug("routed question", "org_id", orgID, "route", route)

	switch route {
	case RouteDocuments:
		answer, err := o.docs.Query(ctx, orgID, question, opts...)
		if err != nil {
			return nil, err
		}
		return &Response{Route: route, Answer: answer.Text, Sources: answer.Sources}, nil

	case RouteData:
		data, err := o.data.Answer(ctx, orgID, question)
		if err != nil {
			return nil, err
		}
		return &Response{Route: route, Answer: data.Summary, Data: data}, nil

	default:
		return o.askHybrid(ctx, orgID, question, opts...)
	}
}

// askHybrid fans out to both agents concurrently and synthesizes whatever
// came back. It fails only when both branches fail.
func (o *Orchestrator) askHybrid(ctx context.Context, orgID uuid.UUID, question string,
	opts ...vecstore.SearchOption) (*Response, error) {
	var (
		docAnswer *rag.Answer
		docErr    error
		data      *DataResult
		dataErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docAnswer, docErr = o.docs.Query(gctx, orgID, question, opts...)
		return nil
	})
	g.Go(func() error {
		data, dataErr = o.data.Answer(gctx, orgID, question)
		return nil
	})
	// Branch errors are held, not returned, so one failing agent does not
	// cancel the other.
	_ = g.Wait()

	if docErr != nil && dataErr != nil {
		return nil, fmt.Errorf("both agents failed: %w", errors.Join(docErr, dataErr))
	}
	if docErr != nil {
		o.logger.Warn("document agent failed, answering from data only", "error", docErr)
		docAnswer = nil
	}
	if dataErr != nil {
		o.logger.Warn("data agent failed, answering from documents only", "error", dataErr)
		data = nil
	}

	text, err := o.synth.Synthesize(ctx, question, docAnswer, data)
	if err != nil {
		return nil, err
	}

	resp := &Response{Route: RouteHybrid, Answer: text, Data: data}
	if docAnswer != nil {
		resp.Sources = docAnswer.Sources
	}
	return resp, nil
}

const routeSystemPrompt = `You route a question to the right backend.
"documents": answerable from the organization's uploaded documents.
"data": asks about counts, lists, usage, statistics or member matches.
"hybrid": needs both.
Respond with JSON only: {"route": "<documents|data|hybrid>"}.`

type routeSelection struct {
	Route Route `json:"route"`
}

// route classifies the question, falling back to keywords when the model
// is unavailable or answers out of vocabulary.
func (o *Orchestrator) route(ctx context.Context, question string) Route {
	if o.g == nil {
		return heuristicRoute(question)
	}

	resp, err := genkit.Generate(ctx, o.g,
		ai.WithModelName(o.modelName),
		ai.WithSystem(routeSystemPrompt),
		ai.WithPrompt(question),
	)
	if err != nil {
		o.logger.Warn("routing failed, using heuristic", "error", err)
		return heuristicRoute(question)
	}

	var sel routeSelection
	if err := llmjson.Decode(resp.Text(), &sel); err != nil || !validRoute(sel.Route) {
		o.logger.Warn("unparseable route, using heuristic", "raw", llmjson.Truncate(resp.Text(), 80))
		return heuristicRoute(question)
	}
	return sel.Route
}

// dataKeywords mark questions about counts, lists and usage.
var dataKeywords = []string{
	"how many", "count", "number of", "list", "usage",
	"token", "budget", "statistic", "match", "recent",
}

// heuristicRoute picks a route by keyword.
func heuristicRoute(question string) Route {
	q := strings.ToLower(question)
	for _, kw := range dataKeywords {
		if strings.Contains(q, kw) {
			return RouteData
		}
	}
	return RouteDocuments
}
