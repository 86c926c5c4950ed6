// Package agents coordinates LLM agents over the document index and the
// relational data: a data-query agent that answers from named query plans,
// a synthesis agent that merges partial answers, and an orchestrator that
// routes questions between them.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mosaichq/mosaic/internal/llmjson"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueryPlan names one pre-approved query. The agent only ever executes
// plans from the catalog; the model picks a name, never writes SQL.
type QueryPlan string

const (
	PlanMemberCount         QueryPlan = "member_count"
	PlanRecentMembers       QueryPlan = "recent_members"
	PlanDocumentsByCategory QueryPlan = "documents_by_category"
	PlanDocumentsByStatus   QueryPlan = "documents_by_status"
	PlanRecentDocuments     QueryPlan = "recent_documents"
	PlanTokenUsage          QueryPlan = "token_usage"
	PlanTopMatches          QueryPlan = "top_matches"
)

type planSpec struct {
	name        QueryPlan
	description string
	sql         string
}

// planCatalog is every query the data agent may run. All plans are scoped
// by organization in their first parameter.
var planCatalog = []planSpec{
	{
		name:        PlanMemberCount,
		description: "total number of members in the organization",
		sql:         `SELECT COUNT(*) AS members FROM members WHERE org_id = $1`,
	},
	{
		name:        PlanRecentMembers,
		description: "the ten most recently added members with name, email and headline",
		sql: `SELECT name, email, COALESCE(headline, '') AS headline
			FROM members WHERE org_id = $1
			ORDER BY created_at DESC LIMIT 10`,
	},
	{
		name:        PlanDocumentsByCategory,
		description: "document counts grouped by category",
		sql: `SELECT category, COUNT(*) AS documents
			FROM documents WHERE org_id = $1
			GROUP BY category ORDER BY documents DESC`,
	},
	{
		name:        PlanDocumentsByStatus,
		description: "document counts grouped by ingestion status",
		sql: `SELECT status, COUNT(*) AS documents
			FROM documents WHERE org_id = $1
			GROUP BY status ORDER BY documents DESC`,
	},
	{
		name:        PlanRecentDocuments,
		description: "the ten most recently uploaded documents with title, category and status",
		sql: `SELECT title, category, status, created_at
			FROM documents WHERE org_id = $1
			ORDER BY created_at DESC LIMIT 10`,
	},
	{
		name:        PlanTokenUsage,
		description: "tokens consumed this month grouped by kind (embedding, generation)",
		sql: `SELECT kind, SUM(tokens) AS tokens
			FROM usage_ledger
			WHERE org_id = $1 AND recorded_at >= date_trunc('month', now())
			GROUP BY kind ORDER BY tokens DESC`,
	},
	{
		name:        PlanTopMatches,
		description: "the ten highest scored member matches with both names",
		sql: `SELECT ma.name AS member_a, mb.name AS member_b, m.score
			FROM matches m
			JOIN members ma ON ma.id = m.member_a
			JOIN members mb ON mb.id = m.member_b
			WHERE m.org_id = $1
			ORDER BY m.score DESC LIMIT 10`,
	},
}

func planByName(name string) (planSpec, bool) {
	for _, p := range planCatalog {
		if string(p.name) == name {
			return p, true
		}
	}
	return planSpec{}, false
}

// DataResult is the outcome of one plan execution.
type DataResult struct {
	Plan    QueryPlan        `json:"plan"`
	Rows    []map[string]any `json:"rows"`
	Summary string           `json:"summary"`
}

// maxSummaryRows bounds how many rows are rendered into the text summary.
const maxSummaryRows = 20

// DataQueryAgent answers questions from relational data by selecting and
// running a catalog plan.
type DataQueryAgent struct {
	db        querier
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewDataQueryAgent creates a DataQueryAgent.
func NewDataQueryAgent(db querier, g *genkit.Genkit, modelName string, logger *slog.Logger) *DataQueryAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataQueryAgent{db: db, g: g, modelName: modelName, logger: logger}
}

type planSelection struct {
	Plan string `json:"plan"`
}

// Answer selects a plan for the question and executes it. When the model
// cannot be reached or returns garbage, a keyword heuristic picks the plan
// instead.
func (a *DataQueryAgent) Answer(ctx context.Context, orgID uuid.UUID, question string) (*DataResult, error) {
	plan := a.selectPlan(ctx, question)
	return a.Execute(ctx, orgID, plan)
}

// Execute runs one catalog plan for the organization.
func (a *DataQueryAgent) Execute(ctx context.Context, orgID uuid.UUID, plan QueryPlan) (*DataResult, error) {
	spec, ok := planByName(string(plan))
	if !ok {
		return nil, fmt.Errorf("unknown query plan %q", plan)
	}

	rows, err := a.db.Query(ctx, spec.sql, orgID)
	if err != nil {
		return nil, fmt.Errorf("executing plan %s: %w", plan, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading plan %s row: %w", plan, err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plan %s rows: %w", plan, err)
	}

	return &DataResult{
		Plan:    plan,
		Rows:    result,
		Summary: summarizeRows(fields, result),
	}, nil
}

const planSystemPrompt = `You map a question to one named query plan.
Respond with JSON only: {"plan": "<name>"}.
Available plans:
%s`

// selectPlan asks the model to pick a plan, falling back to keywords.
func (a *DataQueryAgent) selectPlan(ctx context.Context, question string) QueryPlan {
	if a.g == nil {
		return heuristicPlan(question)
	}

	var catalog strings.Builder
	for _, p := range planCatalog {
		fmt.Fprintf(&catalog, "- %s: %s\n", p.name, p.description)
	}

	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithSystem(fmt.Sprintf(planSystemPrompt, catalog.String())),
		ai.WithPrompt(question),
	)
	if err != nil {
		a.logger.Warn("plan selection failed, using heuristic", "error", err)
		return heuristicPlan(question)
	}

	var sel planSelection
	if err := llmjson.Decode(resp.Text(), &sel); err != nil {
		a.logger.Warn("unparseable plan selection, using heuristic", "error", err)
		return heuristicPlan(question)
	}
	if _, ok := planByName(sel.Plan); !ok {
		a.logger.Warn("unknown plan selected, using heuristic", "plan", sel.Plan)
		return heuristicPlan(question)
	}
	return QueryPlan(sel.Plan)
}

// heuristicPlan picks a plan by keyword when the model is unavailable.
func heuristicPlan(question string) QueryPlan {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "token") || strings.Contains(q, "usage") || strings.Contains(q, "budget"):
		return PlanTokenUsage
	case strings.Contains(q, "match"):
		return PlanTopMatches
	case strings.Contains(q, "categor"):
		return PlanDocumentsByCategory
	case strings.Contains(q, "status") || strings.Contains(q, "failed") || strings.Contains(q, "pending"):
		return PlanDocumentsByStatus
	case strings.Contains(q, "document") || strings.Contains(q, "upload"):
		return PlanRecentDocuments
	case strings.Contains(q, "how many") || strings.Contains(q, "count") || strings.Contains(q, "number of"):
		return PlanMemberCount
	default:
		return PlanRecentMembers
	}
}

// summarizeRows renders rows as "col: value" lines for prompt context.
func summarizeRows(fields []pgconn.FieldDescription, rows []map[string]any) string {
	if len(rows) == 0 {
		return "no rows"
	}
	var b strings.Builder
	for i, row := range rows {
		if i >= maxSummaryRows {
			fmt.Fprintf(&b, "... and %d more rows\n", len(rows)-maxSummaryRows)
			break
		}
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, fmt.Sprintf("%s: %v", f.Name, row[f.Name]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
