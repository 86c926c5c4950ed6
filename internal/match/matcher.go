// Package match scores member pairs for introduction quality. An LLM
// compares the two profiles and returns a 0-100 score with a rationale
// and per-dimension breakdown; each pair is stored once in canonical
// order.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/mosaichq/mosaic/internal/llmjson"
	"github.com/mosaichq/mosaic/internal/profile"
)

// MemberGetter loads members, satisfied by *profile.Store.
type MemberGetter interface {
	Get(ctx context.Context, orgID, memberID uuid.UUID) (*profile.Member, error)
}

// MatchStore persists scores, satisfied by *Store.
type MatchStore interface {
	Upsert(ctx context.Context, orgID, memberA, memberB uuid.UUID,
		score int, rationale string, dimensions map[string]float64) (*Match, error)
}

const scoreSystemPrompt = `You assess how valuable an introduction between two
professionals would be, based on their profiles.
Score 0-100: complementary goals, shared interests, mentoring potential and
mutual usefulness all raise the score; near-identical profiles with nothing
to exchange do not.
Respond with JSON only:
{"score": <0-100>, "rationale": "<2-3 sentences>", "dimensions": {"<facet>": <0-100>, ...}}`

// Matcher computes pair scores.
type Matcher struct {
	members   MemberGetter
	store     MatchStore
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(members MemberGetter, store MatchStore, g *genkit.Genkit,
	modelName string, logger *slog.Logger) (*Matcher, error) {
	if members == nil || store == nil {
		return nil, fmt.Errorf("members and store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		members:   members,
		store:     store,
		g:         g,
		modelName: modelName,
		logger:    logger,
	}, nil
}

// Compute scores the pair and stores the result.
func (m *Matcher) Compute(ctx context.Context, orgID, memberA, memberB uuid.UUID) (*Match, error) {
	if memberA == memberB {
		return nil, fmt.Errorf("cannot match a member with themselves")
	}

	a, err := m.members.Get(ctx, orgID, memberA)
	if err != nil {
		return nil, err
	}
	b, err := m.members.Get(ctx, orgID, memberB)
	if err != nil {
		return nil, err
	}

	resp, err := genkit.Generate(ctx, m.g,
		ai.WithModelName(m.modelName),
		ai.WithSystem(scoreSystemPrompt),
		ai.WithPrompt("Member A:\n%s\n\nMember B:\n%s", describeMember(a), describeMember(b)),
	)
	if err != nil {
		return nil, fmt.Errorf("scoring pair: %w", err)
	}

	score, rationale, dimensions, err := parseScore(resp.Text())
	if err != nil {
		return nil, err
	}

	stored, err := m.store.Upsert(ctx, orgID, memberA, memberB, score, rationale, dimensions)
	if err != nil {
		return nil, err
	}

	m.logger.Info("computed match",
		"org_id", orgID,
		"member_a", stored.MemberA,
		"member_b", stored.MemberB,
		"score", stored.Score)
	return stored, nil
}

type scorePayload struct {
	Score      float64            `json:"score"`
	Rationale  string             `json:"rationale"`
	Dimensions map[string]float64 `json:"dimensions"`
}

// parseScore decodes a scoring response, clamping the score and every
// dimension to [0, 100].
func parseScore(text string) (int, string, map[string]float64, error) {
	var payload scorePayload
	if err := llmjson.Decode(text, &payload); err != nil {
		return 0, "", nil, err
	}

	score := clamp(payload.Score)
	for k, v := range payload.Dimensions {
		payload.Dimensions[k] = float64(clamp(v))
	}
	return score, strings.TrimSpace(payload.Rationale), payload.Dimensions, nil
}

func clamp(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

// describeMember renders a member's profile for the scoring prompt.
func describeMember(m *profile.Member) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", m.Name)
	if m.Headline != "" {
		fmt.Fprintf(&b, "Headline: %s\n", m.Headline)
	}
	if len(m.Profile) > 0 {
		if encoded, err := json.Marshal(m.Profile); err == nil {
			fmt.Fprintf(&b, "Profile: %s\n", encoded)
		}
	}
	if len(m.Enrichment) > 0 {
		if encoded, err := json.Marshal(m.Enrichment); err == nil {
			fmt.Fprintf(&b, "Public page: %s\n", encoded)
		}
	}
	return b.String()
}
