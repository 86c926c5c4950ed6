// Package onboard runs the member onboarding questionnaire: a fixed set of
// seed questions, optional LLM follow-ups, and a profile built from the
// transcript when the session completes.
package onboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/mosaichq/mosaic/internal/llmjson"
)

// MaxQuestions caps a session's length, seed questions included.
const MaxQuestions = 8

// Question is one prompt shown to the member. Dimension names the profile
// facet the answer feeds.
type Question struct {
	Text      string `json:"text"`
	Dimension string `json:"dimension"`
}

// seedQuestions open every session, in order.
var seedQuestions = []Question{
	{Text: "What do you work on day to day, and what is your current role?", Dimension: "role"},
	{Text: "What are you hoping to get out of this community in the next year?", Dimension: "goals"},
	{Text: "Which topics could you comfortably teach or mentor someone in?", Dimension: "expertise"},
	{Text: "What skills or subjects are you actively trying to learn right now?", Dimension: "interests"},
	{Text: "How do you prefer to collaborate: pairing, async writing, calls, something else?", Dimension: "workstyle"},
}

// SessionStore is the persistence the agent needs, satisfied by *Store.
type SessionStore interface {
	CreateSession(ctx context.Context, memberID uuid.UUID) (*Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	Transcript(ctx context.Context, sessionID uuid.UUID) ([]QA, error)
	AppendQuestion(ctx context.Context, sessionID uuid.UUID, question, dimension string) (int, error)
	AnswerPending(ctx context.Context, sessionID uuid.UUID, answer string) (*QA, error)
	CompleteSession(ctx context.Context, sessionID uuid.UUID, profile map[string]any) (*Session, error)
	SetMemberProfile(ctx context.Context, memberID uuid.UUID, profile map[string]any) error
}

// Agent drives onboarding sessions.
type Agent struct {
	store     SessionStore
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewAgent creates an Agent. A nil genkit instance disables LLM follow-up
// questions and profile summaries; sessions then run on seed questions and
// the heuristic profile alone.
func NewAgent(store SessionStore, g *genkit.Genkit, modelName string, logger *slog.Logger) (*Agent, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: store, g: g, modelName: modelName, logger: logger}, nil
}

// Start opens a session and asks the first seed question.
func (a *Agent) Start(ctx context.Context, memberID uuid.UUID) (*Session, *Question, error) {
	sess, err := a.store.CreateSession(ctx, memberID)
	if err != nil {
		return nil, nil, err
	}
	first := seedQuestions[0]
	if _, err := a.store.AppendQuestion(ctx, sess.ID, first.Text, first.Dimension); err != nil {
		return nil, nil, err
	}
	return sess, &first, nil
}

// Submit records the answer to the pending question and returns the next
// one. When the questionnaire is finished it completes the session instead
// and returns it with a nil question.
func (a *Agent) Submit(ctx context.Context, sessionID uuid.UUID, answer string) (*Question, *Session, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, nil, fmt.Errorf("answer is required")
	}

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status == SessionCompleted {
		return nil, nil, ErrSessionCompleted
	}

	answered, err := a.store.AnswerPending(ctx, sessionID, answer)
	if err != nil {
		return nil, nil, err
	}

	next := a.nextQuestion(ctx, sessionID, answered.Position+1)
	if next == nil {
		done, err := a.Complete(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		return nil, done, nil
	}

	if _, err := a.store.AppendQuestion(ctx, sessionID, next.Text, next.Dimension); err != nil {
		return nil, nil, err
	}
	return next, nil, nil
}

// Complete builds the profile from the transcript, closes the session and
// copies the profile onto the member.
func (a *Agent) Complete(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == SessionCompleted {
		return nil, ErrSessionCompleted
	}

	transcript, err := a.store.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	profile := a.buildProfile(ctx, transcript)
	done, err := a.store.CompleteSession(ctx, sessionID, profile)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetMemberProfile(ctx, done.MemberID, profile); err != nil {
		return nil, err
	}

	a.logger.Info("onboarding completed",
		"session_id", sessionID,
		"member_id", done.MemberID,
		"questions", len(transcript))
	return done, nil
}

// nextQuestion decides what to ask after `answered` questions: the next
// seed question, an LLM follow-up, or nothing when the session is full.
func (a *Agent) nextQuestion(ctx context.Context, sessionID uuid.UUID, answered int) *Question {
	if answered < len(seedQuestions) {
		q := seedQuestions[answered]
		return &q
	}
	if answered >= MaxQuestions || a.g == nil {
		return nil
	}

	transcript, err := a.store.Transcript(ctx, sessionID)
	if err != nil {
		a.logger.Warn("loading transcript for follow-up", "error", err)
		return nil
	}
	return a.followUp(ctx, transcript)
}

const followUpSystemPrompt = `You run an onboarding interview for a professional community.
Given the transcript, ask ONE specific follow-up question that would
sharpen the member's profile for matching them with peers.
Respond with JSON only: {"question": "<text>", "dimension": "<facet name>"}.
If the transcript already covers everything useful, respond {"question": "", "dimension": ""}.`

// followUp asks the model for one more question. Any failure ends the
// questionnaire rather than blocking it.
func (a *Agent) followUp(ctx context.Context, transcript []QA) *Question {
	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithSystem(followUpSystemPrompt),
		ai.WithPrompt(formatTranscript(transcript)),
	)
	if err != nil {
		a.logger.Warn("follow-up generation failed, finishing session", "error", err)
		return nil
	}

	var q Question
	if err := llmjson.Decode(resp.Text(), &q); err != nil {
		a.logger.Warn("unparseable follow-up, finishing session", "error", err)
		return nil
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil
	}
	if q.Dimension == "" {
		q.Dimension = "other"
	}
	return &q
}

const profileSystemPrompt = `You summarize onboarding answers into a member profile.
Respond with JSON only, using the answer dimensions as keys plus a "summary"
key holding two or three sentences about the member.`

// buildProfile turns the transcript into a profile document. The heuristic
// path groups answers by dimension; the LLM path adds a prose summary.
func (a *Agent) buildProfile(ctx context.Context, transcript []QA) map[string]any {
	profile := heuristicProfile(transcript)
	if a.g == nil || len(transcript) == 0 {
		return profile
	}

	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithSystem(profileSystemPrompt),
		ai.WithPrompt(formatTranscript(transcript)),
	)
	if err != nil {
		a.logger.Warn("profile generation failed, using heuristic profile", "error", err)
		return profile
	}

	var generated map[string]any
	if err := llmjson.Decode(resp.Text(), &generated); err != nil || len(generated) == 0 {
		a.logger.Warn("unparseable profile, using heuristic profile", "error", err)
		return profile
	}
	return generated
}

// heuristicProfile maps each dimension to its concatenated answers.
func heuristicProfile(transcript []QA) map[string]any {
	profile := map[string]any{}
	for _, qa := range transcript {
		if qa.Answer == "" {
			continue
		}
		dim := qa.Dimension
		if dim == "" {
			dim = "other"
		}
		if existing, ok := profile[dim].(string); ok {
			profile[dim] = existing + " " + qa.Answer
		} else {
			profile[dim] = qa.Answer
		}
	}
	return profile
}

func formatTranscript(transcript []QA) string {
	var b strings.Builder
	for _, qa := range transcript {
		if qa.Answer == "" {
			continue
		}
		fmt.Fprintf(&b, "Q (%s): %s\nA: %s\n\n", qa.Dimension, qa.Question, qa.Answer)
	}
	return b.String()
}
