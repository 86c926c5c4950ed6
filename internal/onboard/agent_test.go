package onboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaichq/mosaic/internal/log"
)

// memSessions is an in-memory SessionStore.
type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	answers  map[uuid.UUID][]QA
	profiles map[uuid.UUID]map[string]any
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: map[uuid.UUID]*Session{},
		answers:  map[uuid.UUID][]QA{},
		profiles: map[uuid.UUID]map[string]any{},
	}
}

func (m *memSessions) CreateSession(_ context.Context, memberID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := &Session{ID: uuid.New(), MemberID: memberID, Status: SessionActive, CreatedAt: time.Now()}
	m.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (m *memSessions) GetSession(_ context.Context, sessionID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (m *memSessions) Transcript(_ context.Context, sessionID uuid.UUID) ([]QA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QA(nil), m.answers[sessionID]...), nil
}

func (m *memSessions) AppendQuestion(_ context.Context, sessionID uuid.UUID, question, dimension string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	position := len(m.answers[sessionID])
	m.answers[sessionID] = append(m.answers[sessionID], QA{
		Position: position, Question: question, Dimension: dimension,
	})
	return position, nil
}

func (m *memSessions) AnswerPending(_ context.Context, sessionID uuid.UUID, answer string) (*QA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.answers[sessionID] {
		if m.answers[sessionID][i].Answer == "" {
			m.answers[sessionID][i].Answer = answer
			qa := m.answers[sessionID][i]
			return &qa, nil
		}
	}
	return nil, ErrNoPendingQuestion
}

func (m *memSessions) CompleteSession(_ context.Context, sessionID uuid.UUID, profile map[string]any) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := time.Now()
	sess.Status = SessionCompleted
	sess.Profile = profile
	sess.CompletedAt = &now
	return cloneSession(sess), nil
}

func (m *memSessions) SetMemberProfile(_ context.Context, memberID uuid.UUID, profile map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[memberID] = profile
	return nil
}

func cloneSession(s *Session) *Session {
	c := *s
	return &c
}

func newTestAgent(t *testing.T) (*Agent, *memSessions) {
	t.Helper()
	store := newMemSessions()
	agent, err := NewAgent(store, nil, "", log.NewNop())
	require.NoError(t, err)
	return agent, store
}

func TestStart(t *testing.T) {
	agent, store := newTestAgent(t)

	sess, q, err := agent.Start(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, SessionActive, sess.Status)
	require.NotNil(t, q)
	assert.Equal(t, seedQuestions[0], *q)

	transcript, _ := store.Transcript(context.Background(), sess.ID)
	require.Len(t, transcript, 1)
	assert.Empty(t, transcript[0].Answer)
}

func TestSubmit_WalksSeedQuestions(t *testing.T) {
	agent, _ := newTestAgent(t)
	ctx := context.Background()

	sess, _, err := agent.Start(ctx, uuid.New())
	require.NoError(t, err)

	for i := 1; i < len(seedQuestions); i++ {
		next, done, err := agent.Submit(ctx, sess.ID, fmt.Sprintf("answer %d", i))
		require.NoError(t, err)
		require.Nil(t, done)
		require.NotNil(t, next)
		assert.Equal(t, seedQuestions[i], *next)
	}
}

func TestSubmit_CompletesAfterSeeds(t *testing.T) {
	agent, store := newTestAgent(t)
	ctx := context.Background()
	memberID := uuid.New()

	sess, _, err := agent.Start(ctx, memberID)
	require.NoError(t, err)

	var done *Session
	for i := range seedQuestions {
		var next *Question
		next, done, err = agent.Submit(ctx, sess.ID, fmt.Sprintf("answer %d", i))
		require.NoError(t, err)
		if i < len(seedQuestions)-1 {
			require.NotNil(t, next)
		}
	}

	// No genkit instance, so the session completes right after the seeds.
	require.NotNil(t, done)
	assert.Equal(t, SessionCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "answer 0", done.Profile["role"])
	assert.Equal(t, "answer 4", done.Profile["workstyle"])

	// Profile copied onto the member.
	assert.Equal(t, done.Profile, store.profiles[memberID])
}

func TestSubmit_EmptyAnswer(t *testing.T) {
	agent, _ := newTestAgent(t)
	sess, _, err := agent.Start(context.Background(), uuid.New())
	require.NoError(t, err)

	_, _, err = agent.Submit(context.Background(), sess.ID, "   ")
	assert.Error(t, err)
}

func TestSubmit_CompletedSession(t *testing.T) {
	agent, _ := newTestAgent(t)
	ctx := context.Background()

	sess, _, err := agent.Start(ctx, uuid.New())
	require.NoError(t, err)
	for i := range seedQuestions {
		_, _, err = agent.Submit(ctx, sess.ID, fmt.Sprintf("a%d", i))
		require.NoError(t, err)
	}

	_, _, err = agent.Submit(ctx, sess.ID, "one more")
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestSubmit_UnknownSession(t *testing.T) {
	agent, _ := newTestAgent(t)
	_, _, err := agent.Submit(context.Background(), uuid.New(), "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestComplete_Early(t *testing.T) {
	agent, _ := newTestAgent(t)
	ctx := context.Background()

	sess, _, err := agent.Start(ctx, uuid.New())
	require.NoError(t, err)
	_, _, err = agent.Submit(ctx, sess.ID, "I build data pipelines")
	require.NoError(t, err)

	done, err := agent.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, done.Status)
	assert.Equal(t, "I build data pipelines", done.Profile["role"])

	_, err = agent.Complete(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestHeuristicProfile(t *testing.T) {
	profile := heuristicProfile([]QA{
		{Dimension: "role", Answer: "engineer"},
		{Dimension: "goals", Answer: "find a mentor"},
		{Dimension: "goals", Answer: "ship more"},
		{Dimension: "", Answer: "misc"},
		{Dimension: "pending", Answer: ""},
	})

	assert.Equal(t, "engineer", profile["role"])
	assert.Equal(t, "find a mentor ship more", profile["goals"])
	assert.Equal(t, "misc", profile["other"])
	assert.NotContains(t, profile, "pending")
}

func TestFormatTranscript(t *testing.T) {
	out := formatTranscript([]QA{
		{Dimension: "role", Question: "What do you do?", Answer: "I write Go"},
		{Dimension: "goals", Question: "Unanswered?", Answer: ""},
	})
	assert.Contains(t, out, "Q (role): What do you do?")
	assert.Contains(t, out, "A: I write Go")
	assert.NotContains(t, out, "Unanswered?")
}
