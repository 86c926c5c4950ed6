package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaichq/mosaic/internal/log"
	"github.com/mosaichq/mosaic/internal/rag"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

type fakeDocs struct {
	answer *rag.Answer
	err    error
}

func (f *fakeDocs) Query(_ context.Context, _ uuid.UUID, _ string,
	_ ...vecstore.SearchOption) (*rag.Answer, error) {
	return f.answer, f.err
}

type fakeData struct {
	result *DataResult
	err    error
}

func (f *fakeData) Answer(_ context.Context, _ uuid.UUID, _ string) (*DataResult, error) {
	return f.result, f.err
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(_ context.Context, _ string, doc *rag.Answer, data *DataResult) (string, error) {
	switch {
	case doc == nil && data == nil:
		return "", errors.New("nothing to synthesize")
	case data == nil:
		return doc.Text, nil
	case doc == nil:
		return data.Summary, nil
	}
	return doc.Text + " | " + data.Summary, nil
}

func newTestOrchestrator(t *testing.T, docs DocumentAnswerer, data DataAnswerer) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(nil, "", docs, data, fakeSynth{}, log.NewNop())
	require.NoError(t, err)
	return o
}

func TestAsk_RoutesToDocuments(t *testing.T) {
	docs := &fakeDocs{answer: &rag.Answer{
		Text:    "Remote work is allowed three days per week [1].",
		Sources: []rag.Source{{Ref: 1, ChunkID: "c1"}},
	}}
	o := newTestOrchestrator(t, docs, &fakeData{})

	resp, err := o.Ask(context.Background(), uuid.New(), "what does the remote work policy say?")
	require.NoError(t, err)

	assert.Equal(t, RouteDocuments, resp.Route)
	assert.Contains(t, resp.Answer, "Remote work")
	assert.Len(t, resp.Sources, 1)
	assert.Nil(t, resp.Data)
}

func TestAsk_RoutesToData(t *testing.T) {
	data := &fakeData{result: &DataResult{Plan: PlanMemberCount, Summary: "members: 42"}}
	o := newTestOrchestrator(t, &fakeDocs{}, data)

	resp, err := o.Ask(context.Background(), uuid.New(), "how many members do we have?")
	require.NoError(t, err)

	assert.Equal(t, RouteData, resp.Route)
	assert.Equal(t, "members: 42", resp.Answer)
	require.NotNil(t, resp.Data)
	assert.Equal(t, PlanMemberCount, resp.Data.Plan)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDocs{}, &fakeData{})
	_, err := o.Ask(context.Background(), uuid.New(), "  ")
	assert.Error(t, err)
}

func TestAskHybrid_SynthesizesBoth(t *testing.T) {
	docs := &fakeDocs{answer: &rag.Answer{Text: "doc answer", Sources: []rag.Source{{Ref: 1}}}}
	data := &fakeData{result: &DataResult{Plan: PlanTokenUsage, Summary: "tokens: 99"}}
	o := newTestOrchestrator(t, docs, data)

	resp, err := o.askHybrid(context.Background(), uuid.New(), "summarize usage and policy")
	require.NoError(t, err)

	assert.Equal(t, RouteHybrid, resp.Route)
	assert.Equal(t, "doc answer | tokens: 99", resp.Answer)
	assert.Len(t, resp.Sources, 1)
	assert.NotNil(t, resp.Data)
}

func TestAskHybrid_OneBranchFailing(t *testing.T) {
	data := &fakeData{result: &DataResult{Plan: PlanTokenUsage, Summary: "tokens: 99"}}
	o := newTestOrchestrator(t, &fakeDocs{err: errors.New("index down")}, data)

	resp, err := o.askHybrid(context.Background(), uuid.New(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "tokens: 99", resp.Answer)
	assert.Empty(t, resp.Sources)

	docs := &fakeDocs{answer: &rag.Answer{Text: "doc answer"}}
	o = newTestOrchestrator(t, docs, &fakeData{err: errors.New("db down")})

	resp, err = o.askHybrid(context.Background(), uuid.New(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "doc answer", resp.Answer)
	assert.Nil(t, resp.Data)
}

func TestAskHybrid_BothBranchesFailing(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakeDocs{err: errors.New("index down")},
		&fakeData{err: errors.New("db down")})

	_, err := o.askHybrid(context.Background(), uuid.New(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both agents failed")
}

func TestHeuristicRoute(t *testing.T) {
	tests := []struct {
		question string
		want     Route
	}{
		{"how many members joined?", RouteData},
		{"show token usage for this month", RouteData},
		{"list recent documents", RouteData},
		{"what is our parental leave policy?", RouteDocuments},
		{"explain the incident response process", RouteDocuments},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, heuristicRoute(tt.question))
		})
	}
}

func TestValidRoute(t *testing.T) {
	assert.True(t, validRoute(RouteDocuments))
	assert.True(t, validRoute(RouteData))
	assert.True(t, validRoute(RouteHybrid))
	assert.False(t, validRoute("sql"))
	assert.False(t, validRoute(""))
}
