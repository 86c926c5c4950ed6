package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaichq/mosaic/internal/agents"
	"github.com/mosaichq/mosaic/internal/extract"
	"github.com/mosaichq/mosaic/internal/log"
	"github.com/mosaichq/mosaic/internal/match"
	"github.com/mosaichq/mosaic/internal/onboard"
	"github.com/mosaichq/mosaic/internal/profile"
	"github.com/mosaichq/mosaic/internal/rag"
	"github.com/mosaichq/mosaic/internal/vecstore"
)

type fakePipeline struct {
	docs      map[uuid.UUID]*rag.Document
	reindexed int
	deleted   int
	ingestErr error
}

func (f *fakePipeline) Ingest(_ context.Context, orgID uuid.UUID, filename string,
	raw []byte, tags []string) (*rag.Document, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	doc := &rag.Document{
		ID:       uuid.New(),
		OrgID:    orgID,
		Title:    filename,
		ByteSize: len(raw),
		Tags:     tags,
		Status:   rag.StatusPending,
	}
	if f.docs == nil {
		f.docs = map[uuid.UUID]*rag.Document{}
	}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakePipeline) Reindex(_ context.Context, _, docID uuid.UUID) error {
	if _, ok := f.docs[docID]; !ok {
		return rag.ErrDocumentNotFound
	}
	f.reindexed++
	return nil
}

func (f *fakePipeline) Delete(_ context.Context, _, docID uuid.UUID) error {
	if _, ok := f.docs[docID]; !ok {
		return rag.ErrDocumentNotFound
	}
	delete(f.docs, docID)
	f.deleted++
	return nil
}

func (f *fakePipeline) Stats(context.Context, uuid.UUID) (vecstore.Stats, error) {
	return vecstore.Stats{Chunks: 12, Documents: int64(len(f.docs)), Tokens: 4800}, nil
}

type fakeDocReader struct {
	pipeline *fakePipeline
}

func (f *fakeDocReader) Get(_ context.Context, orgID, docID uuid.UUID) (*rag.Document, error) {
	doc, ok := f.pipeline.docs[docID]
	if !ok || doc.OrgID != orgID {
		return nil, rag.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeDocReader) List(_ context.Context, orgID uuid.UUID, _ rag.Status) ([]*rag.Document, error) {
	var docs []*rag.Document
	for _, d := range f.pipeline.docs {
		if d.OrgID == orgID {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

type fakeQueryAgent struct {
	lastQuestion string
}

func (f *fakeQueryAgent) Ask(_ context.Context, _ uuid.UUID, question string,
	_ ...vecstore.SearchOption) (*agents.Response, error) {
	f.lastQuestion = question
	return &agents.Response{Route: agents.RouteDocuments, Answer: "from the docs [1]"}, nil
}

type fakeMemberStore struct {
	members map[uuid.UUID]*profile.Member
}

func (f *fakeMemberStore) Create(_ context.Context, orgID uuid.UUID,
	name, email, headline string) (*profile.Member, error) {
	for _, m := range f.members {
		if m.Email == email {
			return nil, profile.ErrDuplicateEmail
		}
	}
	m := &profile.Member{ID: uuid.New(), OrgID: orgID, Name: name, Email: email, Headline: headline}
	if f.members == nil {
		f.members = map[uuid.UUID]*profile.Member{}
	}
	f.members[m.ID] = m
	return m, nil
}

func (f *fakeMemberStore) Get(_ context.Context, orgID, memberID uuid.UUID) (*profile.Member, error) {
	m, ok := f.members[memberID]
	if !ok || m.OrgID != orgID {
		return nil, profile.ErrMemberNotFound
	}
	return m, nil
}

func (f *fakeMemberStore) List(_ context.Context, orgID uuid.UUID) ([]*profile.Member, error) {
	var members []*profile.Member
	for _, m := range f.members {
		if m.OrgID == orgID {
			members = append(members, m)
		}
	}
	return members, nil
}

func (f *fakeMemberStore) Update(_ context.Context, orgID, memberID uuid.UUID,
	name, headline string) (*profile.Member, error) {
	m, err := f.Get(context.Background(), orgID, memberID)
	if err != nil {
		return nil, err
	}
	if name != "" {
		m.Name = name
	}
	if headline != "" {
		m.Headline = headline
	}
	return m, nil
}

func (f *fakeMemberStore) Delete(_ context.Context, orgID, memberID uuid.UUID) error {
	if _, err := f.Get(context.Background(), orgID, memberID); err != nil {
		return err
	}
	delete(f.members, memberID)
	return nil
}

type fakeOnboardAgent struct {
	session *onboard.Session
}

func (f *fakeOnboardAgent) Start(_ context.Context, memberID uuid.UUID) (*onboard.Session, *onboard.Question, error) {
	f.session = &onboard.Session{ID: uuid.New(), MemberID: memberID, Status: onboard.SessionActive}
	return f.session, &onboard.Question{Text: "What is your role?", Dimension: "role"}, nil
}

func (f *fakeOnboardAgent) Submit(_ context.Context, sessionID uuid.UUID, _ string) (*onboard.Question, *onboard.Session, error) {
	if f.session == nil || f.session.ID != sessionID {
		return nil, nil, onboard.ErrSessionNotFound
	}
	return &onboard.Question{Text: "What are your goals?", Dimension: "goals"}, nil, nil
}

func (f *fakeOnboardAgent) Complete(_ context.Context, sessionID uuid.UUID) (*onboard.Session, error) {
	if f.session == nil || f.session.ID != sessionID {
		return nil, onboard.ErrSessionNotFound
	}
	f.session.Status = onboard.SessionCompleted
	return f.session, nil
}

type fakeSessionReader struct {
	agent *fakeOnboardAgent
}

func (f *fakeSessionReader) GetSession(_ context.Context, sessionID uuid.UUID) (*onboard.Session, error) {
	if f.agent.session == nil || f.agent.session.ID != sessionID {
		return nil, onboard.ErrSessionNotFound
	}
	return f.agent.session, nil
}

func (f *fakeSessionReader) Transcript(context.Context, uuid.UUID) ([]onboard.QA, error) {
	return []onboard.QA{{Position: 0, Question: "What is your role?", Dimension: "role"}}, nil
}

type fakeMatchReader struct{ m *match.Match }

func (f *fakeMatchReader) Get(_ context.Context, _, a, b uuid.UUID) (*match.Match, error) {
	if f.m == nil {
		return nil, match.ErrMatchNotFound
	}
	return f.m, nil
}

func (f *fakeMatchReader) ListForMember(context.Context, uuid.UUID, uuid.UUID, int) ([]*match.Match, error) {
	if f.m == nil {
		return nil, nil
	}
	return []*match.Match{f.m}, nil
}

type fakeMatcher struct{ reader *fakeMatchReader }

func (f *fakeMatcher) Compute(_ context.Context, orgID, a, b uuid.UUID) (*match.Match, error) {
	ma, mb := match.OrderPair(a, b)
	f.reader.m = &match.Match{ID: uuid.New(), OrgID: orgID, MemberA: ma, MemberB: mb, Score: 77}
	return f.reader.m, nil
}

type fakeUsageLedger struct{}

func (fakeUsageLedger) Remaining(context.Context, uuid.UUID) (int64, error)    { return 4200, nil }
func (fakeUsageLedger) MonthlyUsage(context.Context, uuid.UUID) (int64, error) { return 800, nil }

type testEnv struct {
	server   *Server
	pipeline *fakePipeline
	members  *fakeMemberStore
	onboard  *fakeOnboardAgent
	query    *fakeQueryAgent
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	pipeline := &fakePipeline{docs: map[uuid.UUID]*rag.Document{}}
	members := &fakeMemberStore{members: map[uuid.UUID]*profile.Member{}}
	oa := &fakeOnboardAgent{}
	qa := &fakeQueryAgent{}
	mr := &fakeMatchReader{}

	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Pipeline:  pipeline,
		Documents: &fakeDocReader{pipeline: pipeline},
		Members:   members,
		Query:     qa,
		Onboard:   oa,
		Sessions:  &fakeSessionReader{agent: oa},
		Matcher:   &fakeMatcher{reader: mr},
		Matches:   mr,
		Ledger:    fakeUsageLedger{},
		IsDev:     true,
		RateBurst: 1000,
	})
	require.NoError(t, err)

	return &testEnv{server: srv, pipeline: pipeline, members: members, onboard: oa, query: qa}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, r)
	return w
}

func TestNewServer_RequiredServices(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.ErrorContains(t, err, "required")

	_, err = NewServer(ServerConfig{
		Pipeline:  &fakePipeline{},
		Documents: &fakeDocReader{pipeline: &fakePipeline{}},
	})
	assert.ErrorContains(t, err, "member store")
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	// No pool configured: readiness degrades to liveness.
	w = env.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	env := newTestServer(t)
	orgID := uuid.New()

	w := env.do(http.MethodGet, "/api/v1/orgs/"+orgID.String()+"/documents", "")
	got := w.Header().Get("X-Request-ID")
	require.NotEmpty(t, got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestRequestID_EchoesValid(t *testing.T) {
	env := newTestServer(t)
	want := uuid.New().String()

	r := httptest.NewRequest(http.MethodGet, "/api/v1/orgs/"+uuid.New().String()+"/documents", nil)
	r.Header.Set("X-Request-ID", want)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, r)

	assert.Equal(t, want, w.Header().Get("X-Request-ID"))
}

func TestRequestID_ReplacesInvalid(t *testing.T) {
	env := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/orgs/"+uuid.New().String()+"/documents", nil)
	r.Header.Set("X-Request-ID", "not-a-valid-uuid")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, r)

	got := w.Header().Get("X-Request-ID")
	assert.NotEqual(t, "not-a-valid-uuid", got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestCORS_Preflight(t *testing.T) {
	pipeline := &fakePipeline{}
	srv, err := NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Pipeline:    pipeline,
		Documents:   &fakeDocReader{pipeline: pipeline},
		Members:     &fakeMemberStore{},
		CORSOrigins: []string{"http://localhost:5173"},
		IsDev:       true,
		RateBurst:   1000,
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/orgs/"+uuid.New().String()+"/documents", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	// Unknown origins get no CORS headers.
	r = httptest.NewRequest(http.MethodOptions, "/api/v1/orgs/"+uuid.New().String()+"/documents", nil)
	r.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	pipeline := &fakePipeline{}
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Pipeline:  pipeline,
		Documents: &fakeDocReader{pipeline: pipeline},
		Members:   &fakeMemberStore{},
		IsDev:     true,
		RateBurst: 2,
	})
	require.NoError(t, err)

	path := "/api/v1/orgs/" + uuid.New().String() + "/documents"
	var last int
	for range 4 {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "203.0.113.9:1234"
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, r)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestUploadDocument_JSON(t *testing.T) {
	env := newTestServer(t)
	orgID := uuid.New()

	w := env.do(http.MethodPost, "/api/v1/orgs/"+orgID.String()+"/documents",
		`{"filename":"policy.md","content":"# Policy\n\nBody text.","tags":["hr"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var doc rag.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, orgID, doc.OrgID)
	assert.Equal(t, rag.StatusPending, doc.Status)
	assert.Equal(t, []string{"hr"}, doc.Tags)
}

func TestUploadDocument_InvalidOrg(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/orgs/not-a-uuid/documents",
		`{"filename":"a.md","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadDocument_MissingFilename(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/orgs/"+uuid.New().String()+"/documents",
		`{"content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadDocument_UnsupportedFormat(t *testing.T) {
	env := newTestServer(t)
	env.pipeline.ingestErr = extract.ErrUnsupportedFormat

	w := env.do(http.MethodPost, "/api/v1/orgs/"+uuid.New().String()+"/documents",
		`{"filename":"photo.png","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDocument_CrossOrg(t *testing.T) {
	env := newTestServer(t)
	orgID := uuid.New()
	doc, err := env.pipeline.Ingest(context.Background(), orgID, "a.md", []byte("x"), nil)
	require.NoError(t, err)

	// Same document through another org reads as missing.
	w := env.do(http.MethodGet, "/api/v1/orgs/"+uuid.New().String()+"/documents/"+doc.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/v1/orgs/"+orgID.String()+"/documents/"+doc.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteAndReindexDocument(t *testing.T) {
	env := newTestServer(t)
	orgID := uuid.New()
	doc, err := env.pipeline.Ingest(context.Background(), orgID, "a.md", []byte("x"), nil)
	require.NoError(t, err)

	base := "/api/v1/orgs/" + orgID.String() + "/documents/" + doc.ID.String()

	w := env.do(http.MethodPost, base+"/reindex", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.pipeline.reindexed)

	w = env.do(http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuery(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/orgs/"+uuid.New().String()+"/query",
		`{"question":"what does the policy say?","top_k":4}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp agents.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, agents.RouteDocuments, resp.Route)
	assert.Equal(t, "from the docs [1]", resp.Answer)
	assert.Equal(t, "what does the policy say?", env.query.lastQuestion)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/orgs/"+uuid.New().String()+"/query", `{"question":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemberLifecycle(t *testing.T) {
	env := newTestServer(t)
	orgID := uuid.New()
	base := "/api/v1/orgs/" + orgID.String() + "/members"

	w := env.do(http.MethodPost, base, `{"name":"Ada","email":"ada@example.com","headline":"Engineer"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var m profile.Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, "Ada", m.Name)

	// Duplicate email conflicts.
	w = env.do(http.MethodPost, base, `{"name":"Other","email":"ada@example.com"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPatch, base+"/"+m.ID.String(), `{"headline":"Staff Engineer"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, "Staff Engineer", m.Headline)

	w = env.do(http.MethodDelete, base+"/"+m.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, base+"/"+m.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMemberCreate_MissingFields(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/orgs/"+uuid.New().String()+"/members", `{"name":"Ada"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOnboardingFlow(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/onboarding/sessions",
		`{"member_id":"`+uuid.New().String()+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var started sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotNil(t, started.Question)
	assert.Equal(t, "What is your role?", started.Question.Text)

	sid := started.Session.ID.String()

	w = env.do(http.MethodPost, "/api/v1/onboarding/sessions/"+sid+"/answers",
		`{"answer":"I lead the data platform team."}`)
	require.Equal(t, http.StatusOK, w.Code)

	var next sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	require.NotNil(t, next.Question)
	assert.Equal(t, "goals", next.Question.Dimension)

	w = env.do(http.MethodGet, "/api/v1/onboarding/sessions/"+sid, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "transcript")

	w = env.do(http.MethodPost, "/api/v1/onboarding/sessions/"+sid+"/complete", "")
	require.Equal(t, http.StatusOK, w.Code)

	var done sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	assert.Equal(t, onboard.SessionCompleted, done.Session.Status)
	assert.Nil(t, done.Question)
}

func TestOnboarding_EmptyAnswer(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/onboarding/sessions/"+uuid.New().String()+"/answers",
		`{"answer":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOnboarding_UnknownSession(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodPost, "/api/v1/onboarding/sessions/"+uuid.New().String()+"/answers",
		`{"answer":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMatches(t *testing.T) {
	env := newTestServer(t)
	orgID := uuid.New()
	a, b := uuid.New(), uuid.New()
	pair := "/api/v1/orgs/" + orgID.String() + "/matches/" + a.String() + "/" + b.String()

	w := env.do(http.MethodGet, pair, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, pair, "")
	require.Equal(t, http.StatusOK, w.Code)

	var m match.Match
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 77, m.Score)

	w = env.do(http.MethodGet, pair, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet,
		"/api/v1/orgs/"+orgID.String()+"/members/"+a.String()+"/matches", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"matches"`)
}

func TestMatches_SelfPair(t *testing.T) {
	env := newTestServer(t)
	id := uuid.New().String()

	w := env.do(http.MethodPost,
		"/api/v1/orgs/"+uuid.New().String()+"/matches/"+id+"/"+id, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMatches_InvalidLimit(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodGet,
		"/api/v1/orgs/"+uuid.New().String()+"/members/"+uuid.New().String()+"/matches?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodGet, "/api/v1/orgs/"+uuid.New().String()+"/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(12), resp.Chunks)
	require.NotNil(t, resp.MonthlyTokens)
	assert.Equal(t, int64(800), *resp.MonthlyTokens)
	require.NotNil(t, resp.RemainingTokens)
	assert.Equal(t, int64(4200), *resp.RemainingTokens)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestServer(t)

	w := env.do(http.MethodGet, "/api/v1/orgs/"+uuid.New().String()+"/documents", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	// Dev mode: no HSTS.
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
