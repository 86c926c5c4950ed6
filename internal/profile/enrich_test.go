package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaichq/mosaic/internal/log"
)

const profilePage = `<!DOCTYPE html>
<html><head>
<title>Jordan Reyes - Profile</title>
<meta property="og:title" content="Jordan Reyes">
<meta property="og:description" content="Staff engineer focused on data platforms">
<script>trackEverything()</script>
</head><body>
<main>
<h1>Jordan Reyes</h1>
<h2>Experience</h2>
<ul>
<li>Staff Engineer, Datalith</li>
<li>Senior Engineer, Brightpath</li>
</ul>
</main>
</body></html>`

func testScraper() *Scraper {
	cfg := DefaultScraperConfig()
	cfg.Delay = 0
	cfg.AllowLoopback = true
	return NewScraper(cfg, log.NewNop())
}

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(profilePage))
	}))
	defer srv.Close()

	data, err := testScraper().Scrape(context.Background(), srv.URL+"/in/jordan")
	require.NoError(t, err)

	assert.Equal(t, "Jordan Reyes", data["title"])
	assert.Equal(t, "Staff engineer focused on data platforms", data["description"])
	assert.Contains(t, data["headings"], "Jordan Reyes")
	assert.Contains(t, data["headings"], "Experience")
	assert.Contains(t, data["items"], "Staff Engineer, Datalith")
	assert.Equal(t, srv.URL+"/in/jordan", data["source_url"])
	assert.NotEmpty(t, data["fetched_at"])
}

func TestScrape_InvalidURL(t *testing.T) {
	s := testScraper()
	ctx := context.Background()

	_, err := s.Scrape(ctx, "not a url")
	assert.ErrorIs(t, err, ErrInvalidProfileURL)

	_, err = s.Scrape(ctx, "ftp://example.com/profile")
	assert.ErrorIs(t, err, ErrInvalidProfileURL)

	_, err = s.Scrape(ctx, "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidProfileURL)
}

func TestScrape_BlocksInternalTargets(t *testing.T) {
	s := testScraper()
	ctx := context.Background()

	// Loopback is open for the test server, everything else internal stays
	// blocked.
	_, err := s.Scrape(ctx, "http://169.254.169.254/latest/meta-data/")
	assert.ErrorIs(t, err, ErrInvalidProfileURL)

	_, err = s.Scrape(ctx, "http://10.0.0.8/profile")
	assert.ErrorIs(t, err, ErrInvalidProfileURL)
}

func TestScrape_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testScraper().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching profile page")
}

func TestScrape_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testScraper().Scrape(ctx, "https://example.com/profile")
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeMembers implements MemberStore in memory.
type fakeMembers struct {
	member     *Member
	enrichment map[string]any
}

func (f *fakeMembers) Get(_ context.Context, _, memberID uuid.UUID) (*Member, error) {
	if f.member == nil || f.member.ID != memberID {
		return nil, ErrMemberNotFound
	}
	return f.member, nil
}

func (f *fakeMembers) SetEnrichment(_ context.Context, _, _ uuid.UUID, enrichment map[string]any) (*Member, error) {
	f.enrichment = enrichment
	m := *f.member
	m.Enrichment = enrichment
	return &m, nil
}

func TestEnrichMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(profilePage))
	}))
	defer srv.Close()

	member := &Member{ID: uuid.New(), OrgID: uuid.New(), Name: "Jordan"}
	store := &fakeMembers{member: member}
	enricher, err := NewEnricher(store, testScraper(), log.NewNop())
	require.NoError(t, err)

	updated, err := enricher.EnrichMember(context.Background(), member.OrgID, member.ID, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Jordan Reyes", updated.Enrichment["title"])
	assert.Equal(t, store.enrichment, updated.Enrichment)
}

func TestEnrichMember_UnknownMember(t *testing.T) {
	enricher, err := NewEnricher(&fakeMembers{}, testScraper(), log.NewNop())
	require.NoError(t, err)

	_, err = enricher.EnrichMember(context.Background(), uuid.New(), uuid.New(), "https://example.com")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}
