package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/mosaichq/mosaic/internal/security"
)

// ErrInvalidProfileURL indicates a URL the scraper refuses to fetch.
var ErrInvalidProfileURL = errors.New("invalid profile URL")

// maxListItems caps how many headings and list entries one scrape keeps.
const maxListItems = 15

// ScraperConfig throttles the public-profile scraper.
type ScraperConfig struct {
	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration
	UserAgent   string

	// AllowLoopback disables the SSRF guard for loopback targets.
	// Tests only.
	AllowLoopback bool
}

// DefaultScraperConfig returns conservative scraping defaults.
func DefaultScraperConfig() ScraperConfig {
	return ScraperConfig{
		Parallelism: 2,
		Delay:       500 * time.Millisecond,
		Timeout:     15 * time.Second,
		UserAgent:   "mosaic-enrichment/1.0",
	}
}

// Scraper fetches a member's public profile page and extracts the
// obviously useful parts: open-graph metadata, headings and list items.
type Scraper struct {
	cfg    ScraperConfig
	guard  *security.URLGuard
	logger *slog.Logger
}

// NewScraper creates a Scraper.
func NewScraper(cfg ScraperConfig, logger *slog.Logger) *Scraper {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultScraperConfig().UserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	var opts []security.GuardOption
	if cfg.AllowLoopback {
		opts = append(opts, security.AllowLoopback())
	}
	return &Scraper{cfg: cfg, guard: security.NewURLGuard(opts...), logger: logger}
}

// Scrape fetches one profile page. The collector is restricted to the
// page's own domain and never follows links. Every result carries
// source_url and fetched_at provenance.
func (s *Scraper) Scrape(ctx context.Context, profileURL string) (map[string]any, error) {
	u, err := url.Parse(profileURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProfileURL, profileURL)
	}
	if err := s.guard.Validate(profileURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfileURL, err)
	}

	c := colly.NewCollector(
		colly.UserAgent(s.cfg.UserAgent),
		colly.AllowedDomains(u.Hostname()),
		colly.MaxDepth(1),
	)
	c.WithTransport(s.guard.Transport())
	c.SetRequestTimeout(s.cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: s.cfg.Parallelism,
		Delay:       s.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configuring scraper limits: %w", err)
	}

	data := map[string]any{}
	var headings, items []string

	c.OnHTML("head", func(e *colly.HTMLElement) {
		if t := e.ChildAttr(`meta[property="og:title"]`, "content"); t != "" {
			data["title"] = t
		} else if t := strings.TrimSpace(e.ChildText("title")); t != "" {
			data["title"] = t
		}
		if d := e.ChildAttr(`meta[property="og:description"]`, "content"); d != "" {
			data["description"] = d
		} else if d := e.ChildAttr(`meta[name="description"]`, "content"); d != "" {
			data["description"] = d
		}
	})
	c.OnHTML("h1, h2, h3", func(e *colly.HTMLElement) {
		if t := strings.TrimSpace(e.Text); t != "" && len(headings) < maxListItems {
			headings = append(headings, t)
		}
	})
	c.OnHTML("main li, article li, section li", func(e *colly.HTMLElement) {
		if t := strings.TrimSpace(e.Text); t != "" && len(items) < maxListItems {
			items = append(items, t)
		}
	})

	var fetchErr error
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Visit(profileURL); err != nil {
		return nil, fmt.Errorf("fetching profile page: %w", err)
	}
	c.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetching profile page: %w", fetchErr)
	}

	if len(headings) > 0 {
		data["headings"] = headings
	}
	if len(items) > 0 {
		data["items"] = items
	}
	data["source_url"] = profileURL
	data["fetched_at"] = time.Now().UTC().Format(time.RFC3339)

	s.logger.Debug("scraped profile page",
		"url", profileURL,
		"headings", len(headings),
		"items", len(items))
	return data, nil
}

// MemberStore is the persistence the enricher needs, satisfied by *Store.
type MemberStore interface {
	Get(ctx context.Context, orgID, memberID uuid.UUID) (*Member, error)
	SetEnrichment(ctx context.Context, orgID, memberID uuid.UUID, enrichment map[string]any) (*Member, error)
}

// Enricher scrapes a profile page and stores the result on the member.
type Enricher struct {
	store   MemberStore
	scraper *Scraper
	logger  *slog.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(store MemberStore, scraper *Scraper, logger *slog.Logger) (*Enricher, error) {
	if store == nil || scraper == nil {
		return nil, fmt.Errorf("store and scraper are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{store: store, scraper: scraper, logger: logger}, nil
}

// EnrichMember scrapes profileURL and replaces the member's enrichment.
func (e *Enricher) EnrichMember(ctx context.Context, orgID, memberID uuid.UUID, profileURL string) (*Member, error) {
	if _, err := e.store.Get(ctx, orgID, memberID); err != nil {
		return nil, err
	}

	enrichment, err := e.scraper.Scrape(ctx, profileURL)
	if err != nil {
		return nil, err
	}
	return e.store.SetEnrichment(ctx, orgID, memberID, enrichment)
}
