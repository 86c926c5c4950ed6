// Package profile manages organization members: CRUD over the members
// table and best-effort enrichment scraped from a public profile page.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrMemberNotFound indicates no member with that ID in the org.
	ErrMemberNotFound = errors.New("member not found")

	// ErrDuplicateEmail indicates the email is already registered in the org.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Member is one person in an organization. Profile holds onboarding
// output; Enrichment holds scraped public-profile data.
type Member struct {
	ID         uuid.UUID      `json:"id"`
	OrgID      uuid.UUID      `json:"org_id"`
	Name       string         `json:"name"`
	Email      string         `json:"email"`
	Headline   string         `json:"headline,omitempty"`
	Profile    map[string]any `json:"profile,omitempty"`
	Enrichment map[string]any `json:"enrichment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const memberCols = `id, org_id, name, email, COALESCE(headline, ''),
	profile, enrichment, created_at, updated_at`

// Store persists members.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a member Store.
func NewStore(db querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create inserts a member.
func (s *Store) Create(ctx context.Context, orgID uuid.UUID, name, email, headline string) (*Member, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, fmt.Errorf("name and email are required")
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO members (org_id, name, email, headline)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING `+memberCols,
		orgID, name, email, headline)

	member, err := scanMember(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		}
		return nil, err
	}
	return member, nil
}

// Get returns one member scoped to the organization.
func (s *Store) Get(ctx context.Context, orgID, memberID uuid.UUID) (*Member, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+memberCols+`
		FROM members
		WHERE id = $1 AND org_id = $2`, memberID, orgID)
	return scanMember(row)
}

// List returns the organization's members ordered by name.
func (s *Store) List(ctx context.Context, orgID uuid.UUID) ([]*Member, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+memberCols+`
		FROM members
		WHERE org_id = $1
		ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating members: %w", err)
	}
	return members, nil
}

// Update changes name and headline. Empty values keep the current ones.
func (s *Store) Update(ctx context.Context, orgID, memberID uuid.UUID, name, headline string) (*Member, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE members
		SET name = COALESCE(NULLIF($3, ''), name),
		    headline = COALESCE(NULLIF($4, ''), headline),
		    updated_at = now()
		WHERE id = $1 AND org_id = $2
		RETURNING `+memberCols,
		memberID, orgID, strings.TrimSpace(name), strings.TrimSpace(headline))
	return scanMember(row)
}

// Delete removes a member.
func (s *Store) Delete(ctx context.Context, orgID, memberID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM members WHERE id = $1 AND org_id = $2`, memberID, orgID)
	if err != nil {
		return fmt.Errorf("deleting member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	return nil
}

// SetEnrichment replaces the member's scraped enrichment data.
func (s *Store) SetEnrichment(ctx context.Context, orgID, memberID uuid.UUID, enrichment map[string]any) (*Member, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE members
		SET enrichment = $3, updated_at = now()
		WHERE id = $1 AND org_id = $2
		RETURNING `+memberCols,
		memberID, orgID, enrichment)
	return scanMember(row)
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.OrgID, &m.Name, &m.Email, &m.Headline,
		&m.Profile, &m.Enrichment, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("scanning member: %w", err)
	}
	return &m, nil
}
