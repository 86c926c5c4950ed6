package match

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrMatchNotFound indicates no computed match for the pair.
var ErrMatchNotFound = errors.New("match not found")

// Match is a scored pairing of two members. MemberA always sorts before
// MemberB so each pair has exactly one row regardless of argument order.
type Match struct {
	ID         uuid.UUID          `json:"id"`
	OrgID      uuid.UUID          `json:"org_id"`
	MemberA    uuid.UUID          `json:"member_a"`
	MemberB    uuid.UUID          `json:"member_b"`
	Score      int                `json:"score"`
	Rationale  string             `json:"rationale"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	ComputedAt time.Time          `json:"computed_at"`
}

// OrderPair returns the two IDs in canonical storage order.
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const matchCols = `id, org_id, member_a, member_b, score, rationale, dimensions, computed_at`

// Store persists computed matches.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a match Store.
func NewStore(db querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Upsert writes a match, replacing any previous score for the pair.
func (s *Store) Upsert(ctx context.Context, orgID, memberA, memberB uuid.UUID,
	score int, rationale string, dimensions map[string]float64) (*Match, error) {
	a, b := OrderPair(memberA, memberB)
	row := s.db.QueryRow(ctx, `
		INSERT INTO matches (org_id, member_a, member_b, score, rationale, dimensions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (member_a, member_b) DO UPDATE SET
			score = EXCLUDED.score,
			rationale = EXCLUDED.rationale,
			dimensions = EXCLUDED.dimensions,
			computed_at = now()
		RETURNING `+matchCols,
		orgID, a, b, score, rationale, dimensions)
	return scanMatch(row)
}

// Get returns the stored match for a pair, in either argument order.
func (s *Store) Get(ctx context.Context, orgID, memberA, memberB uuid.UUID) (*Match, error) {
	a, b := OrderPair(memberA, memberB)
	row := s.db.QueryRow(ctx, `
		SELECT `+matchCols+`
		FROM matches
		WHERE org_id = $1 AND member_a = $2 AND member_b = $3`, orgID, a, b)
	return scanMatch(row)
}

// ListForMember returns a member's matches, best first.
func (s *Store) ListForMember(ctx context.Context, orgID, memberID uuid.UUID, limit int) ([]*Match, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+matchCols+`
		FROM matches
		WHERE org_id = $1 AND (member_a = $2 OR member_b = $2)
		ORDER BY score DESC, computed_at DESC
		LIMIT $3`, orgID, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	var matches []*Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

func scanMatch(row pgx.Row) (*Match, error) {
	var m Match
	err := row.Scan(&m.ID, &m.OrgID, &m.MemberA, &m.MemberB,
		&m.Score, &m.Rationale, &m.Dimensions, &m.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("scanning match: %w", err)
	}
	return &m, nil
}
