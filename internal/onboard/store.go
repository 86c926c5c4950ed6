package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrSessionNotFound indicates an unknown session ID.
	ErrSessionNotFound = errors.New("onboarding session not found")

	// ErrSessionCompleted indicates a write against a finished session.
	ErrSessionCompleted = errors.New("onboarding session already completed")

	// ErrNoPendingQuestion indicates an answer with no question awaiting one.
	ErrNoPendingQuestion = errors.New("no pending question to answer")
)

// SessionStatus tracks a session's lifecycle.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one member's onboarding conversation.
type Session struct {
	ID          uuid.UUID      `json:"id"`
	MemberID    uuid.UUID      `json:"member_id"`
	Status      SessionStatus  `json:"status"`
	Profile     map[string]any `json:"profile,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// QA is one question/answer pair in a session transcript. An empty Answer
// means the question has been asked but not answered yet.
type QA struct {
	Position  int    `json:"position"`
	Question  string `json:"question"`
	Dimension string `json:"dimension"`
	Answer    string `json:"answer"`
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists onboarding sessions and their transcripts.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// CreateSession starts an active session for a member.
func (s *Store) CreateSession(ctx context.Context, memberID uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO onboarding_sessions (member_id)
		VALUES ($1)
		RETURNING id, member_id, status, profile, created_at, completed_at`, memberID)
	return scanSession(row)
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, member_id, status, profile, created_at, completed_at
		FROM onboarding_sessions
		WHERE id = $1`, sessionID)
	return scanSession(row)
}

// Transcript returns all question/answer pairs in position order.
func (s *Store) Transcript(ctx context.Context, sessionID uuid.UUID) ([]QA, error) {
	rows, err := s.db.Query(ctx, `
		SELECT position, question, dimension, COALESCE(answer, '')
		FROM onboarding_answers
		WHERE session_id = $1
		ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	defer rows.Close()

	var transcript []QA
	for rows.Next() {
		var qa QA
		if err := rows.Scan(&qa.Position, &qa.Question, &qa.Dimension, &qa.Answer); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		transcript = append(transcript, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript: %w", err)
	}
	return transcript, nil
}

// AppendQuestion records a newly asked question at the next position.
func (s *Store) AppendQuestion(ctx context.Context, sessionID uuid.UUID, question, dimension string) (int, error) {
	var position int
	err := s.db.QueryRow(ctx, `
		INSERT INTO onboarding_answers (session_id, position, question, dimension, answer)
		SELECT $1, COALESCE(MAX(position) + 1, 0), $2, $3, ''
		FROM onboarding_answers WHERE session_id = $1
		RETURNING position`, sessionID, question, dimension).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("appending question: %w", err)
	}
	return position, nil
}

// AnswerPending fills in the earliest unanswered question and returns it.
func (s *Store) AnswerPending(ctx context.Context, sessionID uuid.UUID, answer string) (*QA, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE onboarding_answers
		SET answer = $2
		WHERE session_id = $1
		  AND position = (
			SELECT MIN(position) FROM onboarding_answers
			WHERE session_id = $1 AND answer = ''
		  )
		RETURNING position, question, dimension, answer`, sessionID, answer)

	var qa QA
	if err := row.Scan(&qa.Position, &qa.Question, &qa.Dimension, &qa.Answer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPendingQuestion
		}
		return nil, fmt.Errorf("recording answer: %w", err)
	}
	return &qa, nil
}

// CompleteSession stores the built profile and closes the session.
func (s *Store) CompleteSession(ctx context.Context, sessionID uuid.UUID, profile map[string]any) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE onboarding_sessions
		SET status = $2, profile = $3, completed_at = now()
		WHERE id = $1
		RETURNING id, member_id, status, profile, created_at, completed_at`,
		sessionID, string(SessionCompleted), profile)
	return scanSession(row)
}

// SetMemberProfile copies the finished profile onto the member row.
func (s *Store) SetMemberProfile(ctx context.Context, memberID uuid.UUID, profile map[string]any) error {
	_, err := s.db.Exec(ctx, `
		UPDATE members SET profile = $2, updated_at = now() WHERE id = $1`,
		memberID, profile)
	if err != nil {
		return fmt.Errorf("updating member profile: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var status string
	err := row.Scan(&sess.ID, &sess.MemberID, &status, &sess.Profile,
		&sess.CreatedAt, &sess.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.Status = SessionStatus(status)
	return &sess, nil
}
