package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrBudgetExhausted indicates the organization's monthly token budget
	// cannot cover the requested operation.
	ErrBudgetExhausted = errors.New("monthly token budget exhausted")

	// ErrOrgNotFound indicates an unknown organization ID.
	ErrOrgNotFound = errors.New("organization not found")
)

// querier is the subset of pgxpool.Pool used by the ledger, also satisfied
// by pgx.Tx for transactional use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlOrgBudget = `
		SELECT token_budget
		FROM organizations
		WHERE id = $1`

	sqlMonthlyUsage = `
		SELECT COALESCE(SUM(tokens), 0)
		FROM usage_ledger
		WHERE org_id = $1
		  AND recorded_at >= date_trunc('month', now())`

	sqlRecordUsage = `
		INSERT INTO usage_ledger (org_id, kind, tokens)
		VALUES ($1, $2, $3)`
)

// Ledger tracks per-organization token consumption against the monthly
// budget stored on the organization row. The window resets at the start
// of each calendar month.
type Ledger struct {
	db     querier
	logger *slog.Logger
}

// NewLedger creates a Ledger backed by db.
func NewLedger(db querier, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}
}

// Remaining returns the unspent tokens in the current month. A negative
// value means the budget is already overdrawn.
func (l *Ledger) Remaining(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var budget int64
	if err := l.db.QueryRow(ctx, sqlOrgBudget, orgID).Scan(&budget); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrOrgNotFound, orgID)
		}
		return 0, fmt.Errorf("querying org budget: %w", err)
	}

	var used int64
	if err := l.db.QueryRow(ctx, sqlMonthlyUsage, orgID).Scan(&used); err != nil {
		return 0, fmt.Errorf("querying monthly usage: %w", err)
	}
	return budget - used, nil
}

// CheckBudget returns ErrBudgetExhausted when spending tokens would
// exceed the organization's monthly budget.
func (l *Ledger) CheckBudget(ctx context.Context, orgID uuid.UUID, tokens int64) error {
	remaining, err := l.Remaining(ctx, orgID)
	if err != nil {
		return err
	}
	if tokens > remaining {
		l.logger.Warn("token budget exhausted",
			"org_id", orgID,
			"requested", tokens,
			"remaining", remaining)
		return fmt.Errorf("%w: requested %d, remaining %d", ErrBudgetExhausted, tokens, remaining)
	}
	return nil
}

// Record appends a usage entry. Kind distinguishes embedding from
// generation spend in reporting.
func (l *Ledger) Record(ctx context.Context, orgID uuid.UUID, kind string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	if _, err := l.db.Exec(ctx, sqlRecordUsage, orgID, kind, tokens); err != nil {
		return fmt.Errorf("recording token usage: %w", err)
	}
	return nil
}

// MonthlyUsage returns tokens consumed so far in the current month.
func (l *Ledger) MonthlyUsage(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var used int64
	if err := l.db.QueryRow(ctx, sqlMonthlyUsage, orgID).Scan(&used); err != nil {
		return 0, fmt.Errorf("querying monthly usage: %w", err)
	}
	return used, nil
}
