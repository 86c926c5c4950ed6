package embed

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaichq/mosaic/internal/log"
)

// fakeDB serves the ledger queries from in-memory state.
type fakeDB struct {
	budget    int64
	used      int64
	orgExists bool
	inserts   []int64
}

type fakeRow struct {
	err  error
	vals []any
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if p, ok := d.(*int64); ok {
			p2, ok2 := r.vals[i].(int64)
			if ok2 {
				*p = p2
			}
		}
	}
	return nil
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.inserts = append(f.inserts, args[2].(int64))
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if sql == sqlOrgBudget {
		if !f.orgExists {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{f.budget}}
	}
	return fakeRow{vals: []any{f.used}}
}

func TestLedger_Remaining(t *testing.T) {
	db := &fakeDB{orgExists: true, budget: 1000, used: 300}
	l := NewLedger(db, log.NewNop())

	remaining, err := l.Remaining(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(700), remaining)
}

func TestLedger_RemainingUnknownOrg(t *testing.T) {
	l := NewLedger(&fakeDB{orgExists: false}, log.NewNop())

	_, err := l.Remaining(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrgNotFound)
}

func TestLedger_CheckBudget(t *testing.T) {
	db := &fakeDB{orgExists: true, budget: 100, used: 90}
	l := NewLedger(db, log.NewNop())
	ctx := context.Background()
	orgID := uuid.New()

	assert.NoError(t, l.CheckBudget(ctx, orgID, 10))
	assert.ErrorIs(t, l.CheckBudget(ctx, orgID, 11), ErrBudgetExhausted)
}

func TestLedger_Record(t *testing.T) {
	db := &fakeDB{orgExists: true}
	l := NewLedger(db, log.NewNop())
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, uuid.New(), UsageKindEmbedding, 42))
	require.Len(t, db.inserts, 1)
	assert.Equal(t, int64(42), db.inserts[0])

	// Zero and negative spend are not written.
	require.NoError(t, l.Record(ctx, uuid.New(), UsageKindEmbedding, 0))
	assert.Len(t, db.inserts, 1)
}
