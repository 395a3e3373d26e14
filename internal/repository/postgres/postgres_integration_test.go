package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet_ledger/internal/domain"
	"wallet_ledger/internal/repository"
)

// Runs against a real database only when LEDGER_TEST_DATABASE_URL is set.
func openTestDB(t *testing.T) (*RecordRepository, *RoleRepository) {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE wallet_states, role_wallet_states RESTART IDENTITY`)
	require.NoError(t, err)

	return NewRecordRepository(db), NewRoleRepository(db)
}

// an empty log renders as [] like the memory store, never null
func assertEmptyJSONArray(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestRecordRepository_Integration(t *testing.T) {
	records, _ := openTestDB(t)
	ctx := context.Background()

	empty, err := records.All(ctx)
	require.NoError(t, err)
	assertEmptyJSONArray(t, empty)

	_, err = records.FindLatest(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, records.Append(ctx, &domain.Record{AccountID: 1, Label: "alice", Value: 100, CommitID: "c1"}))
	require.NoError(t, records.Append(ctx,
		&domain.Record{AccountID: 1, Label: "alice", Value: 60, CommitID: "c2"},
		&domain.Record{AccountID: 2, Label: "bob", Value: 40, CommitID: "c2"},
	))

	latest, err := records.FindLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), latest.Value)
	assert.Equal(t, "c2", latest.CommitID)

	history, err := records.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	all, err := records.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, int64(100), domain.Total(latest, all[2]))
}

func TestRoleRepository_Integration(t *testing.T) {
	_, roles := openTestDB(t)
	ctx := context.Background()

	empty, err := roles.All(ctx)
	require.NoError(t, err)
	assertEmptyJSONArray(t, empty)

	require.NoError(t, roles.Append(ctx, &domain.RoleBalances{User: 100, Seller: 50, CommitID: "r1"}))
	require.NoError(t, roles.Append(ctx, &domain.RoleBalances{User: 70, Seller: 50, Bank: 30, CommitID: "r2"}))

	latest, err := roles.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), latest.Bank)

	all, err := roles.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
