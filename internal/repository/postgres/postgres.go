// Package postgres stores the balance log in PostgreSQL through lib/pq.
// Tables mirror the wallet state projection: one row per committed record.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"wallet_ledger/internal/repository"
)

var (
	_ repository.RecordRepository = (*RecordRepository)(nil)
	_ repository.RoleRepository   = (*RoleRepository)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS wallet_states (
	seq             BIGSERIAL PRIMARY KEY,
	entity_id       BIGINT      NOT NULL,
	entity_metadata TEXT        NOT NULL DEFAULT '',
	value           BIGINT      NOT NULL,
	commit_id       TEXT        NOT NULL,
	committed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS wallet_states_entity_seq ON wallet_states (entity_id, seq DESC);

CREATE TABLE IF NOT EXISTS role_wallet_states (
	seq            BIGSERIAL PRIMARY KEY,
	user_balance   BIGINT      NOT NULL,
	seller_balance BIGINT      NOT NULL,
	bank_balance   BIGINT      NOT NULL,
	commit_id      TEXT        NOT NULL,
	committed_at   TIMESTAMPTZ NOT NULL
);
`

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate creates the ledger tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
