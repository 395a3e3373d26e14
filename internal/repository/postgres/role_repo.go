package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wallet_ledger/internal/domain"
	"wallet_ledger/internal/repository"
)

// RoleRepository is the role_wallet_states table.
type RoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) Append(ctx context.Context, balances *domain.RoleBalances) error {
	if balances == nil {
		return fmt.Errorf("%w: nil role balances", repository.ErrInvalidEntry)
	}

	committedAt := balances.CommittedAt
	if committedAt.IsZero() {
		committedAt = time.Now().UTC()
	}

	var seq int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO role_wallet_states (user_balance, seller_balance, bank_balance, commit_id, committed_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		balances.User, balances.Seller, balances.Bank, balances.CommitID, committedAt,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to insert role balances: %w", err)
	}

	balances.Seq = seq
	balances.CommittedAt = committedAt
	return nil
}

func (r *RoleRepository) Latest(ctx context.Context) (*domain.RoleBalances, error) {
	var b domain.RoleBalances
	err := r.db.QueryRowContext(ctx,
		`SELECT seq, user_balance, seller_balance, bank_balance, commit_id, committed_at
		 FROM role_wallet_states ORDER BY seq DESC LIMIT 1`,
	).Scan(&b.Seq, &b.User, &b.Seller, &b.Bank, &b.CommitID, &b.CommittedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role balances", repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role balances: %w", err)
	}
	return &b, nil
}

func (r *RoleRepository) All(ctx context.Context) ([]*domain.RoleBalances, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, user_balance, seller_balance, bank_balance, commit_id, committed_at
		 FROM role_wallet_states ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query role balances: %w", err)
	}
	defer rows.Close()

	result := []*domain.RoleBalances{}
	for rows.Next() {
		var b domain.RoleBalances
		if err := rows.Scan(&b.Seq, &b.User, &b.Seller, &b.Bank, &b.CommitID, &b.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role balances: %w", err)
		}
		result = append(result, &b)
	}
	return result, rows.Err()
}
