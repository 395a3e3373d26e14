package repository

import (
	"context"
	"errors"
	"wallet_ledger/internal/domain"
)

// RecordRepository is the append-only balance log. FindLatest returns the
// most recently appended record of an account.
type RecordRepository interface {
	Append(ctx context.Context, records ...*domain.Record) error
	FindLatest(ctx context.Context, accountID int64) (*domain.Record, error)
	History(ctx context.Context, accountID int64) ([]*domain.Record, error)
	All(ctx context.Context) ([]*domain.Record, error)
}

type RoleRepository interface {
	Append(ctx context.Context, balances *domain.RoleBalances) error
	Latest(ctx context.Context) (*domain.RoleBalances, error)
	All(ctx context.Context) ([]*domain.RoleBalances, error)
}

type OperationRepository interface {
	Save(ctx context.Context, op *domain.Operation) error
	GetByID(ctx context.Context, id string) (*domain.Operation, error)
	Update(ctx context.Context, op *domain.Operation) error
	GetByStatus(ctx context.Context, status domain.OperationStatus) ([]*domain.Operation, error)
}

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrEmptyAppend  = errors.New("nothing to append")
	ErrInvalidEntry = errors.New("invalid entry")
)
