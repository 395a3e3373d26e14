package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
	"wallet_ledger/internal/domain"
	"wallet_ledger/internal/repository"
)

type RoleRepository struct {
	mu  sync.RWMutex
	log []*domain.RoleBalances
}

func NewRoleRepository() *RoleRepository {
	return &RoleRepository{}
}

func (r *RoleRepository) Append(ctx context.Context, balances *domain.RoleBalances) error {
	if balances == nil {
		return fmt.Errorf("%w: nil role balances", repository.ErrInvalidEntry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := balances.Clone()
	stored.Seq = int64(len(r.log) + 1)
	if stored.CommittedAt.IsZero() {
		stored.CommittedAt = time.Now()
	}
	balances.Seq = stored.Seq
	balances.CommittedAt = stored.CommittedAt

	r.log = append(r.log, stored)
	return nil
}

func (r *RoleRepository) Latest(ctx context.Context) (*domain.RoleBalances, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.log) == 0 {
		return nil, fmt.Errorf("%w: role balances", repository.ErrNotFound)
	}
	return r.log[len(r.log)-1].Clone(), nil
}

func (r *RoleRepository) All(ctx context.Context) ([]*domain.RoleBalances, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.RoleBalances, 0, len(r.log))
	for _, b := range r.log {
		result = append(result, b.Clone())
	}
	return result, nil
}
