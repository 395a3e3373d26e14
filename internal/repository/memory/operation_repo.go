package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"wallet_ledger/internal/domain"
	"wallet_ledger/internal/repository"
)

type OperationRepository struct {
	mu         sync.RWMutex
	operations map[string]*domain.Operation
}

func NewOperationRepository() *OperationRepository {
	return &OperationRepository{
		operations: make(map[string]*domain.Operation),
	}
}

func (r *OperationRepository) Save(ctx context.Context, op *domain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; exists {
		return fmt.Errorf("%w: operation %s", repository.ErrDuplicate, op.ID)
	}

	cp := *op
	r.operations[op.ID] = &cp
	return nil
}

func (r *OperationRepository) GetByID(ctx context.Context, id string) (*domain.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, exists := r.operations[id]
	if !exists {
		return nil, fmt.Errorf("%w: operation %s", repository.ErrNotFound, id)
	}
	cp := *op
	return &cp, nil
}

func (r *OperationRepository) Update(ctx context.Context, op *domain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; !exists {
		return fmt.Errorf("%w: operation %s", repository.ErrNotFound, op.ID)
	}

	op.UpdatedAt = time.Now()
	cp := *op
	r.operations[op.ID] = &cp
	return nil
}

func (r *OperationRepository) GetByStatus(ctx context.Context, status domain.OperationStatus) ([]*domain.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Operation
	for _, op := range r.operations {
		if op.Status == status {
			cp := *op
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}
