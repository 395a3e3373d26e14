package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
	"wallet_ledger/internal/domain"
	"wallet_ledger/internal/repository"
)

// RecordRepository keeps the log in a slice and the position of each
// account's latest record in an index updated on every append.
type RecordRepository struct {
	mu      sync.RWMutex
	records []*domain.Record
	latest  map[int64]int
	byAcct  map[int64][]int
}

func NewRecordRepository() *RecordRepository {
	return &RecordRepository{
		latest: make(map[int64]int),
		byAcct: make(map[int64][]int),
	}
}

func (r *RecordRepository) Append(ctx context.Context, records ...*domain.Record) error {
	if len(records) == 0 {
		return repository.ErrEmptyAppend
	}
	for _, rec := range records {
		if rec == nil {
			return fmt.Errorf("%w: nil record", repository.ErrInvalidEntry)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, rec := range records {
		pos := len(r.records)
		stored := rec.Clone()
		stored.Seq = int64(pos + 1)
		if stored.CommittedAt.IsZero() {
			stored.CommittedAt = now
		}
		rec.Seq = stored.Seq
		rec.CommittedAt = stored.CommittedAt

		r.records = append(r.records, stored)
		r.latest[stored.AccountID] = pos
		r.byAcct[stored.AccountID] = append(r.byAcct[stored.AccountID], pos)
	}

	return nil
}

func (r *RecordRepository) FindLatest(ctx context.Context, accountID int64) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, exists := r.latest[accountID]
	if !exists {
		return nil, fmt.Errorf("%w: account %d", repository.ErrNotFound, accountID)
	}
	return r.records[pos].Clone(), nil
}

func (r *RecordRepository) History(ctx context.Context, accountID int64) ([]*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	positions, exists := r.byAcct[accountID]
	if !exists {
		return nil, fmt.Errorf("%w: account %d", repository.ErrNotFound, accountID)
	}

	result := make([]*domain.Record, 0, len(positions))
	for _, pos := range positions {
		result = append(result, r.records[pos].Clone())
	}
	return result, nil
}

func (r *RecordRepository) All(ctx context.Context) ([]*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Record, 0, len(r.records))
	for _, rec := range r.records {
		result = append(result, rec.Clone())
	}
	return result, nil
}

func (r *RecordRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
