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

// RecordRepository is the wallet_states table.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Append inserts all records in one transaction so a transfer never lands half-way.
func (r *RecordRepository) Append(ctx context.Context, records ...*domain.Record) error {
	if len(records) == 0 {
		return repository.ErrEmptyAppend
	}
	for _, rec := range records {
		if rec == nil {
			return fmt.Errorf("%w: nil record", repository.ErrInvalidEntry)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	seqs := make([]int64, len(records))
	stamps := make([]time.Time, len(records))
	for i, rec := range records {
		committedAt := rec.CommittedAt
		if committedAt.IsZero() {
			committedAt = now
		}

		err := tx.QueryRowContext(ctx,
			`INSERT INTO wallet_states (entity_id, entity_metadata, value, commit_id, committed_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
			rec.AccountID, rec.Label, rec.Value, rec.CommitID, committedAt,
		).Scan(&seqs[i])
		if err != nil {
			return fmt.Errorf("failed to insert record for account %d: %w", rec.AccountID, err)
		}
		stamps[i] = committedAt
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	for i, rec := range records {
		rec.Seq = seqs[i]
		rec.CommittedAt = stamps[i]
	}
	return nil
}

// FindLatest reads the newest row of an account.
func (r *RecordRepository) FindLatest(ctx context.Context, accountID int64) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT seq, entity_id, entity_metadata, value, commit_id, committed_at
		 FROM wallet_states WHERE entity_id = $1 ORDER BY seq DESC LIMIT 1`,
		accountID,
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %d", repository.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (r *RecordRepository) History(ctx context.Context, accountID int64) ([]*domain.Record, error) {
	records, err := r.query(ctx,
		`SELECT seq, entity_id, entity_metadata, value, commit_id, committed_at
		 FROM wallet_states WHERE entity_id = $1 ORDER BY seq ASC`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: account %d", repository.ErrNotFound, accountID)
	}
	return records, nil
}

func (r *RecordRepository) All(ctx context.Context) ([]*domain.Record, error) {
	return r.query(ctx,
		`SELECT seq, entity_id, entity_metadata, value, commit_id, committed_at
		 FROM wallet_states ORDER BY seq ASC`,
	)
}

func (r *RecordRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []*domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.Record, error) {
	var rec domain.Record
	err := s.Scan(&rec.Seq, &rec.AccountID, &rec.Label, &rec.Value, &rec.CommitID, &rec.CommittedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
