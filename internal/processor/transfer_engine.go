package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"wallet_ledger/internal/domain"
	"wallet_ledger/internal/gateway"
	"wallet_ledger/internal/lock"
	"wallet_ledger/internal/repository"
	"wallet_ledger/pkg/metrics"
	"wallet_ledger/pkg/validator"
)

// ErrGatewayFailure wraps whatever the ledger returned when it did not commit.
var ErrGatewayFailure = errors.New("ledger submission failed")

const rolesLockKey = "roles"

type Locker interface {
	Lock(ctx context.Context, keys ...string) (lock.Unlock, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.OperationEvent) error
}

type Option func(*TransferEngine)

func WithLocker(l Locker) Option {
	return func(e *TransferEngine) { e.locker = l }
}

func WithMetrics(m *metrics.MetricsCollector) Option {
	return func(e *TransferEngine) { e.metrics = m }
}

func WithPublisher(p EventPublisher) Option {
	return func(e *TransferEngine) { e.publisher = p }
}

func WithValidator(v *validator.LedgerValidator) Option {
	return func(e *TransferEngine) { e.validator = v }
}

// WithPartialTransfers lets a transfer proceed when only one side resolves,
// treating the missing side as a zero balance with an empty label.
func WithPartialTransfers(allow bool) Option {
	return func(e *TransferEngine) { e.allowPartial = allow }
}

type TransferEngine struct {
	records      repository.RecordRepository
	roles        repository.RoleRepository
	operations   repository.OperationRepository
	gateway      gateway.Gateway
	locker       Locker
	validator    *validator.LedgerValidator
	metrics      *metrics.MetricsCollector
	publisher    EventPublisher
	allowPartial bool
	logger       *slog.Logger
}

func NewTransferEngine(
	records repository.RecordRepository,
	roles repository.RoleRepository,
	operations repository.OperationRepository,
	gw gateway.Gateway,
	logger *slog.Logger,
	opts ...Option,
) *TransferEngine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &TransferEngine{
		records:    records,
		roles:      roles,
		operations: operations,
		gateway:    gw,
		locker:     lock.NewKeyedMutex(),
		validator:  validator.NewLedgerValidator(0),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Onboard creates the first record of an account. The returned string is the
// ledger's commit identifier.
func (e *TransferEngine) Onboard(ctx context.Context, accountID int64, label string, amount int64) (string, error) {
	if err := e.validator.ValidateOnboarding(accountID, label, amount); err != nil {
		e.observeInvalid(domain.KindOnboard)
		return "", err
	}

	op := domain.NewOperation(domain.KindOnboard, "", accountKey(accountID), amount)
	var rec *domain.Record

	return e.execute(ctx, op, []string{accountKey(accountID)},
		func(ctx context.Context) (gateway.Proposal, error) {
			existing, err := e.records.FindLatest(ctx, accountID)
			switch {
			case err == nil:
				return gateway.Proposal{}, fmt.Errorf("%w: account %d is already onboarded with value %d",
					validator.ErrInvalidAccount, accountID, existing.Value)
			case !errors.Is(err, repository.ErrNotFound):
				return gateway.Proposal{}, fmt.Errorf("failed to look up account %d: %w", accountID, err)
			}

			rec = domain.NewRecord(accountID, label, amount)
			return gateway.Proposal{Records: []*domain.Record{rec}}, nil
		},
		func(ctx context.Context, c gateway.Commit) (domain.OperationEvent, error) {
			rec.Commit(c.ID, c.CommittedAt)
			if err := e.records.Append(ctx, rec); err != nil {
				return domain.OperationEvent{}, err
			}
			return domain.OperationEvent{Records: []*domain.Record{rec.Clone()}}, nil
		})
}

// Transfer moves amount from one account to another. Both new records are
// submitted as one proposal and appended together.
func (e *TransferEngine) Transfer(ctx context.Context, fromID, toID int64, amount int64) (string, error) {
	if err := e.validator.ValidateTransfer(fromID, toID, amount); err != nil {
		e.observeInvalid(domain.KindTransfer)
		return "", err
	}

	op := domain.NewOperation(domain.KindTransfer, accountKey(fromID), accountKey(toID), amount)
	var newFrom, newTo *domain.Record

	return e.execute(ctx, op, []string{accountKey(fromID), accountKey(toID)},
		func(ctx context.Context) (gateway.Proposal, error) {
			from, to, err := e.resolvePair(ctx, fromID, toID)
			if err != nil {
				return gateway.Proposal{}, err
			}

			fromValue, ok := domain.SubtractChecked(from.Value, amount)
			if !ok {
				return gateway.Proposal{}, fmt.Errorf("%w: balance of account %d would overflow", validator.ErrInvalidAmount, fromID)
			}
			toValue, ok := domain.AddChecked(to.Value, amount)
			if !ok {
				return gateway.Proposal{}, fmt.Errorf("%w: balance of account %d would overflow", validator.ErrInvalidAmount, toID)
			}

			newFrom = domain.NewRecord(fromID, from.Label, fromValue)
			newTo = domain.NewRecord(toID, to.Label, toValue)
			return gateway.Proposal{Records: []*domain.Record{newFrom, newTo}}, nil
		},
		func(ctx context.Context, c gateway.Commit) (domain.OperationEvent, error) {
			newFrom.Commit(c.ID, c.CommittedAt)
			newTo.Commit(c.ID, c.CommittedAt)
			if err := e.records.Append(ctx, newFrom, newTo); err != nil {
				return domain.OperationEvent{}, err
			}
			return domain.OperationEvent{Records: []*domain.Record{newFrom.Clone(), newTo.Clone()}}, nil
		})
}

func (e *TransferEngine) resolvePair(ctx context.Context, fromID, toID int64) (*domain.Record, *domain.Record, error) {
	from, err := e.lookup(ctx, fromID)
	if err != nil {
		return nil, nil, err
	}
	to, err := e.lookup(ctx, toID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case from == nil && to == nil:
		return nil, nil, fmt.Errorf("%w: neither account %d nor account %d exists", validator.ErrInvalidAccount, fromID, toID)
	case from == nil && !e.allowPartial:
		return nil, nil, fmt.Errorf("%w: account %d does not exist", validator.ErrInvalidAccount, fromID)
	case to == nil && !e.allowPartial:
		return nil, nil, fmt.Errorf("%w: account %d does not exist", validator.ErrInvalidAccount, toID)
	}

	if from == nil {
		e.logger.WarnContext(ctx, "Transfer from unknown account treated as zero balance", slog.Int64("account_id", fromID))
		from = domain.NewRecord(fromID, "", 0)
	}
	if to == nil {
		e.logger.WarnContext(ctx, "Transfer to unknown account treated as zero balance", slog.Int64("account_id", toID))
		to = domain.NewRecord(toID, "", 0)
	}
	return from, to, nil
}

// lookup returns nil, nil for an account without records.
func (e *TransferEngine) lookup(ctx context.Context, accountID int64) (*domain.Record, error) {
	rec, err := e.records.FindLatest(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account %d: %w", accountID, err)
	}
	return rec, nil
}

// TransferRoles moves amount between two roles of the combined record.
func (e *TransferEngine) TransferRoles(ctx context.Context, fromRole, toRole string, amount int64) (string, error) {
	from, to, err := e.validator.ValidateRoleTransfer(fromRole, toRole, amount)
	if err != nil {
		e.observeInvalid(domain.KindRoleTransfer)
		return "", err
	}

	op := domain.NewOperation(domain.KindRoleTransfer, string(from), string(to), amount)
	var next *domain.RoleBalances

	return e.execute(ctx, op, []string{rolesLockKey},
		func(ctx context.Context) (gateway.Proposal, error) {
			current, err := e.roles.Latest(ctx)
			if errors.Is(err, repository.ErrNotFound) {
				return gateway.Proposal{}, fmt.Errorf("%w: role balances have not been onboarded", validator.ErrInvalidAccount)
			}
			if err != nil {
				return gateway.Proposal{}, fmt.Errorf("failed to read role balances: %w", err)
			}

			next, err = current.Moved(from, to, amount)
			if err != nil {
				return gateway.Proposal{}, fmt.Errorf("%w: %w", validator.ErrInvalidAmount, err)
			}
			return gateway.Proposal{Roles: next}, nil
		},
		e.applyRoles(func() *domain.RoleBalances { return next }))
}

// OnboardRoles adds the given shares to the combined record, creating it
// when none exists yet.
func (e *TransferEngine) OnboardRoles(ctx context.Context, user, seller, bank int64) (string, error) {
	if err := e.validator.ValidateRoleOnboarding(user, seller, bank); err != nil {
		e.observeInvalid(domain.KindRoleOnboard)
		return "", err
	}

	// The validator has already rejected totals that overflow.
	total, _ := domain.SumChecked(user, seller, bank)
	op := domain.NewOperation(domain.KindRoleOnboard, "", "roles", total)
	var next *domain.RoleBalances

	return e.execute(ctx, op, []string{rolesLockKey},
		func(ctx context.Context) (gateway.Proposal, error) {
			next = &domain.RoleBalances{User: user, Seller: seller, Bank: bank}

			current, err := e.roles.Latest(ctx)
			switch {
			case err == nil:
				if next, err = current.Plus(next); err != nil {
					return gateway.Proposal{}, fmt.Errorf("%w: %w", validator.ErrInvalidAmount, err)
				}
			case !errors.Is(err, repository.ErrNotFound):
				return gateway.Proposal{}, fmt.Errorf("failed to read role balances: %w", err)
			}
			return gateway.Proposal{Roles: next}, nil
		},
		e.applyRoles(func() *domain.RoleBalances { return next }))
}

func (e *TransferEngine) applyRoles(next func() *domain.RoleBalances) applyFunc {
	return func(ctx context.Context, c gateway.Commit) (domain.OperationEvent, error) {
		rb := next()
		rb.Commit(c.ID, c.CommittedAt)
		if err := e.roles.Append(ctx, rb); err != nil {
			return domain.OperationEvent{}, err
		}
		if e.metrics != nil {
			for _, r := range domain.Roles {
				e.metrics.UpdateRoleBalance(string(r), rb.Get(r))
			}
		}
		return domain.OperationEvent{Roles: rb.Clone()}, nil
	}
}

type (
	buildFunc func(ctx context.Context) (gateway.Proposal, error)
	applyFunc func(ctx context.Context, c gateway.Commit) (domain.OperationEvent, error)
)

// execute journals op, holds the locks for keys while it reads, submits and
// appends, then records the final outcome.
func (e *TransferEngine) execute(ctx context.Context, op *domain.Operation, keys []string, build buildFunc, apply applyFunc) (string, error) {
	startTime := time.Now()

	if err := e.operations.Save(ctx, op); err != nil {
		return "", fmt.Errorf("failed to journal operation: %w", err)
	}

	unlock, err := e.locker.Lock(ctx, keys...)
	if err != nil {
		return "", e.reject(ctx, op, startTime, fmt.Errorf("failed to acquire account lock: %w", err))
	}
	defer unlock()

	proposal, err := build(ctx)
	if err != nil {
		return "", e.reject(ctx, op, startTime, err)
	}
	proposal.ID = op.ID
	proposal.Kind = op.Kind

	commit, err := e.gateway.Submit(ctx, proposal)
	if err != nil {
		return "", e.reject(ctx, op, startTime, fmt.Errorf("%w: %w", ErrGatewayFailure, err))
	}

	// the ledger already holds the change, so a caller giving up from here on
	// must not leave the local store behind it
	ctx = context.WithoutCancel(ctx)

	event, err := apply(ctx, commit)
	op.MarkCommitted(commit.ID)
	if err != nil {
		// the ledger holds the change; only the local copy is behind
		op.Reason = "local append failed: " + err.Error()
		e.saveOutcome(ctx, op)
		e.logger.ErrorContext(ctx, "Committed operation was not recorded locally",
			slog.String("operation_id", op.ID),
			slog.String("commit_id", commit.ID),
			slog.String("error", err.Error()))
		e.observe(op.Kind, metrics.OutcomeCommitted, startTime)
		return commit.ID, fmt.Errorf("commit %s not recorded locally: %w", commit.ID, err)
	}
	e.saveOutcome(ctx, op)
	e.observe(op.Kind, metrics.OutcomeCommitted, startTime)
	if e.metrics != nil {
		e.metrics.ObserveAmount(string(op.Kind), op.Amount)
	}

	e.logger.InfoContext(ctx, "Operation committed",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("commit_id", commit.ID),
		slog.Int64("amount", op.Amount))

	if e.publisher != nil {
		event.OperationID = op.ID
		event.Kind = op.Kind
		event.CommitID = commit.ID
		event.Timestamp = commit.CommittedAt
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.WarnContext(ctx, "Failed to publish committed operation",
				slog.String("operation_id", op.ID),
				slog.String("error", err.Error()))
		}
	}

	return commit.ID, nil
}

func (e *TransferEngine) reject(ctx context.Context, op *domain.Operation, startTime time.Time, cause error) error {
	op.MarkRejected(cause.Error())
	e.saveOutcome(ctx, op)
	e.observe(op.Kind, metrics.OutcomeRejected, startTime)

	e.logger.WarnContext(ctx, "Operation rejected",
		slog.String("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("reason", cause.Error()))
	return cause
}

func (e *TransferEngine) saveOutcome(ctx context.Context, op *domain.Operation) {
	// the journal entry must reach its final state even if the caller gave up
	if err := e.operations.Update(context.WithoutCancel(ctx), op); err != nil {
		e.logger.ErrorContext(ctx, "Failed to journal operation outcome",
			slog.String("operation_id", op.ID),
			slog.String("status", string(op.Status)),
			slog.String("error", err.Error()))
	}
}

func (e *TransferEngine) observe(kind domain.OperationKind, outcome string, startTime time.Time) {
	if e.metrics != nil {
		e.metrics.RecordOperation(string(kind), outcome, time.Since(startTime))
	}
}

func (e *TransferEngine) observeInvalid(kind domain.OperationKind) {
	if e.metrics != nil {
		e.metrics.RecordOperation(string(kind), metrics.OutcomeInvalid, 0)
	}
}

func (e *TransferEngine) Latest(ctx context.Context, accountID int64) (*domain.Record, error) {
	return e.records.FindLatest(ctx, accountID)
}

func (e *TransferEngine) History(ctx context.Context, accountID int64) ([]*domain.Record, error) {
	return e.records.History(ctx, accountID)
}

func (e *TransferEngine) Log(ctx context.Context) ([]*domain.Record, error) {
	return e.records.All(ctx)
}

func (e *TransferEngine) RoleLatest(ctx context.Context) (*domain.RoleBalances, error) {
	return e.roles.Latest(ctx)
}

func (e *TransferEngine) RoleLog(ctx context.Context) ([]*domain.RoleBalances, error) {
	return e.roles.All(ctx)
}

func (e *TransferEngine) GetOperation(ctx context.Context, id string) (*domain.Operation, error) {
	return e.operations.GetByID(ctx, id)
}

func accountKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
