package validator

import (
	"errors"
	"fmt"
	"strings"
	"wallet_ledger/internal/domain"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAccount = errors.New("invalid account")
	ErrInvalidRole    = errors.New("invalid role")
	ErrSameAccount    = errors.New("cannot transfer to same account")
	ErrInvalidLabel   = errors.New("invalid label")
)

// MaxLabelLength matches the entity_metadata column.
const MaxLabelLength = 255

type LedgerValidator struct {
	maxAmount int64
}

// NewLedgerValidator returns a validator. maxAmount <= 0 disables the upper bound.
func NewLedgerValidator(maxAmount int64) *LedgerValidator {
	return &LedgerValidator{maxAmount: maxAmount}
}

func (v *LedgerValidator) ValidateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d must be positive", ErrInvalidAmount, amount)
	}
	if v.maxAmount > 0 && amount > v.maxAmount {
		return fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidAmount, amount, v.maxAmount)
	}
	return nil
}

func (v *LedgerValidator) ValidateOnboarding(accountID int64, label string, amount int64) error {
	if err := v.ValidateAmount(amount); err != nil {
		return err
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidLabel, MaxLabelLength)
	}
	return nil
}

func (v *LedgerValidator) ValidateTransfer(from, to int64, amount int64) error {
	if err := v.ValidateAmount(amount); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: %d", ErrSameAccount, from)
	}
	return nil
}

// ValidateRoleTransfer parses both role names and checks the amount.
func (v *LedgerValidator) ValidateRoleTransfer(from, to string, amount int64) (domain.Role, domain.Role, error) {
	if err := v.ValidateAmount(amount); err != nil {
		return "", "", err
	}

	fromRole, err := domain.ParseRole(from)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}
	toRole, err := domain.ParseRole(to)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}
	if fromRole == toRole {
		return "", "", fmt.Errorf("%w: %s", ErrSameAccount, fromRole)
	}
	return fromRole, toRole, nil
}

// ValidateRoleOnboarding requires every share to be non-negative and the
// total to be positive.
func (v *LedgerValidator) ValidateRoleOnboarding(user, seller, bank int64) error {
	var negative []string
	for _, share := range []struct {
		role  domain.Role
		value int64
	}{{domain.RoleUser, user}, {domain.RoleSeller, seller}, {domain.RoleBank, bank}} {
		if share.value < 0 {
			negative = append(negative, string(share.role))
		}
	}
	if len(negative) > 0 {
		return fmt.Errorf("%w: negative share for %s", ErrInvalidAmount, strings.Join(negative, ", "))
	}
	total, ok := domain.SumChecked(user, seller, bank)
	if !ok {
		return fmt.Errorf("%w: shares %d, %d and %d overflow their total", ErrInvalidAmount, user, seller, bank)
	}
	return v.ValidateAmount(total)
}
