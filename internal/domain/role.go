package domain

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleBank   Role = "bank"
)

var Roles = []Role{RoleUser, RoleSeller, RoleBank}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSeller, RoleBank:
		return true
	}
	return false
}

// RoleBalances is the combined three-party record. Like Record it is never
// mutated after it has been appended.
type RoleBalances struct {
	Seq         int64     `json:"seq"`
	User        int64     `json:"user"`
	Seller      int64     `json:"seller"`
	Bank        int64     `json:"bank"`
	CommitID    string    `json:"txHash,omitempty"`
	CommittedAt time.Time `json:"committedAt"`
}

func (b *RoleBalances) Clone() *RoleBalances {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

func (b *RoleBalances) Get(r Role) int64 {
	switch r {
	case RoleUser:
		return b.User
	case RoleSeller:
		return b.Seller
	case RoleBank:
		return b.Bank
	}
	return 0
}

func (b *RoleBalances) Set(r Role, v int64) {
	switch r {
	case RoleUser:
		b.User = v
	case RoleSeller:
		b.Seller = v
	case RoleBank:
		b.Bank = v
	}
}

func (b *RoleBalances) Total() int64 {
	return b.User + b.Seller + b.Bank
}

// Moved returns a fresh, uncommitted triple with amount moved between roles.
func (b *RoleBalances) Moved(from, to Role, amount int64) (*RoleBalances, error) {
	next := &RoleBalances{User: b.User, Seller: b.Seller, Bank: b.Bank}

	fromValue, ok := SubtractChecked(next.Get(from), amount)
	if !ok {
		return nil, fmt.Errorf("%w: %s balance %d minus %d", ErrOverflow, from, next.Get(from), amount)
	}
	toValue, ok := AddChecked(next.Get(to), amount)
	if !ok {
		return nil, fmt.Errorf("%w: %s balance %d plus %d", ErrOverflow, to, next.Get(to), amount)
	}

	next.Set(from, fromValue)
	next.Set(to, toValue)
	return next, nil
}

// Plus returns a fresh, uncommitted triple with the shares of other added
// role by role.
func (b *RoleBalances) Plus(other *RoleBalances) (*RoleBalances, error) {
	next := &RoleBalances{}
	for _, r := range Roles {
		v, ok := AddChecked(b.Get(r), other.Get(r))
		if !ok {
			return nil, fmt.Errorf("%w: %s balance %d plus %d", ErrOverflow, r, b.Get(r), other.Get(r))
		}
		next.Set(r, v)
	}
	return next, nil
}

func (b *RoleBalances) Commit(commitID string, at time.Time) {
	b.CommitID = commitID
	b.CommittedAt = at
}
